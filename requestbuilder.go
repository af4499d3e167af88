package impersonate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/redirect"
)

// RequestBuilder accumulates one request's parameters before Send.
type RequestBuilder struct {
	client *Client

	method string
	rawURL string

	headers     http.Header
	headerOrder []string

	body Body

	timeout         time.Duration
	noRedirect      bool
	acceptEncodings []string
	proxy           *ProxyConfig
}

// Header sets a single header value, replacing any existing value.
func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.headers.Set(key, value)
	return b
}

// Headers merges h into the request's header set.
func (b *RequestBuilder) Headers(h http.Header) *RequestBuilder {
	for k, v := range h {
		b.headers[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return b
}

// Body sets a raw, replayable request body.
func (b *RequestBuilder) Body(data []byte) *RequestBuilder {
	b.body = BytesBody(data)
	return b
}

// BodyReader sets a one-shot streamed request body. Because r can only be
// read once, a 307/308 redirect will not replay it — Send treats this
// body as non-reusable.
func (b *RequestBuilder) BodyReader(r io.Reader) *RequestBuilder {
	b.body = StreamBody(r)
	return b
}

// Form sets the request body to a URL-encoded form and sets Content-Type
// accordingly.
func (b *RequestBuilder) Form(values url.Values) *RequestBuilder {
	b.body = BytesBody([]byte(values.Encode()))
	b.headers.Set("Content-Type", "application/x-www-form-urlencoded")
	return b
}

// JSON marshals v and sets it as the request body with a JSON Content-Type.
func (b *RequestBuilder) JSON(v interface{}) *RequestBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		// Deferred to Send so JSON keeps the fluent chain; marshal errors
		// on caller-controlled values are rare enough not to warrant a
		// separate error-returning variant.
		b.body = Body{}
		return b
	}
	b.body = BytesBody(data)
	b.headers.Set("Content-Type", "application/json")
	return b
}

// Timeout bounds this request through its context: dialing, the TLS
// handshake and the HTTP/2 response loop observe it. An HTTP/1 exchange on
// an established connection is bounded by the client's read and write
// timeouts, not by this value.
func (b *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	b.timeout = d
	return b
}

// NoRedirect disables redirect-following for this request only, regardless
// of the client's FollowRedirect setting.
func (b *RequestBuilder) NoRedirect() *RequestBuilder {
	b.noRedirect = true
	return b
}

// AcceptEncodings overrides the client's negotiated codings for this
// request only.
func (b *RequestBuilder) AcceptEncodings(codings ...string) *RequestBuilder {
	b.acceptEncodings = codings
	return b
}

// Proxy overrides the client's proxy selection for this request only.
func (b *RequestBuilder) Proxy(p *ProxyConfig) *RequestBuilder {
	b.proxy = p
	return b
}

// Send issues the request, following redirects per the client's current
// snapshot unless NoRedirect was called. The snapshot is loaded once at
// the start of Send so an in-flight request is unaffected by a concurrent
// Update.
func (b *RequestBuilder) Send(ctx context.Context) (*Response, error) {
	target, err := url.Parse(b.rawURL)
	if err != nil {
		return nil, errors.NewURLError(b.rawURL, err)
	}

	snap := b.client.state.Load()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	policy := redirectPolicy(snap)
	follow := snap.FollowRedirect && !b.noRedirect

	method := b.method
	headers := b.headers.Clone()
	body := b.body

	var history []*url.URL
	var hops []redirect.Hop

	for {
		history = append(history, target)

		if snap.RefererOn && len(hops) > 0 {
			from := hops[len(hops)-1].From
			if strings.EqualFold(from.Scheme, target.Scheme) && strings.EqualFold(from.Host, target.Host) {
				headers.Set("Referer", from.String())
			}
		}

		reusable := body.Reusable()
		data, err := body.materialize()
		if err != nil {
			return nil, err
		}
		if body.kind == BodyStream {
			// A stream is consumed exactly once; clear it so a later hop
			// that reuses the same method never resends a drained reader.
			body = Body{}
		}

		resp, err := b.client.doOnce(ctx, snap, method, target, headers, data, b.acceptEncodings, b.proxy)
		if err != nil {
			return nil, err
		}
		resp.Redirects = hops

		if !follow {
			return resp, nil
		}

		location := resp.Headers.Get("Location")
		nextURL, nextMethod, nextHeaders, ok, err := redirect.Next(policy, target, method, headers, resp.StatusCode, location, reusable)
		if err != nil {
			return nil, err
		}
		if !ok {
			return resp, nil
		}
		if err := redirect.CheckLimit(policy, len(hops)+1, history, nextURL); err != nil {
			return nil, err
		}

		hops = append(hops, redirect.Hop{From: target, To: nextURL, Status: resp.StatusCode})
		b.client.logger.Debug("following redirect", "from", target.String(), "to", nextURL.String(), "status", resp.StatusCode)

		if nextMethod != method {
			body = Body{}
		}
		target, method, headers = nextURL, nextMethod, nextHeaders
	}
}
