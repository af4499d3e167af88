package impersonate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/buffer"
	"github.com/WhileEndless/go-impersonate/pkg/config"
	"github.com/WhileEndless/go-impersonate/pkg/connector"
	"github.com/WhileEndless/go-impersonate/pkg/cookiejar"
	"github.com/WhileEndless/go-impersonate/pkg/decode"
	"github.com/WhileEndless/go-impersonate/pkg/dispatcher"
	"github.com/WhileEndless/go-impersonate/pkg/emulation"
	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/h1"
	"github.com/WhileEndless/go-impersonate/pkg/log"
	"github.com/WhileEndless/go-impersonate/pkg/pool"
	"github.com/WhileEndless/go-impersonate/pkg/proxy"
	"github.com/WhileEndless/go-impersonate/pkg/redirect"
	"github.com/WhileEndless/go-impersonate/pkg/state"
)

// Client is a configured, reusable HTTP client bound to one hot-swappable
// state.Snapshot. A Client is safe for concurrent use.
type Client struct {
	opts   *config.Options
	state  *state.Cell[*state.Snapshot]
	pool   *pool.Pool
	keyLog *os.File    // SSLKEYLOGFILE sink, nil unless opts.KeyLogFile is set
	logger *log.Logger // connection-lifecycle diagnostics sink, nil unless opts.Logger is set
}

// New builds a Client from opts. A nil opts uses config.DefaultOptions().
func New(opts *config.Options) (*Client, error) {
	if opts == nil {
		opts = config.DefaultOptions()
	}
	if err := config.Validate(opts); err != nil {
		return nil, err
	}

	profileName := opts.Profile
	if profileName == "" {
		profileName = "Chrome131"
	}
	prof, ok := emulation.Lookup(profileName)
	if !ok {
		return nil, errors.NewBuilderError(fmt.Sprintf("unknown emulation profile %q", profileName))
	}

	var matcher *proxy.Matcher
	if opts.ProxyFromEnv {
		m, err := proxy.FromEnvironment()
		if err != nil {
			return nil, err
		}
		matcher = m
	}

	var jar *cookiejar.Jar
	if opts.CookiesEnabled {
		jar = cookiejar.New()
	}

	snap := &state.Snapshot{
		Profile:            &prof,
		Jar:                jar,
		Proxies:            matcher,
		AcceptEncodings:    append([]string(nil), opts.AcceptEncodings...),
		FollowRedirect:     opts.FollowRedirect,
		MaxRedirects:       opts.MaxRedirects,
		RefererOn:          opts.RefererOn,
		HTTPSOnly:          opts.HTTPSOnly,
		ConnTimeout:        opts.ConnTimeout,
		ReadTimeout:        opts.ReadTimeout,
		WriteTimeout:       opts.WriteTimeout,
		HTTP2MaxRetries:    opts.HTTP2MaxRetries,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		ReuseConnection:    opts.ReuseConnection,
	}
	if opts.Proxy != nil {
		snap.Proxies = &proxy.Matcher{HTTPProxy: opts.Proxy, HTTPSProxy: opts.Proxy}
	}

	var keyLog *os.File
	if opts.KeyLogFile != "" {
		f, err := os.OpenFile(opts.KeyLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, errors.NewIOError("open key log file", err)
		}
		keyLog = f
	}

	return &Client{
		opts:   opts,
		state:  state.NewCell(snap),
		pool:   pool.New(pool.Config{MaxIdlePerKey: opts.MaxIdleConnsPerHost, IdleTimeout: opts.IdleConnTimeout}),
		keyLog: keyLog,
		logger: opts.Logger,
	}, nil
}

// SetProfile hot-swaps the active emulation profile; in-flight requests
// finish with whichever profile they started under.
func (c *Client) SetProfile(name string) error {
	prof, ok := emulation.Lookup(name)
	if !ok {
		return errors.NewBuilderError(fmt.Sprintf("unknown emulation profile %q", name))
	}
	next := c.state.Load().Clone()
	next.Profile = &prof
	c.state.Store(next)
	return nil
}

// Update returns a hot-reconfigure handle seeded from the client's current
// snapshot; Apply() publishes the derived snapshot atomically.
func (c *Client) Update() *Update {
	return &Update{client: c, next: c.state.Load().Clone()}
}

// Clone returns a new Client sharing this one's connection pool but with an
// independent configuration cell, so Updates made on the clone (or the
// original) never affect the other.
func (c *Client) Clone() *Client {
	return &Client{
		opts:   c.opts,
		state:  state.NewCell(c.state.Load().Clone()),
		pool:   c.pool,
		keyLog: c.keyLog,
		logger: c.logger,
	}
}

// Close releases pooled connections, stops background goroutines, and
// closes the key log file if one is open.
func (c *Client) Close() error {
	err := c.pool.Close()
	if c.keyLog != nil {
		if cerr := c.keyLog.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Get returns a RequestBuilder for a GET request.
func (c *Client) Get(rawURL string) *RequestBuilder { return c.Request(http.MethodGet, rawURL) }

// Post returns a RequestBuilder for a POST request.
func (c *Client) Post(rawURL string) *RequestBuilder { return c.Request(http.MethodPost, rawURL) }

// Put returns a RequestBuilder for a PUT request.
func (c *Client) Put(rawURL string) *RequestBuilder { return c.Request(http.MethodPut, rawURL) }

// Patch returns a RequestBuilder for a PATCH request.
func (c *Client) Patch(rawURL string) *RequestBuilder { return c.Request(http.MethodPatch, rawURL) }

// Delete returns a RequestBuilder for a DELETE request.
func (c *Client) Delete(rawURL string) *RequestBuilder {
	return c.Request(http.MethodDelete, rawURL)
}

// Head returns a RequestBuilder for a HEAD request.
func (c *Client) Head(rawURL string) *RequestBuilder { return c.Request(http.MethodHead, rawURL) }

// Request returns a RequestBuilder for an arbitrary method.
func (c *Client) Request(method, rawURL string) *RequestBuilder {
	return &RequestBuilder{
		client:  c,
		method:  method,
		rawURL:  rawURL,
		headers: make(http.Header),
	}
}

// Websocket returns a WebSocketRequestBuilder for an upgrade to ws(s)://rawURL.
func (c *Client) Websocket(rawURL string) *WebSocketRequestBuilder {
	return &WebSocketRequestBuilder{client: c, rawURL: rawURL}
}

// WireRequest is a protocol-agnostic request the facade can execute
// directly via Execute.
type WireRequest struct {
	Method      string
	URL         string
	Headers     http.Header
	HeaderOrder []string // optional override of the profile's header order

	Body Body

	Timeout         time.Duration
	NoRedirect      bool
	AcceptEncodings []string // nil inherits the client's snapshot
	Proxy           *ProxyConfig
}

// Execute sends req directly, following redirects per the client's current
// snapshot, bypassing the RequestBuilder convenience API.
func (c *Client) Execute(ctx context.Context, req *WireRequest) (*Response, error) {
	rb := &RequestBuilder{
		client:          c,
		method:          req.Method,
		rawURL:          req.URL,
		headers:         make(http.Header),
		headerOrder:     req.HeaderOrder,
		body:            req.Body,
		noRedirect:      req.NoRedirect,
		acceptEncodings: req.AcceptEncodings,
		proxy:           req.Proxy,
		timeout:         req.Timeout,
	}
	if req.Headers != nil {
		rb.headers = req.Headers.Clone()
	}
	return rb.Send(ctx)
}

func (c *Client) doOnce(ctx context.Context, snap *state.Snapshot, method string, target *url.URL, headers http.Header, body []byte, acceptEncodings []string, proxyOverride *connector.ProxyConfig) (*Response, error) {
	host := target.Hostname()
	port := portFor(target)
	path := target.RequestURI()

	if acceptEncodings == nil {
		acceptEncodings = snap.AcceptEncodings
	}
	if headers.Get("Accept-Encoding") == "" && headers.Get("Range") == "" && len(acceptEncodings) > 0 {
		headers.Set("Accept-Encoding", decode.AcceptEncodingHeader(acceptEncodings))
	}

	fields := orderedHeaders(snap.Profile, headers, host, len(body))

	if snap.Jar != nil && headers.Get("Cookie") == "" {
		for _, ck := range snap.Jar.Cookies(target) {
			fields = append(fields, h1.HeaderField{Name: "Cookie", Value: ck.Name + "=" + ck.Value})
		}
	}

	var proxyCfg *connector.ProxyConfig
	if proxyOverride != nil {
		proxyCfg = proxyOverride
	} else if snap.Proxies != nil {
		proxyCfg = snap.Proxies.For(target.Scheme, host)
	}

	var keyLogWriter io.Writer
	if c.keyLog != nil {
		keyLogWriter = c.keyLog
	}

	d := dispatcher.New(snap.Profile, c.pool)
	dreq := &dispatcher.Request{
		Method:             method,
		Scheme:             target.Scheme,
		Host:               host,
		Port:               port,
		Path:               path,
		Headers:            fields,
		Body:               body,
		InsecureSkipVerify: snap.InsecureSkipVerify,
		ConnTimeout:        snap.ConnTimeout,
		ReadTimeout:        snap.ReadTimeout,
		WriteTimeout:       snap.WriteTimeout,
		ReuseConnection:    snap.ReuseConnection,
		Proxy:              proxyCfg,
		Network:            snap.Network,
		MaxH2Retries:       snap.HTTP2MaxRetries,
		KeyLog:             keyLogWriter,
		Logger:             c.logger,
	}

	result, err := d.Do(ctx, dreq)
	if err != nil {
		return nil, err
	}

	resp, err := normalize(result, target, acceptEncodings)
	if err != nil {
		return nil, err
	}

	if snap.Jar != nil {
		if setCookies := resp.Headers.Values("Set-Cookie"); len(setCookies) > 0 {
			hdr := http.Header{"Set-Cookie": setCookies}
			parsed := (&http.Response{Header: hdr}).Cookies()
			snap.Jar.SetCookies(target, parsed)
		}
	}

	return resp, nil
}

// orderedHeaders merges the profile's default header template with
// caller-supplied overrides, producing an ordered field list: profile
// order first (caller overrides substituted in place), then every header
// the order does not name (caller-only headers and unlisted defaults) in
// alphabetical order, finally Content-Length if there's a body.
func orderedHeaders(profile *emulation.Profile, extra http.Header, host string, bodyLen int) []h1.HeaderField {
	defaults := http.Header{}
	if profile != nil && profile.Headers != nil {
		defaults = profile.Headers()
	}
	for k, v := range extra {
		defaults[k] = v
	}

	order := []string{"host"}
	if profile != nil {
		order = append(order, profile.HeaderOrder...)
	}

	var fields []h1.HeaderField
	fields = append(fields, h1.HeaderField{Name: "Host", Value: host})

	sent := map[string]bool{"host": true}
	for _, name := range order {
		if name == "host" {
			continue
		}
		canon := http.CanonicalHeaderKey(name)
		if vals, ok := defaults[canon]; ok {
			for _, v := range vals {
				fields = append(fields, h1.HeaderField{Name: canon, Value: v})
			}
			sent[strings.ToLower(name)] = true
		}
	}
	var rest []string
	for name := range defaults {
		if !sent[strings.ToLower(name)] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		for _, v := range defaults[name] {
			fields = append(fields, h1.HeaderField{Name: name, Value: v})
		}
	}

	if bodyLen > 0 {
		fields = append(fields, h1.HeaderField{Name: "Content-Length", Value: strconv.Itoa(bodyLen)})
	}
	return fields
}

func normalize(result *dispatcher.Result, target *url.URL, acceptEncodings []string) (*Response, error) {
	resp := &Response{
		NegotiatedProtocol: result.Protocol,
		ConnectionReused:   result.ReusedConn,
		URL:                target,
		Timings:            result.Metrics,
	}
	if !result.ReusedConn && result.TLSVersion != 0 {
		resp.TLS = &TLSInfo{
			Version:          result.TLSVersion,
			CipherSuite:      result.CipherSuite,
			NegotiatedALPN:   result.NegotiatedALPN,
			PeerCertificates: result.PeerCertificates,
		}
	}

	switch result.Protocol {
	case "h1":
		h := result.H1
		resp.StatusCode = h.StatusCode
		resp.Status = h.StatusLine
		resp.HTTPVersion = h.HTTPVersion
		resp.Headers = toHTTPHeader(h.Headers)
		resp.Raw = h.Raw
		decoded, err := decodeIfEnabled(resp.Headers, drain(h.Body), acceptEncodings)
		if err != nil {
			return nil, err
		}
		resp.Body = buffer.NewWithData(decoded)
	case "h2":
		h := result.H2
		resp.StatusCode = h.Status
		resp.Status = fmt.Sprintf("%d %s", h.Status, h.StatusText)
		resp.HTTPVersion = "HTTP/2"
		resp.Headers = toHTTPHeader(h.Headers)
		resp.Raw = buffer.NewWithData(h.Body)
		decoded, err := decodeIfEnabled(resp.Headers, h.Body, acceptEncodings)
		if err != nil {
			return nil, err
		}
		resp.Body = buffer.NewWithData(decoded)
	default:
		return nil, errors.NewRequestError("dispatch", fmt.Errorf("unknown protocol %q", result.Protocol))
	}
	return resp, nil
}

// decodeIfEnabled decodes body only if Content-Encoding exactly matches one
// of the enabled codings; otherwise the body passes through
// unchanged and Content-Encoding/Content-Length are left intact.
func decodeIfEnabled(headers http.Header, body []byte, enabled []string) ([]byte, error) {
	enc := headers.Get("Content-Encoding")
	if enc == "" {
		return body, nil
	}
	if !decode.Enabled(enabled, enc) {
		return body, nil
	}
	decoded, err := decode.Decode(enc, body)
	if err != nil {
		return nil, err
	}
	headers.Del("Content-Encoding")
	headers.Del("Content-Length")
	return decoded, nil
}

// redirectPolicy builds a redirect.Policy from the client's snapshot.
func redirectPolicy(snap *state.Snapshot) redirect.Policy {
	return redirect.Policy{MaxRedirects: snap.MaxRedirects, HTTPSOnly: snap.HTTPSOnly}
}
