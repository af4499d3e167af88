// Package redirect implements the client's redirect-following policy: which
// 3xx codes are followed, when method and body are preserved vs. dropped,
// cross-origin header stripping, and loop/limit detection.
//
// Built directly on net/url — URL resolution is net/url's job, so stdlib
// is the correct tool here rather than a gap.
package redirect

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/WhileEndless/go-impersonate/pkg/errors"
)

// Policy controls how redirects are followed.
type Policy struct {
	MaxRedirects int  // hop limit; 0 places no limit on the hop count
	HTTPSOnly    bool // reject any next URL that isn't https
}

// DefaultPolicy matches curl/browser behavior: up to 10 hops, 301/302/303
// on non-GET/HEAD rewrite to GET per RFC 9110 §15.4.2-4 compatibility note.
func DefaultPolicy() Policy {
	return Policy{MaxRedirects: 10}
}

// Hop describes one followed redirect for history/debugging.
type Hop struct {
	From   *url.URL
	To     *url.URL
	Status int
}

// Next computes the request to issue for the next hop given the previous
// request's URL/method/headers and the response status/Location.
// bodyReusable reports whether the current request body can be replayed; a
// non-reusable body on a 307/308 means the hop is not followed and the 3xx
// response is surfaced to the caller instead. Returns ok=false when the status isn't followed, including that case.
func Next(policy Policy, prevURL *url.URL, method string, headers http.Header, status int, location string, bodyReusable bool) (nextURL *url.URL, nextMethod string, nextHeaders http.Header, ok bool, err error) {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, "", nil, false, nil
	}

	if (status == http.StatusTemporaryRedirect || status == http.StatusPermanentRedirect) && !bodyReusable && method != http.MethodGet && method != http.MethodHead {
		return nil, "", nil, false, nil
	}

	if location == "" {
		return nil, "", nil, false, errors.NewRedirectError("redirect response missing Location header", nil, nil)
	}

	target, err := url.Parse(location)
	if err != nil {
		return nil, "", nil, false, errors.NewRedirectError("invalid redirect target", nil, err)
	}
	resolved := prevURL.ResolveReference(target)

	if policy.HTTPSOnly && !strings.EqualFold(resolved.Scheme, "https") {
		return nil, "", nil, false, errors.NewRedirectError("https_only: refusing to redirect to a non-https URL", resolved, nil)
	}

	nextMethod = method
	switch status {
	case http.StatusMovedPermanently, http.StatusFound:
		if method != http.MethodGet && method != http.MethodHead {
			nextMethod = http.MethodGet
		}
	case http.StatusSeeOther:
		if method != http.MethodHead {
			nextMethod = http.MethodGet
		}
	case http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		// method and body preserved unconditionally
	}

	nextHeaders = headers.Clone()
	if nextMethod != method {
		nextHeaders.Del("Content-Length")
		nextHeaders.Del("Content-Type")
		nextHeaders.Del("Content-Encoding")
		nextHeaders.Del("Transfer-Encoding")
	}
	if !sameOrigin(prevURL, resolved) {
		nextHeaders.Del("Authorization")
		nextHeaders.Del("Cookie")
		nextHeaders.Del("Proxy-Authorization")
		nextHeaders.Del("WWW-Authenticate")
	}
	if strings.EqualFold(prevURL.Scheme, "https") && !strings.EqualFold(resolved.Scheme, "https") {
		nextHeaders.Del("Referer")
	}

	return resolved, nextMethod, nextHeaders, true, nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

// CheckLimit returns an error once hopCount exceeds policy's MaxRedirects,
// or if target already appears in history (a redirect loop).
func CheckLimit(policy Policy, hopCount int, history []*url.URL, target *url.URL) error {
	if policy.MaxRedirects > 0 && hopCount > policy.MaxRedirects {
		return errors.NewRedirectError("too many redirects", target, nil)
	}
	for _, seen := range history {
		if seen.String() == target.String() {
			return errors.NewRedirectError("redirect loop detected", target, nil)
		}
	}
	return nil
}
