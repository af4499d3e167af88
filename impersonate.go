// Package impersonate is a programmable HTTP client that reproduces a real
// browser's or HTTP library's network fingerprint: TLS ClientHello
// extension order and cipher list, ALPN/ALPS, HTTP/2 SETTINGS order and
// pseudo-header order, and default header set — not just its User-Agent.
//
// Generalizes this module's original raw-socket Sender/Client pair into a
// profile-driven client: callers no longer hand-assemble request bytes,
// they build a Request (directly, or via the RequestBuilder returned by
// Client.Get/Post/.../Request) and the active emulation.Profile supplies
// the wire details a fingerprinting target checks.
package impersonate

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/WhileEndless/go-impersonate/pkg/buffer"
	"github.com/WhileEndless/go-impersonate/pkg/config"
	"github.com/WhileEndless/go-impersonate/pkg/connector"
	"github.com/WhileEndless/go-impersonate/pkg/emulation"
	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/redirect"
	"github.com/WhileEndless/go-impersonate/pkg/timing"
)

// Version identifies this module's release.
const Version = "0.1.0"

// Re-exported types for callers that don't want to import sub-packages
// directly.
type (
	Options     = config.Options
	ProxyConfig = connector.ProxyConfig
	Metrics     = timing.Metrics
	Error       = errors.Error
	Buffer      = buffer.Buffer
	Profile     = emulation.Profile
)

// Re-exported error-type constants.
const (
	ErrorTypeBuilder  = errors.ErrorTypeBuilder
	ErrorTypeURL      = errors.ErrorTypeURL
	ErrorTypeConnect  = errors.ErrorTypeConnect
	ErrorTypeRequest  = errors.ErrorTypeRequest
	ErrorTypeRedirect = errors.ErrorTypeRedirect
	ErrorTypeDecode   = errors.ErrorTypeDecode
	ErrorTypeTimedOut = errors.ErrorTypeTimedOut
	ErrorTypeStatus   = errors.ErrorTypeStatus
	ErrorTypeUpgrade  = errors.ErrorTypeUpgrade
	ErrorTypeProxy    = errors.ErrorTypeProxy
)

// Profiles lists every catalogued emulation profile identifier.
func Profiles() []string { return emulation.Names() }

// TLSInfo is the peer-certificate/negotiation information attached to a
// Response when available.
type TLSInfo struct {
	Version          uint16
	CipherSuite      uint16
	NegotiatedALPN   string
	PeerCertificates [][]byte // DER-encoded, leaf first
}

// Response is a fully-read HTTP response, protocol-normalized regardless
// of whether it traveled over HTTP/1 or HTTP/2.
type Response struct {
	StatusCode  int
	Status      string
	HTTPVersion string
	Headers     http.Header
	Body        *Buffer // decoded (Content-Encoding already stripped)
	Raw         *Buffer // as received on the wire, pre-decode

	NegotiatedProtocol string // "h1" or "h2"
	ConnectionReused   bool

	URL       *url.URL
	Redirects []redirect.Hop

	Timings *Metrics
	TLS     *TLSInfo

	upgradeConn   net.Conn
	upgradeTarget *url.URL
}

// StatusOK reports whether the response's status is in the 2xx range.
func (r *Response) StatusOK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Header returns the response's header map.
func (r *Response) Header() http.Header { return r.Headers }

// Bytes returns the decoded response body.
func (r *Response) Bytes() []byte {
	if r.Body == nil {
		return nil
	}
	return r.Body.Bytes()
}

// Text returns the decoded response body as a string.
func (r *Response) Text() string { return string(r.Bytes()) }

// JSON unmarshals the decoded response body into v.
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Bytes(), v)
}

// ErrorForStatus returns a Status-kind error if the response is not 2xx —
// a non-2xx status is data, not an error, unless the caller asks.
func (r *Response) ErrorForStatus() error {
	if r.StatusOK() {
		return nil
	}
	return errors.NewStatusError(r.StatusCode, r.Status).WithURL(r.URL)
}

func portFor(u *url.URL) int {
	if p := u.Port(); p != "" {
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err == nil {
			return n
		}
	}
	if u.Scheme == "https" || u.Scheme == "wss" {
		return 443
	}
	return 80
}

func toHTTPHeader(m map[string][]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h[http.CanonicalHeaderKey(k)] = v
	}
	return h
}

func drain(b *buffer.Buffer) []byte {
	if b == nil {
		return nil
	}
	return b.Bytes()
}
