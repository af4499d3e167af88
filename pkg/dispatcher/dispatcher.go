// Package dispatcher picks HTTP/1.1 or HTTP/2 per the ALPN negotiated
// during the uTLS handshake and sends one request over the right wire
// protocol, pooling connections per authority.
//
// Generalizes this module's original Client.Do (single-protocol,
// HTTP/1-only raw-socket sender) into a protocol-dispatching layer sitting
// in front of both pkg/h1 and the adapted pkg/http2 client.
package dispatcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/connector"
	"github.com/WhileEndless/go-impersonate/pkg/emulation"
	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/h1"
	ihttp2 "github.com/WhileEndless/go-impersonate/pkg/http2"
	"github.com/WhileEndless/go-impersonate/pkg/log"
	"github.com/WhileEndless/go-impersonate/pkg/pool"
	"github.com/WhileEndless/go-impersonate/pkg/timing"
)

// Request is protocol-agnostic input to Do; the dispatcher translates it
// into an h1.Message or an http2.Request depending on the negotiated ALPN.
type Request struct {
	Method  string
	Scheme  string
	Host    string
	Port    int
	Path    string
	Headers []h1.HeaderField // ordered, per-profile header order already applied
	Body    []byte

	ServerName         string
	ConnectIP          string
	InsecureSkipVerify bool
	ConnTimeout        time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ReuseConnection    bool
	Proxy              *connector.ProxyConfig
	Network            connector.NetworkConfig
	KeyLog             io.Writer   // NSS SSLKEYLOGFILE sink, nil to disable
	Logger             *log.Logger // connection-lifecycle diagnostics sink; nil logs nothing

	ForceHTTP1 bool // disable H2 negotiation entirely (ALPN offers only http/1.1)

	// MaxH2Retries bounds how many times a safely-retryable H/2 stream
	// error (GOAWAY NO_ERROR, REFUSED_STREAM) is retried on a fresh
	// connection before giving up. 0 disables retries.
	MaxH2Retries int
}

// Result carries the response plus the metadata an outer Response wrapper
// needs (negotiated protocol, connection reuse, timings).
type Result struct {
	Protocol   string // "h1" or "h2"
	H1         *h1.Response
	H2         *ihttp2.Response
	Metrics    *timing.Metrics
	ReusedConn bool

	// TLS fields are populated only when this call performed the
	// handshake itself; a reused pooled connection leaves them zero since
	// the pool does not retain the original connector.Result.
	TLSVersion       uint16
	CipherSuite      uint16
	NegotiatedALPN   string
	PeerCertificates [][]byte
}

// Dispatcher sends requests over connections held in a pool it is given
// (and may share with other Dispatchers); it keeps no per-authority state
// of its own.
type Dispatcher struct {
	pool    *pool.Pool
	h2      *ihttp2.Client
	profile *emulation.Profile
}

// New builds a Dispatcher bound to one emulation profile, sending through
// p. Client builds one per request from its current profile, all sharing
// the Client's pool; authorityKey keeps their connections apart.
func New(profile *emulation.Profile, p *pool.Pool) *Dispatcher {
	opts := ihttp2.DefaultOptions()
	if profile != nil {
		h2s := profile.HTTP2
		if h2s.HeaderTableSize > 0 {
			opts.HeaderTableSize = h2s.HeaderTableSize
		}
		if h2s.MaxConcurrentStreams > 0 {
			opts.MaxConcurrentStreams = h2s.MaxConcurrentStreams
		}
		if h2s.InitialWindowSize > 0 {
			opts.InitialWindowSize = h2s.InitialWindowSize
		}
		if h2s.MaxFrameSize > 0 {
			opts.MaxFrameSize = h2s.MaxFrameSize
		}
		if h2s.MaxHeaderListSize > 0 {
			opts.MaxHeaderListSize = h2s.MaxHeaderListSize
		}
		opts.PseudoHeaderOrder = h2s.PseudoHeaderOrder
		opts.HeaderOrder = h2s.HeaderOrder
		if len(opts.HeaderOrder) == 0 {
			opts.HeaderOrder = profile.HeaderOrder
		}
		opts.SettingsOrder = h2s.SettingsOrder
		opts.UnknownSettings = h2s.UnknownSettings
		opts.DisableServerPush = !h2s.EnablePush
	}
	return &Dispatcher{
		pool:    p,
		h2:      ihttp2.NewClient(opts),
		profile: profile,
	}
}

// authorityKey identifies the pool slot a request's connection belongs in.
// Beyond host:port(+proxy), it folds in the active profile's identity and
// the request's network-bind identity: a connection dialed with one
// ClientHello fingerprint or one local-bind address must never be handed
// to a request running under a different one, even though both target the
// same remote authority. Without this, a Client.Update().Profile(...).Apply()
// mid-session would let a pooled connection TLS-fingerprinted under the
// old profile get reused under the new one.
func (d *Dispatcher) authorityKey(req *Request) string {
	key := net.JoinHostPort(req.Host, fmt.Sprintf("%d", req.Port))
	if req.Proxy != nil {
		key = req.Proxy.Type + "://" + req.Proxy.Host + ":" + fmt.Sprintf("%d", req.Proxy.Port) + "->" + key
	}
	return req.Scheme + "|" + profileIdentity(d.profile) + "|" + req.Network.Identity() + "|" + key
}

func profileIdentity(p *emulation.Profile) string {
	if p == nil {
		return "noprofile"
	}
	return p.Name
}

// Do dials (or reuses) a connection to req's authority and sends the
// request over whatever protocol ALPN negotiated. A GOAWAY(NO_ERROR) or
// REFUSED_STREAM failure on an H/2 connection is retried on a freshly
// dialed connection up to req.MaxH2Retries times — the failing connection
// is never reused, since it is already drain-only.
func (d *Dispatcher) Do(ctx context.Context, req *Request) (*Result, error) {
	timer := timing.NewTimer()

	for attempt := 0; ; attempt++ {
		result, err := d.doOnce(ctx, req, timer, attempt > 0)
		if err == nil {
			return result, nil
		}
		if attempt >= req.MaxH2Retries || !errors.IsRetryableH2Error(err) {
			return nil, err
		}
		req.Logger.Debug("retrying after safely-retryable h2 error", "host", req.Host, "port", req.Port, "attempt", attempt+1, "error", err)
	}
}

// doOnce performs exactly one connection-acquire-and-send attempt. forceFresh
// skips the pooled multiplexed connection — used by retries, since a stream
// error already marked that connection drain-only.
func (d *Dispatcher) doOnce(ctx context.Context, req *Request, timer *timing.Timer, forceFresh bool) (*Result, error) {
	authority := d.authorityKey(req)

	if !forceFresh {
		if conn, ok := d.pool.Multiplexed(authority); ok {
			h2conn, err := d.h2.Transport().ConnectWithConn(conn, authority, d.h2.Options())
			if err == nil {
				resp, err := d.sendH2(ctx, h2conn, req)
				if err == nil {
					return &Result{Protocol: "h2", H2: resp, Metrics: timer.GetMetrics(), ReusedConn: true}, nil
				}
				if errors.IsRetryableH2Error(err) {
					d.pool.ClearMultiplexed(authority)
					return nil, err
				}
				return nil, err
			}
			d.pool.ClearMultiplexed(authority)
		}

		if !req.ForceHTTP1 {
			if conn, ok := d.pool.Checkout(authority); ok {
				resp, err := d.sendH1(conn, req)
				if err != nil {
					conn.Close()
					d.pool.Discard(authority)
				} else if req.ReuseConnection {
					d.pool.Release(authority, conn)
				} else {
					conn.Close()
					d.pool.Discard(authority)
				}
				if err == nil {
					return &Result{Protocol: "h1", H1: resp, Metrics: timer.GetMetrics(), ReusedConn: true}, nil
				}
				// Fall through to a fresh dial: a pooled connection that
				// errored (for example one the server closed while idle)
				// is replaced by a newly dialed one. This second attempt
				// does not count against MaxH2Retries.
			} else {
				d.pool.Discard(authority)
			}
		}
	}

	plainText := req.Scheme == "http" && req.ForceHTTP1
	target := connector.Target{
		Host:               req.Host,
		Port:               req.Port,
		ServerName:         req.ServerName,
		ConnectIP:          req.ConnectIP,
		PlainText:          plainText,
		Proxy:              req.Proxy,
		Network:            req.Network,
		ConnTimeout:        req.ConnTimeout,
		InsecureSkipVerify: req.InsecureSkipVerify,
		KeyLog:             req.KeyLog,
		Logger:             req.Logger,
	}

	result, err := connector.Dial(ctx, target, d.profile, timer)
	if err != nil {
		return nil, err
	}
	d.pool.CountCreated()

	negotiated := result.NegotiatedProtocol
	if plainText {
		negotiated = "http/1.1"
	}

	if negotiated == "h2" {
		h2conn, err := d.h2.Transport().ConnectWithConn(result.Conn, authority, d.h2.Options())
		if err != nil {
			result.Conn.Close()
			return nil, errors.NewRequestError("h2-setup", err)
		}
		d.pool.SetMultiplexed(authority, result.Conn)
		resp, err := d.sendH2(ctx, h2conn, req)
		if err != nil {
			if errors.IsRetryableH2Error(err) {
				d.pool.ClearMultiplexed(authority)
			}
			return nil, err
		}
		return &Result{
			Protocol: "h2", H2: resp, Metrics: timer.GetMetrics(),
			TLSVersion: result.TLSVersion, CipherSuite: result.CipherSuite,
			NegotiatedALPN: result.NegotiatedProtocol, PeerCertificates: result.PeerCertificates,
		}, nil
	}

	resp, err := d.sendH1(result.Conn, req)
	if err != nil {
		result.Conn.Close()
		return nil, err
	}
	if req.ReuseConnection {
		d.pool.Release(authority, result.Conn)
	} else {
		result.Conn.Close()
	}
	return &Result{
		Protocol: "h1", H1: resp, Metrics: timer.GetMetrics(),
		TLSVersion: result.TLSVersion, CipherSuite: result.CipherSuite,
		NegotiatedALPN: result.NegotiatedProtocol, PeerCertificates: result.PeerCertificates,
	}, nil
}

func (d *Dispatcher) sendH1(conn net.Conn, req *Request) (*h1.Response, error) {
	msg := h1.Message{
		Method:  req.Method,
		Path:    req.Path,
		Headers: req.Headers,
		Body:    req.Body,
	}
	if req.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(req.WriteTimeout))
	}
	if err := h1.Write(conn, msg); err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(time.Time{})

	if req.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(req.ReadTimeout))
	}
	reader := bufio.NewReader(conn)
	return h1.Read(reader, strings.ToUpper(req.Method), h1.ReadOptions{})
}

func (d *Dispatcher) sendH2(ctx context.Context, conn *ihttp2.Connection, req *Request) (*ihttp2.Response, error) {
	headers := make(map[string]string, len(req.Headers))
	for _, h := range req.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}
	h2req := &ihttp2.Request{
		Method:    req.Method,
		Path:      req.Path,
		Authority: req.Host,
		Scheme:    req.Scheme,
		Headers:   headers,
		Body:      req.Body,
	}
	return d.h2.DoRequest(ctx, conn, h2req)
}
