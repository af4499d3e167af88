// Package config holds the builder-time Options for a Client and their
// validation, in the same Options/DefaultOptions/Validate triad pattern
// pkg/http2.Options uses for one protocol layer; this is the client-wide
// superset.
package config

import (
	"fmt"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/connector"
	"github.com/WhileEndless/go-impersonate/pkg/constants"
	"github.com/WhileEndless/go-impersonate/pkg/log"
)

// Options configures a Client for its lifetime. Per-request overrides are
// layered on top at dispatch time; Options is what a fresh RequestBuilder
// inherits.
type Options struct {
	// Profile names the catalogued emulation.Profile to impersonate
	// (e.g. "Chrome131"). Empty uses the client's configured default.
	Profile string

	ConnTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ReuseConnection     bool
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	InsecureSkipVerify bool
	KeyLogFile         string // SSLKEYLOGFILE-style path for external decryption (debugging)

	Proxy          *connector.ProxyConfig
	ProxyFromEnv   bool
	FollowRedirect bool
	MaxRedirects   int

	CookiesEnabled bool

	BodyMemLimit int64 // validated but not applied; response reading uses pkg/buffer's default threshold

	// HTTPSOnly rejects any redirect whose next URL is not https.
	HTTPSOnly bool
	// RefererOn attaches a Referer header derived from the previous hop on
	// same-origin (https-preserving) redirects.
	RefererOn bool
	// AcceptEncodings lists the content-codings pkg/decode negotiates via
	// Accept-Encoding and transparently decodes, in insertion order.
	AcceptEncodings []string
	// HTTP2MaxRetries bounds safely-retryable H/2 stream-error retries.
	// Default 2.
	HTTP2MaxRetries int

	// Logger receives connection-lifecycle diagnostics (dial, proxy
	// connect, TLS handshake). Nil (the default) logs nothing.
	Logger *log.Logger
}

// DefaultOptions returns the Options a Client uses when none are given.
func DefaultOptions() *Options {
	return &Options{
		Profile:             "Chrome131",
		ConnTimeout:         constants.DefaultConnTimeout,
		ReadTimeout:         constants.DefaultReadTimeout,
		WriteTimeout:        constants.DefaultReadTimeout,
		ReuseConnection:     true,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     constants.DefaultIdleTimeout,
		ProxyFromEnv:        true,
		FollowRedirect:      true,
		MaxRedirects:        10,
		CookiesEnabled:      true,
		BodyMemLimit:        constants.DefaultBodyMemLimit,
		AcceptEncodings:     []string{"gzip", "deflate", "br", "zstd"},
		HTTP2MaxRetries:     2,
	}
}

// Validate checks Options for internally consistent, RFC-respecting
// values, mirroring the bounds this module's HTTP/2 layer enforces on its
// own Options.
func Validate(opts *Options) error {
	if opts == nil {
		return nil
	}
	if opts.MaxRedirects < 0 {
		return fmt.Errorf("config: MaxRedirects must not be negative, got %d", opts.MaxRedirects)
	}
	if opts.BodyMemLimit < 0 {
		return fmt.Errorf("config: BodyMemLimit must not be negative, got %d", opts.BodyMemLimit)
	}
	if opts.Proxy != nil && opts.ProxyFromEnv {
		return fmt.Errorf("config: Proxy and ProxyFromEnv are mutually exclusive")
	}
	if opts.ConnTimeout < 0 || opts.ReadTimeout < 0 || opts.WriteTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	if opts.HTTP2MaxRetries < 0 {
		return fmt.Errorf("config: HTTP2MaxRetries must not be negative, got %d", opts.HTTP2MaxRetries)
	}
	return nil
}
