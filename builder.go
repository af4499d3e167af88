package impersonate

import (
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/config"
	"github.com/WhileEndless/go-impersonate/pkg/log"
)

// ClientBuilder fluently assembles config.Options before constructing a
// Client.
type ClientBuilder struct {
	opts *config.Options
}

// NewBuilder returns a ClientBuilder seeded with config.DefaultOptions().
func NewBuilder() *ClientBuilder {
	return &ClientBuilder{opts: config.DefaultOptions()}
}

// Profile sets the emulation profile to impersonate.
func (b *ClientBuilder) Profile(name string) *ClientBuilder {
	b.opts.Profile = name
	return b
}

// Timeouts sets connect/read/write timeouts.
func (b *ClientBuilder) Timeouts(conn, read, write time.Duration) *ClientBuilder {
	b.opts.ConnTimeout = conn
	b.opts.ReadTimeout = read
	b.opts.WriteTimeout = write
	return b
}

// ReuseConnections toggles connection pooling and sets the idle pool size.
func (b *ClientBuilder) ReuseConnections(enabled bool, maxIdlePerHost int, idleTimeout time.Duration) *ClientBuilder {
	b.opts.ReuseConnection = enabled
	b.opts.MaxIdleConnsPerHost = maxIdlePerHost
	b.opts.IdleConnTimeout = idleTimeout
	return b
}

// InsecureSkipVerify disables TLS certificate verification.
func (b *ClientBuilder) InsecureSkipVerify(skip bool) *ClientBuilder {
	b.opts.InsecureSkipVerify = skip
	return b
}

// KeyLogFile sets an SSLKEYLOGFILE-style path for external TLS decryption.
func (b *ClientBuilder) KeyLogFile(path string) *ClientBuilder {
	b.opts.KeyLogFile = path
	return b
}

// Proxy sets an explicit proxy, disabling environment auto-detection.
func (b *ClientBuilder) Proxy(p *ProxyConfig) *ClientBuilder {
	b.opts.Proxy = p
	b.opts.ProxyFromEnv = false
	return b
}

// ProxyFromEnvironment enables HTTP_PROXY/HTTPS_PROXY/ALL_PROXY/NO_PROXY
// auto-detection. Enabled by default.
func (b *ClientBuilder) ProxyFromEnvironment(enabled bool) *ClientBuilder {
	b.opts.ProxyFromEnv = enabled
	if enabled {
		b.opts.Proxy = nil
	}
	return b
}

// FollowRedirect toggles redirect-following and sets the hop limit.
func (b *ClientBuilder) FollowRedirect(follow bool, maxRedirects int) *ClientBuilder {
	b.opts.FollowRedirect = follow
	b.opts.MaxRedirects = maxRedirects
	return b
}

// HTTPSOnly rejects redirects whose next URL is not https.
func (b *ClientBuilder) HTTPSOnly(enabled bool) *ClientBuilder {
	b.opts.HTTPSOnly = enabled
	return b
}

// RefererOn attaches a Referer header on same-origin, https-preserving
// redirects.
func (b *ClientBuilder) RefererOn(enabled bool) *ClientBuilder {
	b.opts.RefererOn = enabled
	return b
}

// Cookies toggles automatic cookie jar handling.
func (b *ClientBuilder) Cookies(enabled bool) *ClientBuilder {
	b.opts.CookiesEnabled = enabled
	return b
}

// AcceptEncodings sets the content-codings negotiated via Accept-Encoding
// and transparently decoded.
func (b *ClientBuilder) AcceptEncodings(codings ...string) *ClientBuilder {
	b.opts.AcceptEncodings = codings
	return b
}

// HTTP2MaxRetries bounds safely-retryable H/2 stream-error retries.
func (b *ClientBuilder) HTTP2MaxRetries(n int) *ClientBuilder {
	b.opts.HTTP2MaxRetries = n
	return b
}

// BodyMemLimit sets Options.BodyMemLimit, which Build rejects when
// negative. The value is not passed to the response reader: response
// bodies are buffered with pkg/buffer's default 4MB threshold.
func (b *ClientBuilder) BodyMemLimit(limit int64) *ClientBuilder {
	b.opts.BodyMemLimit = limit
	return b
}

// Logger sets the sink for connection-lifecycle diagnostics (dial, proxy
// connect, TLS handshake). Nil (the default) logs nothing.
func (b *ClientBuilder) Logger(l *log.Logger) *ClientBuilder {
	b.opts.Logger = l
	return b
}

// Build validates the accumulated Options and constructs a Client.
func (b *ClientBuilder) Build() (*Client, error) {
	return New(b.opts)
}
