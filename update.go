package impersonate

import (
	"fmt"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/cookiejar"
	"github.com/WhileEndless/go-impersonate/pkg/emulation"
	"github.com/WhileEndless/go-impersonate/pkg/errors"
	"github.com/WhileEndless/go-impersonate/pkg/proxy"
	"github.com/WhileEndless/go-impersonate/pkg/state"
)

// Update is a hot-reconfiguration handle: it accumulates changes on a copy
// of the Client's current snapshot and publishes them atomically with
// Apply.
type Update struct {
	client *Client
	next   *state.Snapshot
	err    error
}

// Profile swaps the active emulation profile.
func (u *Update) Profile(name string) *Update {
	prof, ok := emulation.Lookup(name)
	if !ok {
		u.err = errors.NewBuilderError(fmt.Sprintf("unknown emulation profile %q", name))
		return u
	}
	u.next.Profile = &prof
	return u
}

// Proxy sets a Matcher built from explicit proxy config, replacing any
// environment-derived matcher.
func (u *Update) Proxy(m *proxy.Matcher) *Update {
	u.next.Proxies = m
	return u
}

// CookieJar replaces the active cookie jar; nil disables cookie
// attachment entirely.
func (u *Update) CookieJar(j *cookiejar.Jar) *Update {
	u.next.Jar = j
	return u
}

// FollowRedirect toggles redirect-following.
func (u *Update) FollowRedirect(follow bool) *Update {
	u.next.FollowRedirect = follow
	return u
}

// MaxRedirects sets the redirect hop limit.
func (u *Update) MaxRedirects(n int) *Update {
	u.next.MaxRedirects = n
	return u
}

// HTTPSOnly toggles rejecting non-https redirect targets.
func (u *Update) HTTPSOnly(enabled bool) *Update {
	u.next.HTTPSOnly = enabled
	return u
}

// RefererOn toggles same-origin Referer attachment across redirects.
func (u *Update) RefererOn(enabled bool) *Update {
	u.next.RefererOn = enabled
	return u
}

// AcceptEncodings sets the codings pkg/decode negotiates and transparently
// decodes.
func (u *Update) AcceptEncodings(codings ...string) *Update {
	u.next.AcceptEncodings = codings
	return u
}

// Timeouts sets the per-connection, per-read, and per-write timeouts.
func (u *Update) Timeouts(conn, read, write time.Duration) *Update {
	u.next.ConnTimeout = conn
	u.next.ReadTimeout = read
	u.next.WriteTimeout = write
	return u
}

// HTTP2MaxRetries bounds safely-retryable H/2 stream-error retries.
func (u *Update) HTTP2MaxRetries(n int) *Update {
	u.next.HTTP2MaxRetries = n
	return u
}

// InsecureSkipVerify toggles TLS certificate verification.
func (u *Update) InsecureSkipVerify(skip bool) *Update {
	u.next.InsecureSkipVerify = skip
	return u
}

// ReuseConnection toggles whether successful connections are returned to
// the pool for reuse.
func (u *Update) ReuseConnection(reuse bool) *Update {
	u.next.ReuseConnection = reuse
	return u
}

// LocalAddr binds outgoing connections to a specific local IP address;
// empty lets the OS pick.
func (u *Update) LocalAddr(addr string) *Update {
	u.next.Network.LocalAddr = addr
	return u
}

// Interface binds outgoing connections to a network interface via
// SO_BINDTODEVICE (linux only; ignored elsewhere).
func (u *Update) Interface(name string) *Update {
	u.next.Network.Interface = name
	return u
}

// KeepAlive tunes TCP keepalive idle time, probe interval, and probe
// count for outgoing connections.
func (u *Update) KeepAlive(idle, interval time.Duration, count int) *Update {
	u.next.Network.KeepAliveIdle = idle
	u.next.Network.KeepAliveInterval = interval
	u.next.Network.KeepAliveCount = count
	return u
}

// NoDelay forces TCP_NODELAY on or off for outgoing connections.
func (u *Update) NoDelay(enabled bool) *Update {
	u.next.Network.NoDelay = &enabled
	return u
}

// NoDelayDefault reverts TCP_NODELAY to the OS default instead of forcing
// it either way.
func (u *Update) NoDelayDefault() *Update {
	u.next.Network.NoDelay = nil
	return u
}

// Apply publishes the accumulated changes atomically; existing in-flight
// requests are unaffected, new requests see the new snapshot immediately.
func (u *Update) Apply() error {
	if u.err != nil {
		return u.err
	}
	u.client.state.Store(u.next)
	return nil
}
