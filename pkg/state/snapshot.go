package state

import (
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/connector"
	"github.com/WhileEndless/go-impersonate/pkg/cookiejar"
	"github.com/WhileEndless/go-impersonate/pkg/emulation"
	"github.com/WhileEndless/go-impersonate/pkg/proxy"
)

// Snapshot is the ClientState record: every piece of a Client's
// configuration that Update() can hot-swap in one atomic publish. Requests
// already in flight keep the *Snapshot they started with — a Cell never
// mutates the value it holds, only swaps the pointer.
type Snapshot struct {
	Profile *emulation.Profile

	Jar     *cookiejar.Jar // nil disables cookie attachment
	Proxies *proxy.Matcher // nil disables env/matcher-based proxy selection

	AcceptEncodings []string // negotiated via Accept-Encoding, insertion order
	FollowRedirect  bool
	MaxRedirects    int
	RefererOn       bool
	HTTPSOnly       bool

	ConnTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	HTTP2MaxRetries int

	InsecureSkipVerify bool
	ReuseConnection    bool

	Network connector.NetworkConfig
}

// Clone returns a shallow copy suitable as the base for a derived Snapshot;
// slices (AcceptEncodings) are copied so the derived value can be mutated
// independently of the snapshot readers may still be holding.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return &Snapshot{}
	}
	cp := *s
	if s.AcceptEncodings != nil {
		cp.AcceptEncodings = append([]string(nil), s.AcceptEncodings...)
	}
	return &cp
}
