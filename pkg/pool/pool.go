// Package pool manages reusable connections keyed by an authority string
// the caller builds (pkg/dispatcher folds scheme, profile, local-bind
// identity, host:port and proxy into it). HTTP/1 connections are checked
// out exclusively; a single HTTP/2 connection per authority is held as a
// shared entry and stays resident until the caller clears it or it goes
// idle past the sweep threshold.
//
// Generalizes this module's original per-host idle-list pool (LIFO slice +
// sync.Cond + background sweep goroutine) to also hold a single multiplexed
// entry per authority for HTTP/2, instead of one pool shape per protocol.
package pool

import (
	"net"
	"sync"
	"time"

	"github.com/WhileEndless/go-impersonate/pkg/constants"
)

// Conn is anything the pool can track: a plain net.Conn for HTTP/1, or the
// raw connection under a shared HTTP/2 session. The pool only closes it;
// it does not check whether the connection is still alive.
type Conn interface {
	net.Conn
}

// Config controls idle-list sizing and sweep behavior.
type Config struct {
	MaxIdlePerKey  int           // cap on idle HTTP/1 connections per authority; 0 = unlimited
	MaxConnsPerKey int           // stored but not enforced: Checkout never blocks or refuses
	IdleTimeout    time.Duration // connections idle longer than this are swept
	SweepInterval  time.Duration
}

// DefaultConfig mirrors this module's historical defaults.
func DefaultConfig() Config {
	return Config{
		MaxIdlePerKey: 2,
		IdleTimeout:   constants.DefaultIdleTimeout,
		SweepInterval: constants.CleanupInterval,
	}
}

type idleEntry struct {
	conn     Conn
	lastUsed time.Time
}

// keyState is the per-authority bucket: an idle list for HTTP/1 exclusive
// connections, and (at most) one shared entry for HTTP/2 multiplexing.
type keyState struct {
	mu        sync.Mutex
	idle      []idleEntry
	active    int
	cond      *sync.Cond
	multiplex Conn // non-nil once an H2 connection is established for this key
	mplexUsed time.Time
}

func newKeyState() *keyState {
	ks := &keyState{idle: make([]idleEntry, 0, 4)}
	ks.cond = sync.NewCond(&ks.mu)
	return ks
}

// Pool is the authority-keyed connection pool.
type Pool struct {
	cfg  Config
	mu   sync.Mutex
	keys map[string]*keyState

	created uint64
	reused  uint64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New starts a Pool with its background sweep goroutine running.
func New(cfg Config) *Pool {
	if cfg.MaxIdlePerKey <= 0 {
		cfg.MaxIdlePerKey = 2
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = constants.DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = constants.CleanupInterval
	}
	p := &Pool{
		cfg:  cfg,
		keys: make(map[string]*keyState),
		stop: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

func (p *Pool) keyFor(authority string) *keyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	ks, ok := p.keys[authority]
	if !ok {
		ks = newKeyState()
		p.keys[authority] = ks
	}
	return ks
}

// Multiplexed returns the live HTTP/2 connection for authority, if any.
func (p *Pool) Multiplexed(authority string) (Conn, bool) {
	ks := p.keyFor(authority)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.multiplex == nil {
		return nil, false
	}
	ks.mplexUsed = time.Now()
	return ks.multiplex, true
}

// SetMultiplexed installs conn as authority's shared HTTP/2 connection.
// Replaces any prior entry without closing it — the caller owns that.
func (p *Pool) SetMultiplexed(authority string, conn Conn) {
	ks := p.keyFor(authority)
	ks.mu.Lock()
	ks.multiplex = conn
	ks.mplexUsed = time.Now()
	ks.mu.Unlock()
}

// ClearMultiplexed drops authority's shared connection (the caller is
// responsible for closing it first).
func (p *Pool) ClearMultiplexed(authority string) {
	ks := p.keyFor(authority)
	ks.mu.Lock()
	ks.multiplex = nil
	ks.mu.Unlock()
}

// Checkout pops an idle HTTP/1 connection for authority, or reports none
// available. Increments the active count either way the caller intends to
// dial; call Release or Discard to balance it.
func (p *Pool) Checkout(authority string) (Conn, bool) {
	ks := p.keyFor(authority)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if n := len(ks.idle); n > 0 {
		entry := ks.idle[n-1]
		ks.idle = ks.idle[:n-1]
		ks.active++
		p.mu.Lock()
		p.reused++
		p.mu.Unlock()
		return entry.conn, true
	}
	ks.active++
	return nil, false
}

// Release returns an HTTP/1 connection to authority's idle list.
func (p *Pool) Release(authority string, conn Conn) {
	ks := p.keyFor(authority)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.active--
	if ks.active < 0 {
		ks.active = 0
	}
	if len(ks.idle) >= p.cfg.MaxIdlePerKey {
		ks.cond.Signal()
		go conn.Close()
		return
	}
	ks.idle = append(ks.idle, idleEntry{conn: conn, lastUsed: time.Now()})
	ks.cond.Signal()
}

// Discard decrements authority's active count without returning conn to the
// idle list (the caller has already closed or intends to close it).
func (p *Pool) Discard(authority string) {
	ks := p.keyFor(authority)
	ks.mu.Lock()
	ks.active--
	if ks.active < 0 {
		ks.active = 0
	}
	ks.cond.Signal()
	ks.mu.Unlock()
}

// Stats summarizes pool occupancy across all authorities.
type Stats struct {
	Active  int
	Idle    int
	Reused  uint64
	Created uint64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	keys := make([]*keyState, 0, len(p.keys))
	for _, ks := range p.keys {
		keys = append(keys, ks)
	}
	reused, created := p.reused, p.created
	p.mu.Unlock()

	s := Stats{Reused: reused, Created: created}
	for _, ks := range keys {
		ks.mu.Lock()
		s.Active += ks.active
		s.Idle += len(ks.idle)
		ks.mu.Unlock()
	}
	return s
}

// CountCreated records a freshly dialed connection for stats purposes.
func (p *Pool) CountCreated() {
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	keys := make([]*keyState, 0, len(p.keys))
	for _, ks := range p.keys {
		keys = append(keys, ks)
	}
	p.mu.Unlock()

	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	for _, ks := range keys {
		ks.mu.Lock()
		kept := ks.idle[:0]
		for _, e := range ks.idle {
			if e.lastUsed.Before(cutoff) {
				go e.conn.Close()
				continue
			}
			kept = append(kept, e)
		}
		ks.idle = kept
		if ks.multiplex != nil && ks.mplexUsed.Before(cutoff) {
			go ks.multiplex.Close()
			ks.multiplex = nil
		}
		ks.mu.Unlock()
	}
}

// Close stops the sweep goroutine and closes every pooled connection,
// idle and multiplexed.
func (p *Pool) Close() error {
	close(p.stop)
	p.wg.Wait()

	p.mu.Lock()
	keys := p.keys
	p.keys = make(map[string]*keyState)
	p.mu.Unlock()

	for _, ks := range keys {
		ks.mu.Lock()
		for _, e := range ks.idle {
			e.conn.Close()
		}
		ks.idle = nil
		if ks.multiplex != nil {
			ks.multiplex.Close()
			ks.multiplex = nil
		}
		ks.mu.Unlock()
	}
	return nil
}
