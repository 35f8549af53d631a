// Package registry tracks live connections, applies per-address admission
// limits and counts players that finished logging in.
package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Handle identifies a connection for its whole life.
type Handle uint64

// RejectCode tells a connection why it must refuse its login.
type RejectCode int

const (
	RejectNone RejectCode = iota
	RejectRateLimited
	RejectTooManyAccounts
)

func (c RejectCode) String() string {
	switch c {
	case RejectNone:
		return "none"
	case RejectRateLimited:
		return "rate limited"
	case RejectTooManyAccounts:
		return "too many accounts"
	default:
		return fmt.Sprintf("RejectCode(%d)", int(c))
	}
}

// ErrUntracked is returned for handles the registry does not know.
var ErrUntracked = errors.New("connection not tracked")

// Tracked is what the registry needs from a connection.
type Tracked interface {
	Handle() Handle
	RemoteAddr() net.Addr
	// Reject flags the connection so its Login Start is refused.
	Reject(code RejectCode)
	Close() error
}

// Observer receives registry events, typically to feed metrics.
type Observer interface {
	Admitted()
	Rejected(code RejectCode)
	Connections(n int)
	Online(n int)
}

type nopObserver struct{}

func (nopObserver) Admitted()           {}
func (nopObserver) Rejected(RejectCode) {}
func (nopObserver) Connections(int)     {}
func (nopObserver) Online(int)          {}

// maxIdleLimiters bounds the limiters kept for addresses with no live
// connection before they are pruned.
const maxIdleLimiters = 4096

type entry struct {
	conn     Tracked
	ip       string
	finished bool
}

// Registry is safe for concurrent use.
type Registry struct {
	interval    time.Duration
	maxAccounts int
	now         func() time.Time
	observer    Observer

	mu       sync.Mutex
	conns    map[Handle]entry
	accounts map[string]int
	limiters map[string]*rate.Limiter
	online   int
}

// Option configures a Registry.
type Option func(*Registry)

// WithRateLimit allows one admission per address every interval. Zero or
// negative disables the limit.
func WithRateLimit(interval time.Duration) Option {
	return func(r *Registry) { r.interval = interval }
}

// WithMaxAccounts caps concurrent connections per address. Zero or
// negative disables the cap.
func WithMaxAccounts(n int) Option {
	return func(r *Registry) { r.maxAccounts = n }
}

// WithObserver reports registry events to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		now:      time.Now,
		observer: nopObserver{},
		conns:    make(map[Handle]entry),
		accounts: make(map[string]int),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PeerIP returns the address key used for per-address limits.
func PeerIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}

// Admit starts tracking c. A connection arriving too soon after the last
// one from its address, or exceeding the per-address cap, is still tracked
// but flagged through Reject. Admitting a tracked handle does nothing.
func (r *Registry) Admit(c Tracked) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := c.Handle()
	if _, ok := r.conns[h]; ok {
		return
	}
	ip := PeerIP(c.RemoteAddr())

	code := RejectNone
	if r.interval > 0 {
		lim, ok := r.limiters[ip]
		if !ok {
			r.pruneLimiters()
			lim = rate.NewLimiter(rate.Every(r.interval), 1)
			r.limiters[ip] = lim
		}
		if !lim.AllowN(r.now(), 1) {
			code = RejectRateLimited
		}
	}

	r.accounts[ip]++
	if code == RejectNone && r.maxAccounts > 0 && r.accounts[ip] > r.maxAccounts {
		code = RejectTooManyAccounts
	}

	r.conns[h] = entry{conn: c, ip: ip}
	if code != RejectNone {
		c.Reject(code)
		r.observer.Rejected(code)
	} else {
		r.observer.Admitted()
	}
	r.observer.Connections(len(r.conns))
}

// pruneLimiters drops limiters of addresses with no live connection whose
// bucket has refilled. Called with mu held.
func (r *Registry) pruneLimiters() {
	if len(r.limiters) < maxIdleLimiters {
		return
	}
	now := r.now()
	for ip, lim := range r.limiters {
		if r.accounts[ip] == 0 && lim.TokensAt(now) >= 1 {
			delete(r.limiters, ip)
		}
	}
}

// Remove stops tracking h and closes its connection. Unknown handles are
// ignored.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	e, ok := r.conns[h]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, h)
	if n := r.accounts[e.ip] - 1; n > 0 {
		r.accounts[e.ip] = n
	} else {
		delete(r.accounts, e.ip)
	}
	if e.finished {
		r.online--
	}
	r.observer.Connections(len(r.conns))
	r.observer.Online(r.online)
	r.mu.Unlock()

	_ = e.conn.Close()
}

// Lookup returns the connection tracked under h.
func (r *Registry) Lookup(h Handle) (Tracked, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, ErrUntracked)
	}
	return e.conn, nil
}

// FinishLogin marks h login-finished and counts it online, in one step so
// a concurrent Remove always sees both or neither. Repeated calls count once.
func (r *Registry) FinishLogin(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[h]
	if !ok {
		return fmt.Errorf("finish login of handle %d: %w", h, ErrUntracked)
	}
	if e.finished {
		return nil
	}
	e.finished = true
	r.conns[h] = e
	r.online++
	r.observer.Online(r.online)
	return nil
}

// Online returns the number of players that finished logging in.
func (r *Registry) Online() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Accounts returns the number of live connections from ip.
func (r *Registry) Accounts(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[ip]
}

// ForEach calls fn for a snapshot of the tracked connections.
func (r *Registry) ForEach(fn func(Tracked)) {
	r.mu.Lock()
	snapshot := make([]Tracked, 0, len(r.conns))
	for _, e := range r.conns {
		snapshot = append(snapshot, e.conn)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// CloseAll removes and closes every tracked connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.conns))
	for h := range r.conns {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.Remove(h)
	}
}
