package registry

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	h    Handle
	addr net.Addr

	mu       sync.Mutex
	rejected RejectCode
	closed   int
}

func newFake(h Handle, ip string) *fakeConn {
	return &fakeConn{h: h, addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000 + int(h)}}
}

func (f *fakeConn) Handle() Handle       { return f.h }
func (f *fakeConn) RemoteAddr() net.Addr { return f.addr }

func (f *fakeConn) Reject(code RejectCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = code
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestRateLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	r := New(WithRateLimit(4*time.Second), WithClock(clock.now))

	first := newFake(1, "10.0.0.1")
	r.Admit(first)
	assert.Equal(t, RejectNone, first.rejected)

	clock.t = clock.t.Add(time.Second)
	second := newFake(2, "10.0.0.1")
	r.Admit(second)
	assert.Equal(t, RejectRateLimited, second.rejected)

	other := newFake(3, "10.0.0.2")
	r.Admit(other)
	assert.Equal(t, RejectNone, other.rejected, "limits are per address")

	clock.t = clock.t.Add(4 * time.Second)
	third := newFake(4, "10.0.0.1")
	r.Admit(third)
	assert.Equal(t, RejectNone, third.rejected)

	assert.Equal(t, 4, r.Len(), "rejected connections are still tracked")
}

func TestRateLimitDisabled(t *testing.T) {
	r := New(WithRateLimit(0))
	for h := Handle(1); h <= 5; h++ {
		c := newFake(h, "10.0.0.1")
		r.Admit(c)
		assert.Equal(t, RejectNone, c.rejected)
	}
}

func TestMaxAccounts(t *testing.T) {
	r := New(WithMaxAccounts(2))

	a, b, c := newFake(1, "10.0.0.1"), newFake(2, "10.0.0.1"), newFake(3, "10.0.0.1")
	r.Admit(a)
	r.Admit(b)
	r.Admit(c)
	assert.Equal(t, RejectNone, a.rejected)
	assert.Equal(t, RejectNone, b.rejected)
	assert.Equal(t, RejectTooManyAccounts, c.rejected)
	assert.Equal(t, 3, r.Accounts("10.0.0.1"))

	r.Remove(c.Handle())
	r.Remove(a.Handle())
	assert.Equal(t, 1, r.Accounts("10.0.0.1"))

	d := newFake(4, "10.0.0.1")
	r.Admit(d)
	assert.Equal(t, RejectNone, d.rejected)
}

func TestAdmitTwiceIsNoop(t *testing.T) {
	r := New(WithMaxAccounts(1))
	c := newFake(1, "10.0.0.1")
	r.Admit(c)
	r.Admit(c)
	assert.Equal(t, RejectNone, c.rejected)
	assert.Equal(t, 1, r.Accounts("10.0.0.1"))
}

func TestRemove(t *testing.T) {
	r := New()
	c := newFake(7, "10.0.0.1")
	r.Admit(c)
	require.NoError(t, r.FinishLogin(7))
	require.NoError(t, r.FinishLogin(7))
	require.Equal(t, 1, r.Online(), "finishing twice counts once")

	r.Remove(7)
	assert.Zero(t, r.Online())
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Accounts("10.0.0.1"))
	assert.Equal(t, 1, c.closed)

	r.Remove(7)
	assert.Equal(t, 1, c.closed, "second remove is a no-op")
}

func TestRemoveBeforeLoginKeepsOnline(t *testing.T) {
	r := New()
	joined, pending := newFake(1, "10.0.0.1"), newFake(2, "10.0.0.2")
	r.Admit(joined)
	r.Admit(pending)
	require.NoError(t, r.FinishLogin(joined.Handle()))

	r.Remove(pending.Handle())
	assert.Equal(t, 1, r.Online())
}

func TestFinishLoginUntracked(t *testing.T) {
	r := New()
	err := r.FinishLogin(5)
	require.ErrorIs(t, err, ErrUntracked)
	assert.Zero(t, r.Online())
}

func TestFinishLoginRacesRemove(t *testing.T) {
	for i := 0; i < 200; i++ {
		r := New()
		c := newFake(1, "10.0.0.1")
		r.Admit(c)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.FinishLogin(1)
		}()
		go func() {
			defer wg.Done()
			r.Remove(1)
		}()
		wg.Wait()

		require.Zero(t, r.Online(), "iteration %d", i)
	}
}

func TestLookup(t *testing.T) {
	r := New()
	c := newFake(3, "10.0.0.1")
	r.Admit(c)

	got, err := r.Lookup(3)
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = r.Lookup(99)
	require.ErrorIs(t, err, ErrUntracked)
	assert.Contains(t, err.Error(), "99")
}

func TestCloseAll(t *testing.T) {
	r := New()
	conns := []*fakeConn{newFake(1, "10.0.0.1"), newFake(2, "10.0.0.2"), newFake(3, "10.0.0.3")}
	for _, c := range conns {
		r.Admit(c)
	}
	var seen int
	r.ForEach(func(Tracked) { seen++ })
	assert.Equal(t, 3, seen)

	r.CloseAll()
	assert.Zero(t, r.Len())
	for _, c := range conns {
		assert.Equal(t, 1, c.closed)
	}
}

func TestPruneLimiters(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := New(WithRateLimit(time.Second), WithClock(clock.now))
	for i := 0; i < maxIdleLimiters; i++ {
		c := newFake(Handle(i+1), net.IPv4(10, byte(i>>16), byte(i>>8), byte(i)).String())
		r.Admit(c)
		r.Remove(c.Handle())
	}
	require.Len(t, r.limiters, maxIdleLimiters)

	clock.t = clock.t.Add(2 * time.Second)
	r.Admit(newFake(1<<20, "192.168.0.1"))
	assert.Len(t, r.limiters, 1)
}

func TestPeerIP(t *testing.T) {
	assert.Equal(t, "10.1.2.3", PeerIP(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5}))
	assert.Equal(t, "::1", PeerIP(&net.TCPAddr{IP: net.IPv6loopback, Port: 5}))
	assert.Equal(t, "pipe", PeerIP(pipeAddr{}))
	assert.Equal(t, "", PeerIP(nil))
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

type countingObserver struct {
	admitted, rejected, conns, online int
}

func (o *countingObserver) Admitted()           { o.admitted++ }
func (o *countingObserver) Rejected(RejectCode) { o.rejected++ }
func (o *countingObserver) Connections(n int)   { o.conns = n }
func (o *countingObserver) Online(n int)        { o.online = n }

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	r := New(WithMaxAccounts(1), WithObserver(obs))
	r.Admit(newFake(1, "10.0.0.1"))
	r.Admit(newFake(2, "10.0.0.1"))
	require.NoError(t, r.FinishLogin(1))

	assert.Equal(t, 1, obs.admitted)
	assert.Equal(t, 1, obs.rejected)
	assert.Equal(t, 2, obs.conns)
	assert.Equal(t, 1, obs.online)
}
