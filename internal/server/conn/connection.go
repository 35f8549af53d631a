package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/OCharnyshevich/mcproto-server/internal/server/auth"
	"github.com/OCharnyshevich/mcproto-server/internal/server/channel"
	"github.com/OCharnyshevich/mcproto-server/internal/server/config"
	"github.com/OCharnyshevich/mcproto-server/internal/server/metrics"
	mcnet "github.com/OCharnyshevich/mcproto-server/internal/server/net"
	"github.com/OCharnyshevich/mcproto-server/internal/server/packet"
	"github.com/OCharnyshevich/mcproto-server/internal/server/registry"
	"github.com/OCharnyshevich/mcproto-server/internal/server/text"
)

// State represents the connection state.
type State int

const (
	StateHandshake State = iota
	StateStatus
	StateLogin
	StateTransfer
	StateConfig
	StatePlay
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StateTransfer:
		return "transfer"
	case StateConfig:
		return "config"
	case StatePlay:
		return "play"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RegistrySyncer sends registry data once the client has declared its
// known packs.
type RegistrySyncer interface {
	SyncRegistries(c *Connection, packs []packet.KnownPack) error
}

// PlayHandler owns a connection once it reaches Play.
type PlayHandler interface {
	Join(c *Connection) error
	HandlePacket(c *Connection, p mcnet.RawPacket) error
}

// Deps are the shared services every connection uses. Registry is
// required; the rest may be nil.
type Deps struct {
	Registry *registry.Registry
	Channels *channel.Registry
	Mailbox  *channel.Dispatcher
	Sessions auth.Verifier
	Content  RegistrySyncer
	Play     PlayHandler
	Metrics  *metrics.Metrics

	// Favicon is the data URI advertised in the status response.
	Favicon string
}

// Connection manages a single client connection through the protocol state machine.
type Connection struct {
	conn   net.Conn
	stream *mcnet.Stream
	handle registry.Handle
	cfg    *config.Config
	deps   *Deps
	log    atomic.Pointer[slog.Logger]
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	mu            sync.Mutex
	state         State
	reject        registry.RejectCode
	loginFinished bool
	username      string
	id            uuid.UUID
	properties    []auth.Property
	brand         string
	settings      packet.ClientInformation
	queries       map[int32]string
	cookies       map[string]struct{}
	nextQuery     int32

	// Handshake and login progress, touched only by the Serve goroutine.
	protocol    int32
	loginStart  bool
	verifyToken []byte
	successSent bool

	// Config progress, touched only by the Serve goroutine.
	configStarted bool
	keepAliveID   int64
	pingID        int32
	keepAliveOK   bool
	pongOK        bool
	knownPacks    []packet.KnownPack
	finishSent    bool
}

// NewConnection wraps a raw TCP connection. Serve runs it.
func NewConnection(ctx context.Context, c net.Conn, h registry.Handle, cfg *config.Config, log *slog.Logger, deps *Deps) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	stream := mcnet.NewStream(c)
	stream.ReadTimeout = time.Duration(cfg.ReadTimeout)
	if deps.Channels == nil {
		deps.Channels = channel.NewRegistry(log)
	}
	conn := &Connection{
		conn:    c,
		stream:  stream,
		handle:  h,
		cfg:     cfg,
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateHandshake,
		queries: make(map[int32]string),
		cookies: make(map[string]struct{}),
	}
	conn.log.Store(log.With("addr", c.RemoteAddr().String(), "handle", uint64(h)))
	return conn
}

// logger is replaced once the username is known, possibly while another
// goroutine is disconnecting the client.
func (c *Connection) logger() *slog.Logger { return c.log.Load() }

// Serve runs the connection lifecycle. It admits the connection, then reads
// packets and dispatches them to the state handler until the connection
// closes or a handler fails.
func (c *Connection) Serve() {
	stop := context.AfterFunc(c.ctx, func() { c.conn.Close() })
	defer func() {
		stop()
		c.deps.Registry.Remove(c.handle)
		c.Close()
		c.logger().Info("connection closed")
	}()

	c.deps.Registry.Admit(c)
	c.logger().Debug("connection accepted")

	for {
		p, err := c.stream.ReadPacket()
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger().Debug("read packet", "state", c.State(), "error", err)
			}
			return
		}

		state := c.State()
		c.deps.Metrics.Packet(state.String())
		if err := c.dispatch(state, p); err != nil {
			c.fail(state, p.ID, err)
			return
		}
	}
}

func (c *Connection) dispatch(state State, p mcnet.RawPacket) error {
	switch state {
	case StateHandshake:
		return c.handleHandshake(p)
	case StateStatus:
		return c.handleStatus(p)
	case StateLogin, StateTransfer:
		return c.handleLogin(p)
	case StateConfig:
		return c.handleConfig(p)
	case StatePlay:
		return c.handlePlay(p)
	default:
		return fmt.Errorf("unknown state: %d", state)
	}
}

// fail reports a handler error to the client when the state has a
// disconnect packet, then closes the connection.
func (c *Connection) fail(state State, id int32, err error) {
	reason := ReasonInvalidPacket
	var k *Kick
	if errors.As(err, &k) {
		reason = k.Reason
		c.logger().Info("kicking client", "state", state, "packet", fmt.Sprintf("0x%02X", id), "reason", reason, "error", k.Err)
	} else {
		c.logger().Warn("handling packet", "state", state, "packet", fmt.Sprintf("0x%02X", id), "error", err)
	}
	c.Disconnect(reason)
}

// Disconnect sends reason in the current state's disconnect packet, if it
// has one, and closes the connection. Safe to call from any goroutine.
func (c *Connection) Disconnect(reason string) {
	var p mcnet.Packet
	switch c.State() {
	case StateLogin, StateTransfer:
		p = &packet.LoginDisconnect{Reason: text.Plain(reason).JSON()}
	case StateConfig:
		p = &packet.ConfigDisconnect{Reason: text.Plain(reason)}
	case StatePlay:
		p = &packet.PlayDisconnect{Reason: text.Plain(reason)}
	}
	if p != nil {
		if err := c.stream.Send(p); err != nil {
			c.logger().Debug("write disconnect", "error", err)
		}
	}
	c.Close()
}

// Close tears the connection down without notifying the client.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Send writes a typed packet. Safe to call from any goroutine.
func (c *Connection) Send(p mcnet.Packet) error {
	return c.stream.Send(p)
}

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context { return c.ctx }

func (c *Connection) Handle() registry.Handle { return c.handle }

func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Reject flags the connection so its Login Start is refused.
func (c *Connection) Reject(code registry.RejectCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reject = code
}

func (c *Connection) LoginFinished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginFinished
}

// State returns the protocol state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger().Debug("state changed", "state", s)
}

func (c *Connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Connection) UUID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Properties returns the profile properties, set in online mode.
func (c *Connection) Properties() []auth.Property {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]auth.Property(nil), c.properties...)
}

// Brand returns the client brand reported during Config.
func (c *Connection) Brand() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brand
}

// Settings returns the last ClientInformation, view distance clamped.
func (c *Connection) Settings() packet.ClientInformation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Compressed reports whether compression has been enabled.
func (c *Connection) Compressed() bool { return c.stream.Compressed() }

// Encrypted reports whether the stream cipher is active.
func (c *Connection) Encrypted() bool { return c.stream.Encrypted() }

// SendLoginQuery sends a plugin request and records its message id so the
// response can be matched.
func (c *Connection) SendLoginQuery(ch string, data []byte) error {
	c.mu.Lock()
	if s := c.state; s != StateLogin && s != StateTransfer {
		c.mu.Unlock()
		return fmt.Errorf("login query on %s: connection is in %s", ch, s)
	}
	id := c.nextQuery
	c.nextQuery++
	c.queries[id] = ch
	c.mu.Unlock()

	if err := c.stream.Send(&packet.LoginPluginRequest{MessageID: id, Channel: ch, Data: data}); err != nil {
		return fmt.Errorf("write login plugin request: %w", err)
	}
	return nil
}

// RequestCookie asks the client for the cookie stored under key.
func (c *Connection) RequestCookie(key string) error {
	c.mu.Lock()
	var p mcnet.Packet
	switch c.state {
	case StateLogin, StateTransfer:
		p = &packet.LoginCookieRequest{CookieRequest: packet.CookieRequest{Key: key}}
	case StateConfig:
		p = &packet.ConfigCookieRequest{CookieRequest: packet.CookieRequest{Key: key}}
	default:
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("cookie request for %s: connection is in %s", key, s)
	}
	c.cookies[key] = struct{}{}
	c.mu.Unlock()

	if err := c.stream.Send(p); err != nil {
		return fmt.Errorf("write cookie request: %w", err)
	}
	return nil
}

// takeQuery removes and returns the channel of an outstanding plugin request.
func (c *Connection) takeQuery(id int32) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.queries[id]
	delete(c.queries, id)
	return ch, ok
}

func (c *Connection) takeCookie(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cookies[key]
	delete(c.cookies, key)
	return ok
}

// handleCookie matches a cookie response against the requests this
// connection made.
func (c *Connection) handleCookie(resp packet.CookieResponse) error {
	if !c.takeCookie(resp.Key) {
		return &Kick{Reason: ReasonInvalidChannel, Err: fmt.Errorf("unrequested cookie %q", resp.Key)}
	}
	return c.deps.Channels.Dispatch(resp.Key, resp.Payload, c)
}
