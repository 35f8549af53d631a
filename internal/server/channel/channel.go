// Package channel routes plugin channel messages and cookie responses to
// registered handlers and forwards plugin traffic to an external mailbox.
package channel

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// BrandChannel carries the client's brand string.
const BrandChannel = "minecraft:brand"

// Peer is the connection a message arrived on.
type Peer interface {
	Username() string
	UUID() uuid.UUID
	RemoteAddr() net.Addr
}

// Querier is a Peer still in Login or Config that can send requests.
type Querier interface {
	Peer
	// SendLoginQuery sends a plugin request on channel and records its id.
	SendLoginQuery(channel string, data []byte) error
	// RequestCookie asks the client for the cookie stored under key.
	RequestCookie(key string) error
}

// Handler consumes a plugin message or cookie payload. A nil payload means
// the client had nothing to send.
type Handler func(payload []byte, p Peer) error

// LoginHook runs after the encryption request has been sent and may issue
// plugin or cookie requests.
type LoginHook func(q Querier) error

// Registry maps channel identifiers and cookie keys to handlers.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	hooks    []LoginHook
}

// NewRegistry returns an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for id, replacing any previous handler.
func (r *Registry) Handle(id string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = h
}

// Lookup returns the handler for id.
func (r *Registry) Lookup(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// OnLogin adds a hook run for every connection entering key exchange.
func (r *Registry) OnLogin(h LoginHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// RunLoginHooks runs the login hooks in registration order and stops at the
// first error.
func (r *Registry) RunLoginHooks(q Querier) error {
	r.mu.RLock()
	hooks := append([]LoginHook(nil), r.hooks...)
	r.mu.RUnlock()

	for i, h := range hooks {
		if err := h(q); err != nil {
			return fmt.Errorf("login hook %d: %w", i, err)
		}
	}
	return nil
}

// Dispatch hands payload to the handler for id. Messages for channels
// nobody registered are logged and dropped.
func (r *Registry) Dispatch(id string, payload []byte, p Peer) error {
	h, ok := r.Lookup(id)
	if !ok {
		r.log.Debug("no handler for channel, ignoring",
			"channel", id,
			"bytes", len(payload),
			"username", p.Username(),
		)
		return nil
	}
	if err := h(payload, p); err != nil {
		return fmt.Errorf("channel %s: %w", id, err)
	}
	return nil
}
