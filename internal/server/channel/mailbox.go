package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by Post when the dispatcher is saturated.
var ErrQueueFull = errors.New("mailbox queue full")

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("mailbox dispatcher closed")

// Message is one plugin payload bound for the plugin bridge.
type Message struct {
	Channel  string
	Player   uuid.UUID
	Username string
	Payload  []byte
}

// Mailbox receives plugin messages outside the connection goroutines.
type Mailbox interface {
	Deliver(ctx context.Context, m Message) error
}

// MailboxFunc adapts a function to Mailbox.
type MailboxFunc func(ctx context.Context, m Message) error

func (f MailboxFunc) Deliver(ctx context.Context, m Message) error { return f(ctx, m) }

// Dispatcher delivers messages to a Mailbox from a fixed set of workers so
// a slow bridge never blocks a connection.
type Dispatcher struct {
	box   Mailbox
	log   *slog.Logger
	queue chan Message

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines draining a queue of size depth.
func NewDispatcher(ctx context.Context, box Mailbox, workers, depth int, log *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &Dispatcher{
		box:    box,
		log:    log,
		queue:  make(chan Message, depth),
		ctx:    ctx,
		cancel: cancel,
		group:  &errgroup.Group{},
	}
	d.group.SetLimit(workers)
	for range workers {
		d.group.Go(d.work)
	}
	return d
}

func (d *Dispatcher) work() error {
	for m := range d.queue {
		if err := d.box.Deliver(d.ctx, m); err != nil {
			d.log.Warn("mailbox delivery failed",
				"channel", m.Channel,
				"username", m.Username,
				"error", err,
			)
		}
	}
	return nil
}

// Post queues m without blocking.
func (d *Dispatcher) Post(m Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting messages and waits for the workers to drain the
// queue.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	err := d.group.Wait()
	d.cancel()
	return err
}
