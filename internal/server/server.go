package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/OCharnyshevich/mcproto-server/internal/server/assets"
	"github.com/OCharnyshevich/mcproto-server/internal/server/auth"
	"github.com/OCharnyshevich/mcproto-server/internal/server/channel"
	"github.com/OCharnyshevich/mcproto-server/internal/server/config"
	"github.com/OCharnyshevich/mcproto-server/internal/server/conn"
	"github.com/OCharnyshevich/mcproto-server/internal/server/metrics"
	"github.com/OCharnyshevich/mcproto-server/internal/server/registry"
)

const shutdownTimeout = 5 * time.Second

// Server accepts TCP connections and runs each one through the protocol
// state machine.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *registry.Registry
	channels *channel.Registry
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	sessions auth.Verifier
	mailbox  channel.Mailbox
	content  conn.RegistrySyncer
	play     conn.PlayHandler

	handles atomic.Uint64
	wg      sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithChannels installs plugin channel and cookie handlers.
func WithChannels(r *channel.Registry) Option {
	return func(s *Server) { s.channels = r }
}

// WithMailbox forwards plugin messages to the plugin bridge.
func WithMailbox(m channel.Mailbox) Option {
	return func(s *Server) { s.mailbox = m }
}

// WithSessions replaces the session service client.
func WithSessions(v auth.Verifier) Option {
	return func(s *Server) { s.sessions = v }
}

// WithRegistrySyncer sends registry data during configuration.
func WithRegistrySyncer(r conn.RegistrySyncer) Option {
	return func(s *Server) { s.content = r }
}

// WithPlayHandler hands connections over once they reach Play.
func WithPlayHandler(p conn.PlayHandler) Option {
	return func(s *Server) { s.play = p }
}

// New creates a Server. The RSA key pair is generated here, before any
// connection can be accepted; failure is fatal to the caller.
func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.PrivateKey == nil {
		key, der, err := auth.GenerateKey()
		if err != nil {
			return nil, err
		}
		cfg.PrivateKey, cfg.PublicKeyDER = key, der
		log.Info("RSA keypair generated", "bits", auth.KeyBits)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithRegistry(promReg))

	s := &Server{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		gatherer: promReg,
		registry: registry.New(
			registry.WithRateLimit(time.Duration(cfg.RateLimit)),
			registry.WithMaxAccounts(cfg.MaxAccountsPerIP),
			registry.WithObserver(m),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.channels == nil {
		s.channels = channel.NewRegistry(log)
	}
	if s.sessions == nil {
		s.sessions = auth.NewClient(
			auth.WithBaseURL(cfg.SessionServerURL),
			auth.WithRetries(cfg.AuthRetries),
			auth.WithLogger(log),
		)
	}
	return s, nil
}

// Registry returns the connection registry.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Start listens on the configured port and blocks until the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled, then
// disconnects every client and waits for their goroutines.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	favicon, err := assets.LoadFavicon(ctx, s.cfg.FaviconSource, filepath.Join(s.cfg.DataDir, "cache"))
	if err != nil {
		s.log.Warn("favicon not loaded", "source", s.cfg.FaviconSource, "error", err)
	}

	var dispatcher *channel.Dispatcher
	if s.mailbox != nil {
		dispatcher = channel.NewDispatcher(ctx, s.mailbox, s.cfg.MailboxWorkers, s.cfg.MailboxDepth, s.log)
	}
	deps := conn.Deps{
		Registry: s.registry,
		Channels: s.channels,
		Mailbox:  dispatcher,
		Sessions: s.sessions,
		Content:  s.content,
		Play:     s.play,
		Metrics:  s.metrics,
		Favicon:  favicon,
	}

	s.log.Info("server started",
		"addr", listener.Addr().String(),
		"onlineMode", s.cfg.OnlineMode,
		"motd", s.cfg.MOTD,
		"compressionThreshold", s.cfg.CompressionThreshold,
	)

	// Connections outlive ctx until they have been told the server is
	// closing; cancelConns releases them afterwards.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return listener.Close()
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, connCtx, listener, &deps)
	})
	if s.cfg.MetricsAddr != "" {
		s.serveMetrics(gctx, g)
	}

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	s.log.Info("server shutting down", "connections", s.registry.Len())
	s.registry.ForEach(func(t registry.Tracked) {
		if c, ok := t.(*conn.Connection); ok {
			c.Disconnect("Server closed")
		}
	})
	cancelConns()
	s.registry.CloseAll()
	s.wg.Wait()
	if dispatcher != nil {
		if derr := dispatcher.Close(); derr != nil {
			s.log.Warn("mailbox dispatcher", "error", derr)
		}
	}
	return err
}

// acceptLoop runs until ctx is done. Accepted connections get connCtx.
func (s *Server) acceptLoop(ctx, connCtx context.Context, listener net.Listener, deps *conn.Deps) error {
	for {
		c, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Error("accept connection", "error", err)
			continue
		}

		h := registry.Handle(s.handles.Add(1))
		d := *deps
		connection := conn.NewConnection(connCtx, c, h, s.cfg, s.log, &d)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			connection.Serve()
		}()
	}
}

func (s *Server) serveMetrics(ctx context.Context, g *errgroup.Group) {
	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           metrics.NewHandler(s.gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		s.log.Info("metrics listening", "addr", s.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
