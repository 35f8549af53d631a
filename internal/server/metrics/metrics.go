// Package metrics exposes server counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OCharnyshevich/mcproto-server/internal/server/registry"
)

// Config configures the collectors.
type Config struct {
	// Namespace prefixes every metric name (default: "mcproto").
	Namespace string

	// Registry is where collectors are registered.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the server's collectors. A nil *Metrics discards everything,
// so callers need not check whether metrics are enabled.
type Metrics struct {
	admitted       prometheus.Counter
	rejected       *prometheus.CounterVec
	active         prometheus.Gauge
	online         prometheus.Gauge
	logins         *prometheus.CounterVec
	packets        *prometheus.CounterVec
	sessionLatency prometheus.Histogram
}

// New registers the collectors.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "mcproto",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		admitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_admitted_total",
			Help:      "Connections admitted without a rejection flag",
		}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections flagged for rejection at admission",
		}, []string{"reason"}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_active",
			Help:      "Currently tracked connections",
		}),
		online: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "players_online",
			Help:      "Players that finished logging in",
		}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome",
		}, []string{"result"}),
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "packets_received_total",
			Help:      "Packets received by connection state",
		}, []string{"state"}),
		sessionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "session_verify_duration_seconds",
			Help:      "Time spent verifying players with the session service",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Admitted() {
	if m == nil {
		return
	}
	m.admitted.Inc()
}

func (m *Metrics) Rejected(code registry.RejectCode) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(code.String()).Inc()
}

func (m *Metrics) Connections(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

func (m *Metrics) Online(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

// Login counts one login outcome such as "success" or "name too long".
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// Packet counts one packet received in state.
func (m *Metrics) Packet(state string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(state).Inc()
}

// SessionVerified records how long a session service check took.
func (m *Metrics) SessionVerified(d time.Duration) {
	if m == nil {
		return
	}
	m.sessionLatency.Observe(d.Seconds())
}

// NewHandler serves /metrics from g and a /healthz liveness probe.
func NewHandler(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
