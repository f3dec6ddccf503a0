package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// Call sides used as metric and span labels.
const (
	SideLocal  = "local"
	SideRemote = "remote"
	SideAgent  = "agent"
)

// Metrics provides Prometheus metrics for hosts and the agent. A nil or
// disabled Metrics records nothing.
type Metrics struct {
	config MetricsConfig

	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	errorsByKind *prometheus.CounterVec
	frames       *prometheus.CounterVec

	activeStreams *prometheus.GaugeVec
	connections   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector in a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of runnable calls",
			},
			[]string{"side", "endpoint", "op", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Duration of runnable calls in seconds, up to the first response",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"side", "endpoint", "op"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of failed calls by error kind",
			},
			[]string{"side", "kind"},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Total number of stream frames forwarded",
			},
			[]string{"side", "kind"},
		),
		activeStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_streams",
				Help:      "Current number of open command streams",
			},
			[]string{"side"},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_connections",
				Help:      "Current number of agent connections",
			},
		),
	}

	registry.MustRegister(
		m.calls,
		m.callDuration,
		m.errorsByKind,
		m.frames,
		m.activeStreams,
		m.connections,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordCall records a finished call. A failed call is also counted by
// its error kind.
func (m *Metrics) RecordCall(side, endpoint, op string, duration time.Duration, err error) {
	if !m.enabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		kind := string(errdefs.KindOf(err))
		if kind == "" {
			kind = "unknown"
		}
		m.errorsByKind.WithLabelValues(side, kind).Inc()
	}
	m.calls.WithLabelValues(side, endpoint, op, outcome).Inc()
	m.callDuration.WithLabelValues(side, endpoint, op).Observe(duration.Seconds())
}

// RecordFrame counts one forwarded frame.
func (m *Metrics) RecordFrame(side, kind string) {
	if !m.enabled() {
		return
	}
	m.frames.WithLabelValues(side, kind).Inc()
}

// StreamOpened increments the open stream gauge.
func (m *Metrics) StreamOpened(side string) {
	if !m.enabled() {
		return
	}
	m.activeStreams.WithLabelValues(side).Inc()
}

// StreamClosed decrements the open stream gauge.
func (m *Metrics) StreamClosed(side string) {
	if !m.enabled() {
		return
	}
	m.activeStreams.WithLabelValues(side).Dec()
}

// ConnectionOpened increments the agent connection gauge.
func (m *Metrics) ConnectionOpened() {
	if !m.enabled() {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed decrements the agent connection gauge.
func (m *Metrics) ConnectionClosed() {
	if !m.enabled() {
		return
	}
	m.connections.Dec()
}

// Registry returns the private registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if !m.enabled() || addr == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("address", addr).Str("path", path).Msg("serving metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errdefs.Transport("metrics server failed", err)
	}
	return nil
}
