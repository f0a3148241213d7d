package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vango-dev/circuit/pkg/renderqueue"
)

// MetricsConfig configures the circuit Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "circuit").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for reconnect duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: a fresh prometheus.NewRegistry(), so several controllers in
	// one process never collide.
	Registry prometheus.Registerer
}

// MetricsOption configures the circuit metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "circuit",
		Buckets:   prometheus.DefBuckets,
	}
}

// Metrics records circuit lifecycle and render queue metrics.
//
// Metrics collected:
//   - circuit_connected: Gauge, 1 while a connection is up
//   - circuit_connections_up_total: Counter of successful connection passes
//   - circuit_connections_down_total: Counter of lost connections
//   - circuit_reconnect_attempts_total: Counter of reconnect passes by result
//   - circuit_reconnect_duration_seconds: Histogram of reconnect pass duration
//   - circuit_render_batches_total: Counter of render batches by outcome
//   - circuit_rendering_failures_total: Counter of fatal rendering failures
//
// Metrics is a lifecycle observer (OnConnectionUp, OnConnectionDown) and a
// render queue observer. All methods are safe on a nil *Metrics.
type Metrics struct {
	connected         prometheus.Gauge
	connectionsUp     prometheus.Counter
	connectionsDown   prometheus.Counter
	reconnectAttempts *prometheus.CounterVec
	reconnectDuration prometheus.Histogram
	batches           *prometheus.CounterVec
	renderingFailures prometheus.Counter
}

// NewMetrics registers the circuit metrics.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.NewMetrics(telemetry.WithRegistry(reg))
//	ctrl, _ := circuit.New(circuit.Options{Metrics: m})
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected",
			Help:        "1 while the circuit connection is up",
			ConstLabels: config.ConstLabels,
		}),

		connectionsUp: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_up_total",
			Help:        "Total number of successful connection passes",
			ConstLabels: config.ConstLabels,
		}),

		connectionsDown: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_down_total",
			Help:        "Total number of lost circuit connections",
			ConstLabels: config.ConstLabels,
		}),

		reconnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Total number of reconnect passes by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		reconnectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_duration_seconds",
			Help:        "Reconnect pass duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "render_batches_total",
			Help:        "Total render batches by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"outcome"}),

		renderingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rendering_failures_total",
			Help:        "Total fatal rendering failures",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// OnConnectionUp records a successful connection pass.
func (m *Metrics) OnConnectionUp() {
	if m == nil {
		return
	}
	m.connected.Set(1)
	m.connectionsUp.Inc()
}

// OnConnectionDown records a lost connection.
func (m *Metrics) OnConnectionDown(error) {
	if m == nil {
		return
	}
	m.connected.Set(0)
	m.connectionsDown.Inc()
}

// ReconnectAttempted records one reconnect pass.
func (m *Metrics) ReconnectAttempted(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.reconnectAttempts.WithLabelValues(result).Inc()
	m.reconnectDuration.Observe(d.Seconds())
}

// RenderingFailed records the session entering the failed state.
func (m *Metrics) RenderingFailed() {
	if m == nil {
		return
	}
	m.connected.Set(0)
	m.renderingFailures.Inc()
}

// BatchProcessed implements renderqueue.Observer.
func (m *Metrics) BatchProcessed(_, _ int64, outcome renderqueue.Outcome) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(string(outcome)).Inc()
}
