package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "wsession").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// RTTBuckets are the histogram buckets for ping round trips, in seconds.
	// Default: 1ms to 5s.
	RTTBuckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
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

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:  "wsession",
		RTTBuckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		Registry:   prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for one server. All methods are
// safe on a nil *Metrics, which records nothing.
type Metrics struct {
	activeSessions   prometheus.Gauge
	detachedSessions prometheus.Gauge
	sessionsOpened   *prometheus.CounterVec
	sessionsClosed   *prometheus.CounterVec
	frames           *prometheus.CounterVec
	bytes            *prometheus.CounterVec
	broadcasts       prometheus.Counter
	pendingDropped   prometheus.Counter
	protocolErrors   *prometheus.CounterVec
	qualityScore     prometheus.Histogram
	pingRTT          prometheus.Histogram
}

// NewMetrics registers the collectors.
//
// Metrics collected:
//   - wsession_active_sessions: Gauge of sessions with a live socket
//   - wsession_detached_sessions: Gauge of sessions awaiting resumption
//   - wsession_sessions_opened_total: Counter by kind (new, resumed, fresh_fallback)
//   - wsession_sessions_closed_total: Counter by reason
//   - wsession_frames_total: Counter by direction and message type
//   - wsession_bytes_total: Counter by direction
//   - wsession_broadcasts_total: Counter of Broadcast calls
//   - wsession_pending_dropped_total: Counter of buffered frames lost to capacity
//   - wsession_protocol_errors_total: Counter by kind
//   - wsession_quality_score: Histogram of scores after each pong
//   - wsession_ping_rtt_seconds: Histogram of ping round trips
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	cfg := server.DefaultConfig().WithMetrics(server.NewMetrics(server.WithRegistry(reg)))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of sessions with a live socket",
			ConstLabels: config.ConstLabels,
		}),

		detachedSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "detached_sessions",
			Help:        "Number of detached (disconnected but resumable) sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_opened_total",
			Help:        "Total number of socket binds by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_closed_total",
			Help:        "Total number of destroyed sessions by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_total",
			Help:        "Total number of frames by direction and message type",
			ConstLabels: config.ConstLabels,
		}, []string{"direction", "type"}),

		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_total",
			Help:        "Total frame bytes by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction"}),

		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcasts_total",
			Help:        "Total number of broadcasts",
			ConstLabels: config.ConstLabels,
		}),

		pendingDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_dropped_total",
			Help:        "Total number of buffered frames dropped for capacity",
			ConstLabels: config.ConstLabels,
		}),

		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "protocol_errors_total",
			Help:        "Total number of rejected inbound frames by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		qualityScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "quality_score",
			Help:        "Connection quality score observed after each pong",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.LinearBuckets(0.1, 0.1, 10),
		}),

		pingRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "ping_rtt_seconds",
			Help:        "Ping round-trip time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.RTTBuckets,
		}),
	}
}

func (m *Metrics) sessionOpened(kind string) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(kind).Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionResumed(wasDetached bool) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues("resumed").Inc()
	if wasDetached {
		m.activeSessions.Inc()
		m.detachedSessions.Dec()
	}
}

func (m *Metrics) sessionDetached() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.detachedSessions.Inc()
}

func (m *Metrics) sessionClosed(reason string, wasLive bool) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(reason).Inc()
	if wasLive {
		m.activeSessions.Dec()
	} else {
		m.detachedSessions.Dec()
	}
}

func (m *Metrics) frameIn(typ string, n int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("in", typ).Inc()
	m.bytes.WithLabelValues("in").Add(float64(n))
}

func (m *Metrics) frameOut(typ string, n int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("out", typ).Inc()
	m.bytes.WithLabelValues("out").Add(float64(n))
}

func (m *Metrics) broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

func (m *Metrics) pendingDrop(n int) {
	if m == nil {
		return
	}
	m.pendingDropped.Add(float64(n))
}

func (m *Metrics) protocolError(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) pong(rtt time.Duration, score float64) {
	if m == nil {
		return
	}
	m.pingRTT.Observe(rtt.Seconds())
	m.qualityScore.Observe(score)
}
