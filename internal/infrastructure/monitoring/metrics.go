package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Channel metrics
	ChannelRequests *prometheus.CounterVec
	ChannelDuration prometheus.Histogram
	ChannelPending  prometheus.Gauge
	ChannelEvents   *prometheus.CounterVec

	// Skeleton metrics
	SkeletonCommands  *prometheus.CounterVec
	SkeletonDuration  *prometheus.HistogramVec
	SkeletonResources *prometheus.GaugeVec

	// Mount metrics
	MountsActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON health endpoint
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveConnections int64   `json:"active_connections"`
	ChannelTimeouts   int64   `json:"channel_timeouts"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates a collector on its own registry, so several instances
// can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axiom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Channel metrics
		ChannelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_channel_requests_total",
				Help: "Total number of channel requests sent, by outcome",
			},
			[]string{"status"},
		),
		ChannelDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "axiom_channel_request_duration_seconds",
				Help:    "Channel round trip duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 30},
			},
		),
		ChannelPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "axiom_channel_pending_requests",
				Help: "Number of requests waiting for a response",
			},
		),
		ChannelEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_channel_events_total",
				Help: "Total number of channel events",
			},
			[]string{"direction"},
		),

		// Skeleton metrics
		SkeletonCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_skeleton_commands_total",
				Help: "Total number of commands served",
			},
			[]string{"cmd", "status"},
		),
		SkeletonDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "axiom_skeleton_command_duration_seconds",
				Help:    "Command duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"cmd"},
		),
		SkeletonResources: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "axiom_skeleton_resources",
				Help: "Number of live tracked resources",
			},
			[]string{"kind"},
		),

		// Mount metrics
		MountsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "axiom_mounts_active",
				Help: "Number of mounted filesystems",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "axiom_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "axiom_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "axiom_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordChannelRequest records a finished channel round trip
func (m *Metrics) RecordChannelRequest(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ChannelRequests.WithLabelValues(status).Inc()
	m.ChannelDuration.Observe(duration.Seconds())

	if status == "timeout" {
		m.mu.Lock()
		m.snapshot.ChannelTimeouts++
		m.mu.Unlock()
	}
}

// AddChannelPending adjusts the pending request gauge
func (m *Metrics) AddChannelPending(delta int) {
	if m == nil {
		return
	}
	m.ChannelPending.Add(float64(delta))
}

// RecordChannelEvent records an event sent or received
func (m *Metrics) RecordChannelEvent(direction string) {
	if m == nil {
		return
	}
	m.ChannelEvents.WithLabelValues(direction).Inc()
}

// RecordCommand records a command served by a skeleton
func (m *Metrics) RecordCommand(cmd, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SkeletonCommands.WithLabelValues(cmd, status).Inc()
	m.SkeletonDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// AddResources adjusts the live resource gauge for kind
func (m *Metrics) AddResources(kind string, delta int) {
	if m == nil {
		return
	}
	m.SkeletonResources.WithLabelValues(kind).Add(float64(delta))
}

// SetMountsActive sets the number of mounted filesystems
func (m *Metrics) SetMountsActive(count int) {
	if m == nil {
		return
	}
	m.MountsActive.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
