package monitoring

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every Record/Inc method is safe on a
// nil receiver so components can run without a collector.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Tracking metrics
	TrackTotal    *prometheus.CounterVec
	TrackDuration *prometheus.HistogramVec
	BatchSize     prometheus.Histogram
	PendingPolls  prometheus.Counter

	// Upstream metrics
	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	// Credential metrics
	CredentialLookups  *prometheus.CounterVec
	CredentialRefresh  *prometheus.CounterVec
	RefreshDuration    prometheus.Histogram
	CredentialAge      prometheus.Gauge
	CredentialInvalids *prometheus.CounterVec

	// Sandbox metrics
	SandboxSessions *prometheus.CounterVec
	SandboxStage    *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
	stop      chan struct{}
	stopOnce  sync.Once

	inFlight atomic.Int64
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON API
type MetricsSnapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	RequestsInFlight  int64   `json:"requests_in_flight"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
	TrackedNumbers    int64   `json:"tracked_numbers"`
	CredentialRefresh int64   `json:"credential_refreshes"`

	totalDuration float64
}

// NewMetrics creates a collector on its own registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates a collector registered on reg
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),
		stop:      make(chan struct{}),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track17_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "track17_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "track17_http_requests_in_flight",
				Help: "HTTP requests currently being served",
			},
		),

		TrackTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track17_track_total",
				Help: "Tracking lookups by carrier and outcome",
			},
			[]string{"carrier", "outcome"},
		),
		TrackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "track17_track_duration_seconds",
				Help:    "End-to-end tracking lookup duration",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "track17_batch_size",
				Help:    "Tracking numbers per batch call",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 100},
			},
		),
		PendingPolls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "track17_pending_polls_total",
				Help: "Polls issued for shipments still being fetched upstream",
			},
		),

		UpstreamCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track17_upstream_calls_total",
				Help: "Upstream HTTP calls by target and status",
			},
			[]string{"target", "status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "track17_upstream_duration_seconds",
				Help:    "Upstream HTTP call duration",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"target"},
		),

		CredentialLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track17_credential_lookups_total",
				Help: "Credential cache lookups by result (hit, miss, store)",
			},
			[]string{"result"},
		),
		CredentialRefresh: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track17_credential_refresh_total",
				Help: "Credential generations by outcome",
			},
			[]string{"outcome"},
		),
		RefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "track17_credential_refresh_duration_seconds",
				Help:    "Time to generate a credential",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		CredentialAge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "track17_credential_issued_timestamp_seconds",
				Help: "Unix time the current credential was issued",
			},
		),
		CredentialInvalids: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track17_credential_invalidations_total",
				Help: "Credential invalidations by upstream reason",
			},
			[]string{"reason"},
		),

		SandboxSessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "track17_sandbox_sessions_total",
				Help: "Sandbox sessions by final state",
			},
			[]string{"state"},
		),
		SandboxStage: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "track17_sandbox_stage_duration_seconds",
				Help:    "Time spent in each sandbox stage",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "track17_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Registry returns the registry metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Close stops the uptime updater
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.stop:
			return
		}
	}
}

// RequestStarted marks an HTTP request as in flight
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.RequestsInFlight.Set(float64(m.inFlight.Add(1)))
}

// RequestFinished records a completed HTTP request
func (m *Metrics) RequestFinished(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Set(float64(m.inFlight.Add(-1)))
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordTrack records one tracking number lookup
func (m *Metrics) RecordTrack(carrier, outcome string) {
	if m == nil {
		return
	}
	m.TrackTotal.WithLabelValues(carrier, outcome).Inc()

	m.mu.Lock()
	m.snapshot.TrackedNumbers++
	m.mu.Unlock()
}

// ObserveTrack records the duration of a single or batch call
func (m *Metrics) ObserveTrack(mode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TrackDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveBatch records the size of a batch call
func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
}

// IncPendingPolls counts a poll for a pending shipment
func (m *Metrics) IncPendingPolls() {
	if m == nil {
		return
	}
	m.PendingPolls.Inc()
}

// RecordUpstream records an upstream HTTP call
func (m *Metrics) RecordUpstream(target, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamCalls.WithLabelValues(target, status).Inc()
	m.UpstreamDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// RecordCredentialLookup records a cache lookup result
func (m *Metrics) RecordCredentialLookup(result string) {
	if m == nil {
		return
	}
	m.CredentialLookups.WithLabelValues(result).Inc()
}

// RecordCredentialRefresh records a credential generation
func (m *Metrics) RecordCredentialRefresh(outcome string, duration time.Duration, issued time.Time) {
	if m == nil {
		return
	}
	m.CredentialRefresh.WithLabelValues(outcome).Inc()
	m.RefreshDuration.Observe(duration.Seconds())
	if outcome == "success" {
		m.CredentialAge.Set(float64(issued.Unix()))
		m.mu.Lock()
		m.snapshot.CredentialRefresh++
		m.mu.Unlock()
	}
}

// RecordInvalidation records a forced credential invalidation
func (m *Metrics) RecordInvalidation(reason string) {
	if m == nil {
		return
	}
	m.CredentialInvalids.WithLabelValues(reason).Inc()
}

// RecordSandboxSession records the terminal state of a sandbox session
func (m *Metrics) RecordSandboxSession(state string) {
	if m == nil {
		return
	}
	m.SandboxSessions.WithLabelValues(state).Inc()
}

// ObserveSandboxStage records time spent in one sandbox stage
func (m *Metrics) ObserveSandboxStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SandboxStage.WithLabelValues(stage).Observe(duration.Seconds())
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	snap.RequestsInFlight = m.inFlight.Load()
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	if snap.TotalRequests > 0 {
		snap.AvgLatencySeconds = snap.totalDuration / float64(snap.TotalRequests)
	}
	return snap
}
