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

// Challenge outcomes
const (
	OutcomeSolved = "solved"
	OutcomeFailed = "failed"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Upstream metrics
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec

	// Challenge metrics
	Challenges        *prometheus.CounterVec
	ChallengeDuration *prometheus.HistogramVec
	SessionRefreshes  prometheus.Counter

	// Engine metrics
	EngineRuns     *prometheus.CounterVec
	EngineDuration *prometheus.HistogramVec

	// Proxy metrics
	ProxyFailures *prometheus.CounterVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests    int64   `json:"total_requests"`
	TotalErrors      int64   `json:"total_errors"`
	UpstreamRequests int64   `json:"upstream_requests"`
	ChallengesSolved int64   `json:"challenges_solved"`
	ChallengesFailed int64   `json:"challenges_failed"`
	SessionRefreshes int64   `json:"session_refreshes"`
	AverageLatency   float64 `json:"average_latency_seconds"`
	UptimeSeconds    float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics registers every collector on a private registry so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfshim_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cfshim_http_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cfshim_http_response_size_bytes",
				Help:    "API response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		UpstreamRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfshim_upstream_requests_total",
				Help: "Requests sent to upstream sites",
			},
			[]string{"host", "status"},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cfshim_upstream_request_duration_seconds",
				Help:    "Upstream round trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		),

		Challenges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfshim_challenges_total",
				Help: "Cloudflare challenges encountered",
			},
			[]string{"kind", "outcome"},
		),
		ChallengeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cfshim_challenge_duration_seconds",
				Help:    "Time spent solving a challenge, including the submission",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		SessionRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cfshim_session_refreshes_total",
				Help: "Clearance sessions discarded and re-established",
			},
		),

		EngineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfshim_engine_runs_total",
				Help: "Challenge scripts evaluated per engine",
			},
			[]string{"engine", "outcome"},
		),
		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cfshim_engine_duration_seconds",
				Help:    "Script evaluation duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"engine"},
		),

		ProxyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cfshim_proxy_failures_total",
				Help: "Requests that failed through a proxy",
			},
			[]string{"proxy"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cfshim_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordUpstream records one request to an upstream host. status is the
// HTTP status code or "error" when no response arrived.
func (m *Metrics) RecordUpstream(host, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(host, status).Inc()
	m.UpstreamDuration.WithLabelValues(host).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.UpstreamRequests++
	m.mu.Unlock()
}

// RecordChallenge records a challenge attempt and how long it took.
func (m *Metrics) RecordChallenge(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Challenges.WithLabelValues(kind, outcome).Inc()
	m.ChallengeDuration.WithLabelValues(kind).Observe(duration.Seconds())

	m.mu.Lock()
	if outcome == OutcomeSolved {
		m.snapshot.ChallengesSolved++
	} else {
		m.snapshot.ChallengesFailed++
	}
	m.mu.Unlock()
}

// RecordEngineRun records one script evaluation.
func (m *Metrics) RecordEngineRun(engine, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EngineRuns.WithLabelValues(engine, outcome).Inc()
	m.EngineDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// IncSessionRefreshes counts a discarded clearance session.
func (m *Metrics) IncSessionRefreshes() {
	if m == nil {
		return
	}
	m.SessionRefreshes.Inc()
	m.mu.Lock()
	m.snapshot.SessionRefreshes++
	m.mu.Unlock()
}

// IncProxyFailures counts a failed request through proxy.
func (m *Metrics) IncProxyFailures(proxy string) {
	if m == nil {
		return
	}
	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// Snapshot returns current values for the JSON API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	if s.TotalRequests > 0 {
		s.AverageLatency = s.totalDuration / float64(s.TotalRequests)
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
