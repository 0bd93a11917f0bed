// Package observability keeps in-process counters for requests and saga runs
// and mirrors them to Prometheus.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"applyflow/internal/applications/saga"
)

type RouteSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type StepSnapshot struct {
	Count    int64   `json:"count"`
	Failures int64   `json:"failures"`
	AvgMs    float64 `json:"avg_ms"`
}

type Snapshot struct {
	UptimeSec       int64                    `json:"uptime_sec"`
	TotalRequests   int64                    `json:"total_requests"`
	TotalErrors     int64                    `json:"total_errors"`
	InFlight        int64                    `json:"in_flight"`
	RateLimitWaits  int64                    `json:"rate_limit_waits"`
	RateLimitWaitMs int64                    `json:"rate_limit_wait_ms"`
	Sagas           map[string]int64         `json:"sagas"`
	Steps           map[string]StepSnapshot  `json:"steps"`
	PublishFailures map[string]int64         `json:"publish_failures"`
	Lifecycle       *LifecycleSnapshot       `json:"lifecycle,omitempty"`
	Routes          map[string]RouteSnapshot `json:"routes"`
}

type routeStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type stepStats struct {
	count    int64
	failures int64
	total    time.Duration
}

// Metrics records request spans and saga outcomes. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	mu              sync.Mutex
	start           time.Time
	routes          map[string]*routeStats
	steps           map[saga.Step]*stepStats
	sagas           map[saga.Status]int64
	publishFailures map[string]int64
	rateLimitWaits  int64
	rateLimitWait   time.Duration
	lifecycle       lifecycleStats
	prom            *collectors
}

type CallSpan struct {
	metrics *Metrics
	route   string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

type collectors struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	steps         *prometheus.HistogramVec
	sagas         *prometheus.CounterVec
	publishFailed *prometheus.CounterVec
	rateLimitWait prometheus.Counter
}

// NewMetrics constructs Metrics. When reg is non-nil the Prometheus
// collectors are registered on it.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		start:           time.Now(),
		routes:          make(map[string]*routeStats),
		steps:           make(map[saga.Step]*stepStats),
		sagas:           make(map[saga.Status]int64),
		publishFailures: make(map[string]int64),
	}
	if reg == nil {
		return m, nil
	}
	c := &collectors{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "applyflow", Name: "requests_total", Help: "Handled requests by route and outcome.",
		}, []string{"route", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "applyflow", Name: "request_duration_seconds", Help: "Request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "applyflow", Subsystem: "saga", Name: "step_duration_seconds", Help: "Saga step latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step", "outcome"}),
		sagas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "applyflow", Subsystem: "saga", Name: "runs_total", Help: "Saga runs by final status.",
		}, []string{"status"}),
		publishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "applyflow", Subsystem: "events", Name: "publish_failures_total", Help: "Swallowed publish failures by event.",
		}, []string{"event"}),
		rateLimitWait: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "applyflow", Name: "rate_limit_wait_seconds_total", Help: "Time spent waiting on rate limiters.",
		}),
	}
	for _, col := range []prometheus.Collector{c.requests, c.latency, c.steps, c.sagas, c.publishFailed, c.rateLimitWait} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	m.prom = c
	return m, nil
}

func (m *Metrics) Start(route string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureRoute(route)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		route:   route,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.finish(s.route, time.Since(s.start), err != nil)
}

// StepDone records one saga step.
func (m *Metrics) StepDone(step saga.Step, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats, ok := m.steps[step]
	if !ok {
		stats = &stepStats{}
		m.steps[step] = stats
	}
	stats.count++
	stats.total += elapsed
	if err != nil {
		stats.failures++
	}
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.steps.WithLabelValues(string(step), outcome(err != nil)).Observe(elapsed.Seconds())
	}
}

// SagaDone records the final status of a saga run.
func (m *Metrics) SagaDone(status saga.Status) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagas[status]++
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.sagas.WithLabelValues(string(status)).Inc()
	}
}

// PublishFailed counts an event publish failure that was swallowed.
func (m *Metrics) PublishFailed(event string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.publishFailures[event]++
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.publishFailed.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.rateLimitWait.Add(d.Seconds())
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		UptimeSec:       int64(time.Since(m.start).Seconds()),
		Routes:          make(map[string]RouteSnapshot, len(m.routes)),
		Steps:           make(map[string]StepSnapshot, len(m.steps)),
		Sagas:           make(map[string]int64, len(m.sagas)),
		PublishFailures: make(map[string]int64, len(m.publishFailures)),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for route, stats := range m.routes {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Routes[route] = RouteSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}
	for step, stats := range m.steps {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.total.Milliseconds()) / float64(stats.count)
		}
		snap.Steps[string(step)] = StepSnapshot{Count: stats.count, Failures: stats.failures, AvgMs: avg}
	}
	for status, n := range m.sagas {
		snap.Sagas[string(status)] = n
	}
	for event, n := range m.publishFailures {
		snap.PublishFailures[event] = n
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureRoute(route string) *routeStats {
	stats, ok := m.routes[route]
	if !ok {
		stats = &routeStats{}
		m.routes[route] = stats
	}
	return stats
}

func (m *Metrics) finish(route string, dur time.Duration, failed bool) {
	m.mu.Lock()
	stats := m.ensureRoute(route)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.requests.WithLabelValues(route, outcome(failed)).Inc()
		m.prom.latency.WithLabelValues(route).Observe(dur.Seconds())
	}
}

// MarkShutdown records the in-flight count when shutdown began.
func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}

// InFlight returns the number of requests currently being handled.
func (m *Metrics) InFlight() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, stats := range m.routes {
		n += stats.inFlight
	}
	return n
}

func outcome(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
