package observability

import (
	"sync"
	"time"
)

// MethodSnapshot reports per-endpoint call stats.
type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// Snapshot is the full metrics view served at /metrics.
type Snapshot struct {
	UptimeSec           int64                     `json:"uptime_sec"`
	TotalRequests       int64                     `json:"total_requests"`
	TotalErrors         int64                     `json:"total_errors"`
	InFlight            int64                     `json:"in_flight"`
	RateLimitWaits      int64                     `json:"rate_limit_waits"`
	RateLimitWaitMs     int64                     `json:"rate_limit_wait_ms"`
	CheckoutTransitions map[string]int64          `json:"checkout_transitions"`
	JobOutcomes         map[string]int64          `json:"job_outcomes"`
	PollTicks           int64                     `json:"poll_ticks"`
	Methods             map[string]MethodSnapshot `json:"methods"`
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// Metrics aggregates request spans and domain counters behind one mutex.
type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	methods        map[string]*methodStats
	rateLimitWaits int64
	rateLimitWait  time.Duration
	transitions    map[string]int64
	jobOutcomes    map[string]int64
	pollTicks      int64
}

// CallSpan measures one request from Start to End.
type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

// NewMetrics constructs an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		start:       time.Now(),
		methods:     make(map[string]*methodStats),
		transitions: make(map[string]int64),
		jobOutcomes: make(map[string]int64),
	}
}

// Start opens a span for the named method.
func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

// End closes the span, recording latency and whether the call failed.
func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.method, dur, err != nil)
}

// AddRateLimitWait accumulates time spent blocked on the ingress limiter.
func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

// CountCheckoutTransition records a step change, keyed "from>to".
func (m *Metrics) CountCheckoutTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.mu.Lock()
	m.transitions[from+">"+to]++
	m.mu.Unlock()
}

// CountJobOutcome records a finished job by terminal state.
func (m *Metrics) CountJobOutcome(state string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.jobOutcomes[state]++
	m.mu.Unlock()
}

// CountPollTick records one status-check invocation.
func (m *Metrics) CountPollTick() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.pollTicks++
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		UptimeSec:           int64(time.Since(m.start).Seconds()),
		Methods:             make(map[string]MethodSnapshot),
		RateLimitWaits:      m.rateLimitWaits,
		RateLimitWaitMs:     int64(m.rateLimitWait / time.Millisecond),
		CheckoutTransitions: make(map[string]int64, len(m.transitions)),
		JobOutcomes:         make(map[string]int64, len(m.jobOutcomes)),
		PollTicks:           m.pollTicks,
	}

	for key, n := range m.transitions {
		snap.CheckoutTransitions[key] = n
	}
	for state, n := range m.jobOutcomes {
		snap.JobOutcomes[state] = n
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
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

	return snap
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
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
}
