// Package telemetry records per-backend usage for the generation
// orchestrator: request and error counts, cumulative latency, the last error
// seen, and the currently selected backend. The ledger is an explicitly
// constructed instance (no global state) so tests can build isolated copies;
// counters accumulate for the process lifetime and reset only on restart.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProviderStats is the accumulated record for one backend name.
type ProviderStats struct {
	// Requests is the number of generate attempts routed to the backend.
	Requests int64 `json:"requests"`

	// Errors is the number of failed attempts.
	Errors int64 `json:"errors"`

	// TotalLatencyMs is the cumulative wall-clock latency of successful
	// attempts in milliseconds.
	TotalLatencyMs int64 `json:"totalLatencyMs"`

	// LastError is the message of the most recent failure, empty if none.
	LastError string `json:"lastError,omitempty"`

	// LastUsed is when the backend last completed a successful attempt.
	LastUsed time.Time `json:"lastUsed,omitzero"`
}

// AvgLatencyMs returns the mean latency of successful attempts. Latency
// accumulates only on success, so failed attempts never dilute the average.
// Zero when no attempt has succeeded.
func (s ProviderStats) AvgLatencyMs() int64 {
	successes := s.Requests - s.Errors
	if successes <= 0 {
		return 0
	}
	return s.TotalLatencyMs / successes
}

// Snapshot is the read-only view returned to diagnostics callers.
type Snapshot struct {
	// Providers maps backend name to its accumulated stats.
	Providers map[string]ProviderStats `json:"providers"`

	// CurrentProvider is the name of the active backend, empty if none.
	CurrentProvider string `json:"currentProvider"`
}

// Ledger accumulates per-backend telemetry. Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	stats   map[string]*ProviderStats
	current string

	// requestsTotal counts generate attempts, partitioned by backend and
	// outcome ("ok" or "error").
	requestsTotal *prometheus.CounterVec

	// latencySeconds records the latency of successful generate attempts.
	latencySeconds *prometheus.HistogramVec
}

// NewLedger constructs a Ledger whose Prometheus metrics register against
// reg. promauto.With(reg) is used so each ledger registers into its own
// registry — this keeps unit tests hermetic.
func NewLedger(reg prometheus.Registerer) *Ledger {
	factory := promauto.With(reg)

	return &Ledger{
		stats: make(map[string]*ProviderStats),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "generation",
			Name:      "requests_total",
			Help:      "Total number of generation attempts, partitioned by backend and outcome.",
		}, []string{"backend", "outcome"}),
		latencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kestrel",
			Subsystem: "generation",
			Name:      "latency_seconds",
			Help:      "Latency of successful generation attempts.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"backend"}),
	}
}

// RecordSuccess records one successful attempt for the named backend.
func (l *Ledger) RecordSuccess(name string, latency time.Duration) {
	l.requestsTotal.WithLabelValues(name, "ok").Inc()
	l.latencySeconds.WithLabelValues(name).Observe(latency.Seconds())

	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.provider(name)
	s.Requests++
	s.TotalLatencyMs += latency.Milliseconds()
	s.LastUsed = time.Now()
}

// RecordError records one failed attempt for the named backend.
func (l *Ledger) RecordError(name string, err error) {
	l.requestsTotal.WithLabelValues(name, "error").Inc()

	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.provider(name)
	s.Requests++
	s.Errors++
	if err != nil {
		s.LastError = err.Error()
	}
}

// SetCurrent records the currently selected backend name. An empty name
// means no backend is active.
func (l *Ledger) SetCurrent(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = name
}

// Current returns the currently selected backend name.
func (l *Ledger) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Snapshot returns a deep copy of the accumulated stats.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Snapshot{
		Providers:       make(map[string]ProviderStats, len(l.stats)),
		CurrentProvider: l.current,
	}
	for name, s := range l.stats {
		out.Providers[name] = *s
	}
	return out
}

// provider returns the mutable stats entry for name, creating it on first
// use. Callers must hold l.mu.
func (l *Ledger) provider(name string) *ProviderStats {
	s, ok := l.stats[name]
	if !ok {
		s = &ProviderStats{}
		l.stats[name] = s
	}
	return s
}
