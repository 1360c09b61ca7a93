package observability

import (
	"context"
	"sync"
	"time"
)

// Metrics collects application metrics.
type Metrics interface {
	RecordValidation(ctx context.Context, result string, elapsed time.Duration)
	RecordDecision(ctx context.Context, effect string)
}

// InMemoryMetrics keeps counters in process memory.
type InMemoryMetrics struct {
	mu           sync.Mutex
	validations  map[string]uint64
	decisions    map[string]uint64
	count        uint64
	totalLatency time.Duration
	maxLatency   time.Duration
	startedAt    time.Time
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		validations: make(map[string]uint64),
		decisions:   make(map[string]uint64),
		startedAt:   time.Now(),
	}
}

// RecordValidation counts one validation by result ("valid" or a rejection reason).
func (m *InMemoryMetrics) RecordValidation(ctx context.Context, result string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.validations[result]++
	m.count++
	m.totalLatency += elapsed
	if elapsed > m.maxLatency {
		m.maxLatency = elapsed
	}
}

// RecordDecision counts one decision by effect.
func (m *InMemoryMetrics) RecordDecision(ctx context.Context, effect string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decisions[effect]++
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Validations   map[string]uint64 `json:"validations"`
	Decisions     map[string]uint64 `json:"decisions"`
	Total         uint64            `json:"total_validations"`
	AvgLatencyMs  float64           `json:"avg_latency_ms"`
	MaxLatencyMs  float64           `json:"max_latency_ms"`
	UptimeSeconds float64           `json:"uptime_seconds"`
}

// Snapshot copies the current counters.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Validations:   make(map[string]uint64, len(m.validations)),
		Decisions:     make(map[string]uint64, len(m.decisions)),
		Total:         m.count,
		MaxLatencyMs:  float64(m.maxLatency) / float64(time.Millisecond),
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
	}
	for k, v := range m.validations {
		snap.Validations[k] = v
	}
	for k, v := range m.decisions {
		snap.Decisions[k] = v
	}
	if m.count > 0 {
		snap.AvgLatencyMs = float64(m.totalLatency) / float64(m.count) / float64(time.Millisecond)
	}

	return snap
}
