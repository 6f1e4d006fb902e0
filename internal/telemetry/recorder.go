// Package telemetry records per-tool counters and a bounded log of recent operations,
// and traces the request pipeline with OpenTelemetry.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Operation is one completed tool call
type Operation struct {
	Tool          string    `json:"tool"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
	DurationMs    float64   `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToolMetrics aggregates the calls of one tool
type ToolMetrics struct {
	Calls        int64            `json:"calls"`
	Errors       int64            `json:"errors"`
	ErrorCodes   map[string]int64 `json:"error_codes,omitempty"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
	MaxLatencyMs float64          `json:"max_latency_ms"`
	LastCalledAt time.Time        `json:"last_called_at"`

	totalLatencyMs float64
}

// Snapshot is a consistent copy of the recorder state
type Snapshot struct {
	StartedAt   time.Time              `json:"started_at"`
	UptimeSecs  float64                `json:"uptime_seconds"`
	TotalCalls  int64                  `json:"total_calls"`
	TotalErrors int64                  `json:"total_errors"`
	ErrorRate   float64                `json:"error_rate"`
	Tools       map[string]ToolMetrics `json:"tools"`
}

// Recorder keeps counters per tool and a ring of the last operations
type Recorder struct {
	mu        sync.Mutex
	tools     map[string]*ToolMetrics
	ring      []Operation
	next      int
	full      bool
	startedAt time.Time
	now       func() time.Time
}

// NewRecorder keeps at most capacity recent operations
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 200
	}
	return &Recorder{
		tools:     make(map[string]*ToolMetrics),
		ring:      make([]Operation, capacity),
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Record adds a finished operation
func (r *Recorder) Record(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.tools[op.Tool]
	if !ok {
		m = &ToolMetrics{}
		r.tools[op.Tool] = m
	}
	m.Calls++
	m.totalLatencyMs += op.DurationMs
	m.AvgLatencyMs = m.totalLatencyMs / float64(m.Calls)
	if op.DurationMs > m.MaxLatencyMs {
		m.MaxLatencyMs = op.DurationMs
	}
	m.LastCalledAt = op.Timestamp
	if op.Status == "error" {
		m.Errors++
		if op.ErrorCode != "" {
			if m.ErrorCodes == nil {
				m.ErrorCodes = make(map[string]int64)
			}
			m.ErrorCodes[op.ErrorCode]++
		}
	}

	r.ring[r.next] = op
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to n operations, newest first; n <= 0 returns all retained
func (r *Recorder) Recent(n int) []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Operation, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Snapshot copies the counters
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		StartedAt:  r.startedAt,
		UptimeSecs: r.now().Sub(r.startedAt).Seconds(),
		Tools:      make(map[string]ToolMetrics, len(r.tools)),
	}
	for name, m := range r.tools {
		c := *m
		if m.ErrorCodes != nil {
			c.ErrorCodes = make(map[string]int64, len(m.ErrorCodes))
			for k, v := range m.ErrorCodes {
				c.ErrorCodes[k] = v
			}
		}
		snap.Tools[name] = c
		snap.TotalCalls += m.Calls
		snap.TotalErrors += m.Errors
	}
	if snap.TotalCalls > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalCalls)
	}
	return snap
}

// ToolNames lists recorded tools sorted by call count, busiest first
func (s Snapshot) ToolNames() []string {
	names := make([]string, 0, len(s.Tools))
	for name := range s.Tools {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := s.Tools[names[i]], s.Tools[names[j]]
		if a.Calls != b.Calls {
			return a.Calls > b.Calls
		}
		return names[i] < names[j]
	})
	return names
}
