package storage

import (
	"sync"
	"time"
)

// StorageMetrics tracks per-operation counts and latency of a backing store
type StorageMetrics struct {
	OperationCounts  map[string]int64   `json:"operation_counts"`
	AverageLatency   map[string]float64 `json:"average_latency_ms"`
	ErrorCounts      map[string]int64   `json:"error_counts"`
	LastOperation    string             `json:"last_operation,omitempty"`
	ConnectionStatus string             `json:"connection_status"`
}

type metricsRecorder struct {
	mu sync.Mutex
	m  StorageMetrics
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{m: StorageMetrics{
		OperationCounts:  make(map[string]int64),
		AverageLatency:   make(map[string]float64),
		ErrorCounts:      make(map[string]int64),
		ConnectionStatus: "unknown",
	}}
}

// observe records one call; use as `defer r.observe("op", time.Now(), &err)`.
func (r *metricsRecorder) observe(operation string, start time.Time, errp *error) {
	ms := float64(time.Since(start).Microseconds()) / 1000

	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.m.OperationCounts[operation] + 1
	r.m.OperationCounts[operation] = n
	r.m.AverageLatency[operation] += (ms - r.m.AverageLatency[operation]) / float64(n)
	r.m.LastOperation = operation
	if errp != nil && *errp != nil && *errp != ErrNotFound {
		r.m.ErrorCounts[operation]++
	}
}

func (r *metricsRecorder) setStatus(status string) {
	r.mu.Lock()
	r.m.ConnectionStatus = status
	r.mu.Unlock()
}

func (r *metricsRecorder) snapshot() StorageMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.m
	out.OperationCounts = copyCounts(r.m.OperationCounts)
	out.ErrorCounts = copyCounts(r.m.ErrorCounts)
	out.AverageLatency = make(map[string]float64, len(r.m.AverageLatency))
	for k, v := range r.m.AverageLatency {
		out.AverageLatency[k] = v
	}
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
