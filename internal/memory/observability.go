package memory

import (
	"context"
	"time"

	"scoped-memory-mcp/internal/telemetry"
)

const (
	ToolTelemetryMetrics = "get_telemetry_metrics"
	ToolRecentOperations = "get_recent_operations"
)

// TelemetryResult is the data of get_telemetry_metrics
type TelemetryResult struct {
	Enabled bool `json:"enabled"`
	telemetry.Snapshot
}

// TelemetryMetrics reports per-tool counters for the whole server. No memory
// content is included.
func (s *Service) TelemetryMetrics(ctx context.Context) Envelope {
	return s.execute(ctx, call{
		tool: ToolTelemetryMetrics,
		delegate: func(context.Context) (interface{}, error) {
			if s.recorder == nil {
				return TelemetryResult{Enabled: false}, nil
			}
			return TelemetryResult{Enabled: true, Snapshot: s.recorder.Snapshot()}, nil
		},
	})
}

// OperationsResult is the data of get_recent_operations
type OperationsResult struct {
	Count      int                   `json:"count"`
	Operations []telemetry.Operation `json:"operations"`
}

// RecentOperations returns the caller's own latest tool calls, newest first
func (s *Service) RecentOperations(ctx context.Context, in RecentOperationsInput) Envelope {
	return s.execute(ctx, call{
		tool: ToolRecentOperations,
		user: in.UserID,
		validate: func() error {
			return requireUser(in.UserID)
		},
		delegate: func(context.Context) (interface{}, error) {
			limit := in.Limit
			if limit <= 0 {
				limit = s.config.RecentOperations
			}
			ops := []telemetry.Operation{}
			if s.recorder != nil {
				for _, op := range s.recorder.Recent(0) {
					if op.UserID != in.UserID {
						continue
					}
					ops = append(ops, op)
					if len(ops) == limit {
						break
					}
				}
			}
			return OperationsResult{Count: len(ops), Operations: ops}, nil
		},
	})
}

// HealthCheck is one dependency check
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one check
type CheckResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// HealthReport is served as memory://health
type HealthReport struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Health checks the store and every configured dependency. Any failure
// degrades the report.
func (s *Service) Health(ctx context.Context) HealthReport {
	checks := append([]HealthCheck{{Name: "store", Check: s.store.HealthCheck}}, s.checks...)

	report := HealthReport{Status: "ok", Timestamp: s.now().UTC(), Checks: make(map[string]CheckResult, len(checks))}
	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		err := c.Check(cctx)
		cancel()

		res := CheckResult{Status: "ok", LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
		if err != nil {
			res.Status = "error"
			res.Error = err.Error()
			report.Status = "degraded"
			s.logger.Warn("health check failed", "check", c.Name, "error", err)
		}
		report.Checks[c.Name] = res
	}
	return report
}
