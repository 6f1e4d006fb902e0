package logging

import (
	"context"
	"time"
)

// Tool lifecycle events
const (
	EventToolStart   = "tool_start"
	EventToolSuccess = "tool_success"
	EventToolError   = "tool_error"
)

// ToolCall logs the lifecycle of one tool invocation under a shared correlation id.
type ToolCall struct {
	logger        Logger
	tool          string
	correlationID string
	started       time.Time
}

// StartTool emits tool_start and returns a handle for the terminal event.
func StartTool(ctx context.Context, logger Logger, tool string, fields ...interface{}) *ToolCall {
	tc := &ToolCall{
		logger:        logger,
		tool:          tool,
		correlationID: GetTraceID(ctx),
		started:       time.Now(),
	}
	logger.InfoContext(ctx, EventToolStart, append([]interface{}{"tool", tool, "correlation_id", tc.correlationID}, fields...)...)
	return tc
}

// Success emits tool_success with elapsed time
func (tc *ToolCall) Success(fields ...interface{}) {
	base := []interface{}{
		"tool", tc.tool,
		"correlation_id", tc.correlationID,
		"duration_ms", time.Since(tc.started).Milliseconds(),
	}
	tc.logger.Info(EventToolSuccess, append(base, fields...)...)
}

// Failure emits tool_error with the stable error code
func (tc *ToolCall) Failure(code, message string, fields ...interface{}) {
	base := []interface{}{
		"tool", tc.tool,
		"correlation_id", tc.correlationID,
		"duration_ms", time.Since(tc.started).Milliseconds(),
		"error_code", code,
		"error", message,
	}
	tc.logger.Warn(EventToolError, append(base, fields...)...)
}

// Elapsed returns the time since tool_start
func (tc *ToolCall) Elapsed() time.Duration {
	return time.Since(tc.started)
}

// CorrelationID returns the id shared by all events of the call
func (tc *ToolCall) CorrelationID() string {
	return tc.correlationID
}
