package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestStructuredLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: INFO, JSON: true, Output: &buf}).WithComponent("memory")

	logger.Debug("hidden")
	logger.Info("stored", "id", "m-1", "err", errors.New("boom"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "stored", entries[0].Message)
	assert.Equal(t, "memory", entries[0].Component)
	assert.Equal(t, "m-1", entries[0].Fields["id"])
	assert.Equal(t, "boom", entries[0].Fields["err"])
	assert.Equal(t, "logger_test.go", entries[0].File)
}

func TestStructuredLogger_ContextTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: DEBUG, JSON: true, Output: &buf})

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.DebugContext(ctx, "hello")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "trace-123", entries[0].TraceID)
}

func TestStructuredLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: INFO, JSON: false, Output: &buf})

	logger.Warn("slow store", "b", 2, "a", 1)

	line := buf.String()
	assert.Contains(t, line, "[WARN]")
	assert.Contains(t, line, "slow store a=1 b=2")
}

func TestWithTraceID_Generates(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel("warning"))
	assert.Equal(t, ERROR, ParseLogLevel(" ERROR "))
	assert.Equal(t, INFO, ParseLogLevel("verbose"))
}

func TestToolCall_Events(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: INFO, JSON: true, Output: &buf})
	ctx := WithTraceID(context.Background(), "corr-9")

	call := StartTool(ctx, logger, "recall", "user_id", "alice")
	call.Failure("ACCESS_DENIED", "denied")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, EventToolStart, entries[0].Message)
	assert.Equal(t, "corr-9", entries[0].Fields["correlation_id"])
	assert.Equal(t, "alice", entries[0].Fields["user_id"])
	assert.Equal(t, EventToolError, entries[1].Message)
	assert.Equal(t, "ACCESS_DENIED", entries[1].Fields["error_code"])
	assert.Equal(t, "corr-9", call.CorrelationID())
}
