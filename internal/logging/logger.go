// Package logging provides structured logging with trace support.
//
// Log records always go to stderr: stdout is reserved for the stdio MCP transport.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Logger interface for structured logging with trace support
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})

	// Context-aware logging with trace IDs
	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})
	DebugContext(ctx context.Context, msg string, fields ...interface{})

	WithTraceID(traceID string) Logger
	WithComponent(component string) Logger
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	File      string                 `json:"file,omitempty"`
	Line      int                    `json:"line,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// ContextKey represents keys used in context for trace IDs
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
)

// LogLevel represents logging levels
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Options configures a StructuredLogger
type Options struct {
	Level  LogLevel
	JSON   bool
	Output io.Writer
}

// StructuredLogger implements structured logging with JSON or coloured text output
type StructuredLogger struct {
	level     LogLevel
	traceID   string
	component string
	useJSON   bool
	out       io.Writer
	mu        *sync.Mutex
}

var levelColors = map[string]*color.Color{
	"DEBUG": color.New(color.FgHiBlack),
	"INFO":  color.New(color.FgCyan),
	"WARN":  color.New(color.FgYellow, color.Bold),
	"ERROR": color.New(color.FgRed, color.Bold),
	"FATAL": color.New(color.FgHiRed, color.Bold),
}

// NewLogger creates a JSON logger on stderr
func NewLogger(level LogLevel) Logger {
	return New(Options{Level: level, JSON: true})
}

// New creates a logger from explicit options
func New(opts Options) *StructuredLogger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return &StructuredLogger{
		level:   opts.Level,
		useJSON: opts.JSON,
		out:     out,
		mu:      &sync.Mutex{},
	}
}

func (l *StructuredLogger) clone() *StructuredLogger {
	c := *l
	return &c
}

// WithTraceID creates a new logger with a trace ID
func (l *StructuredLogger) WithTraceID(traceID string) Logger {
	c := l.clone()
	c.traceID = traceID
	return c
}

// WithComponent creates a new logger with a component name
func (l *StructuredLogger) WithComponent(component string) Logger {
	c := l.clone()
	c.component = component
	return c
}

func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.log(INFO, msg, "", fields...)
}

func (l *StructuredLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(INFO, msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.log(WARN, msg, "", fields...)
}

func (l *StructuredLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(WARN, msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.log(ERROR, msg, "", fields...)
}

func (l *StructuredLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ERROR, msg, GetTraceID(ctx), fields...)
}

func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.log(DEBUG, msg, "", fields...)
}

func (l *StructuredLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(DEBUG, msg, GetTraceID(ctx), fields...)
}

// Fatal logs a fatal message and exits
func (l *StructuredLogger) Fatal(msg string, fields ...interface{}) {
	l.log(FATAL, msg, "", fields...)
	os.Exit(1)
}

func (l *StructuredLogger) log(level LogLevel, msg, contextTraceID string, fields ...interface{}) {
	if level < l.level {
		return
	}

	traceID := l.traceID
	if contextTraceID != "" {
		traceID = contextTraceID
	}

	// skip log, the level method and the public caller frame
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "unknown"
		line = 0
	} else {
		parts := strings.Split(file, "/")
		file = parts[len(parts)-1]
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
		File:      file,
		Line:      line,
		Fields:    fieldMap(fields),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.useJSON {
		l.outputJSON(entry)
	} else {
		l.outputText(entry)
	}
}

func fieldMap(fields []interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields)/2+1)
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			v := fields[i+1]
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			m[fmt.Sprintf("%v", fields[i])] = v
		} else {
			m[fmt.Sprintf("field_%d", i)] = fields[i]
		}
	}
	return m
}

func (l *StructuredLogger) outputJSON(entry LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.out, "failed to marshal log entry: %v\n", err)
		return
	}
	fmt.Fprintln(l.out, string(data))
}

func (l *StructuredLogger) outputText(entry LogEntry) {
	parts := []string{entry.Timestamp}

	level := fmt.Sprintf("[%s]", entry.Level)
	if c, ok := levelColors[entry.Level]; ok {
		level = c.Sprint(level)
	}
	parts = append(parts, level)

	if entry.TraceID != "" {
		id := entry.TraceID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, "trace:"+id)
	}
	if entry.Component != "" {
		parts = append(parts, "component:"+entry.Component)
	}
	parts = append(parts, entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, entry.Fields[k]))
	}

	if entry.File != "" && entry.Line > 0 {
		parts = append(parts, fmt.Sprintf("(%s:%d)", entry.File, entry.Line))
	}

	fmt.Fprintln(l.out, strings.Join(parts, " "))
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewLogger(INFO)
)

func current() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Package-level functions for convenience
func Info(msg string, fields ...interface{})  { current().Info(msg, fields...) }
func Warn(msg string, fields ...interface{})  { current().Warn(msg, fields...) }
func Error(msg string, fields ...interface{}) { current().Error(msg, fields...) }
func Debug(msg string, fields ...interface{}) { current().Debug(msg, fields...) }
func Fatal(msg string, fields ...interface{}) { current().Fatal(msg, fields...) }

// GenerateTraceID returns a fresh correlation id
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID in ctx, generating one when empty
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithComponent returns the default logger scoped to a component
func WithComponent(component string) Logger {
	return current().WithComponent(component)
}

// ParseLogLevel parses a level name, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetDefaultLogger sets the default logger instance
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}
