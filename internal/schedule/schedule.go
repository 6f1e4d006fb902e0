// Package schedule turns a scheduled_for time and a recurrence into a cron
// expression and its next run.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Named recurrences
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// Metadata keys written on scheduled memories
const (
	KeyScheduledFor = "scheduled_for"
	KeyRecurrence   = "recurrence"
	KeyCron         = "cron"
	KeyNextRun      = "next_run"
)

// Plan is a validated schedule
type Plan struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Recurrence   string    `json:"recurrence,omitempty"`
	Cron         string    `json:"cron,omitempty"`
	NextRun      time.Time `json:"next_run"`
	// Due is set for a one-shot schedule whose time has passed
	Due bool `json:"due"`
}

// ParseTime accepts RFC3339 with or without fractional seconds
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("scheduled time is required")
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduled time must be RFC3339: %w", err)
	}
	return t.UTC(), nil
}

// CronFor maps a recurrence to a cron expression anchored on at. A value that
// is not a named recurrence must itself be a valid cron expression.
func CronFor(recurrence string, at time.Time) (string, error) {
	at = at.UTC()
	switch strings.ToLower(strings.TrimSpace(recurrence)) {
	case "":
		return "", nil
	case Daily:
		return fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour()), nil
	case Weekly:
		return fmt.Sprintf("%d %d * * %d", at.Minute(), at.Hour(), int(at.Weekday())), nil
	case Monthly:
		return fmt.Sprintf("%d %d %d * *", at.Minute(), at.Hour(), at.Day()), nil
	}

	expr := strings.TrimSpace(recurrence)
	if !gronx.New().IsValid(expr) {
		return "", fmt.Errorf("recurrence %q is neither daily, weekly, monthly nor a valid cron expression", recurrence)
	}
	return expr, nil
}

// NewPlan validates a schedule and computes its next run after now
func NewPlan(scheduledFor, recurrence string, now time.Time) (Plan, error) {
	at, err := ParseTime(scheduledFor)
	if err != nil {
		return Plan{}, err
	}
	cron, err := CronFor(recurrence, at)
	if err != nil {
		return Plan{}, err
	}

	now = now.UTC()
	plan := Plan{
		ScheduledFor: at,
		Recurrence:   strings.ToLower(strings.TrimSpace(recurrence)),
		Cron:         cron,
		NextRun:      at,
	}

	switch {
	case at.After(now):
	case cron == "":
		plan.Due = true
	default:
		next, err := gronx.NextTickAfter(cron, now, false)
		if err != nil {
			return Plan{}, fmt.Errorf("failed to compute next run: %w", err)
		}
		plan.NextRun = next.UTC()
	}
	return plan, nil
}

// Metadata renders the plan as memory metadata
func (p Plan) Metadata() map[string]string {
	md := map[string]string{
		KeyScheduledFor: p.ScheduledFor.Format(time.RFC3339),
		KeyNextRun:      p.NextRun.Format(time.RFC3339),
	}
	if p.Recurrence != "" {
		md[KeyRecurrence] = p.Recurrence
		md[KeyCron] = p.Cron
	}
	return md
}
