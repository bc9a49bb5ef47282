package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule describes when a recurring query fires. Exactly one of the
// kind-specific fields is meaningful.
type Schedule struct {
	Kind       string `json:"kind"`                  // "cron", "interval" or "once"
	CronExpr   string `json:"cron_expr,omitempty"`   // kind=cron
	IntervalMs int64  `json:"interval_ms,omitempty"` // kind=interval
	AtMs       int64  `json:"at_ms,omitempty"`       // kind=once, unix ms
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

// NextRun computes the next due time after now, or nil when the schedule
// will never fire again (a one-shot in the past, or an invalid definition).
func NextRun(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}

	switch s.Kind {
	case "cron":
		next, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		return &next
	case "interval":
		if s.IntervalMs <= 0 {
			return nil
		}
		next := now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
		return &next
	case "once":
		at := time.UnixMilli(s.AtMs)
		if at.After(now) {
			return &at
		}
		return nil
	}
	return nil
}

// Normalize accepts either a schedule JSON document or a bare cron
// expression, validates it and returns the canonical JSON form.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		switch s.Kind {
		case "cron":
			if !gronx.New().IsValid(s.CronExpr) {
				return "", fmt.Errorf("invalid cron expression: %s", s.CronExpr)
			}
		case "interval":
			if s.IntervalMs <= 0 {
				return "", fmt.Errorf("interval_ms must be positive")
			}
		case "once":
			if s.AtMs <= 0 {
				return "", fmt.Errorf("at_ms must be positive")
			}
		default:
			return "", fmt.Errorf("unknown schedule kind: %s", s.Kind)
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not schedule JSON or a cron expression: %s", raw)
	}
	data, err := json.Marshal(Schedule{Kind: "cron", CronExpr: raw})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Describe renders a short human-readable form for listings.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}
	switch s.Kind {
	case "cron":
		return "cron " + s.CronExpr
	case "interval":
		return "every " + (time.Duration(s.IntervalMs) * time.Millisecond).String()
	case "once":
		return "once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	}
	return raw
}
