package notify

import (
	"context"
	"time"

	"crewdesk.io/internal/obs"
)

// LateArrival is emitted when a check-in lands after the expected shift
// start for the weekday.
type LateArrival struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name,omitempty"`
	LateMinutes int       `json:"late_minutes"`
	ExpectedAt  string    `json:"expected_at"` // HH:MM in business timezone
	CheckedInAt time.Time `json:"checked_in_at"`
}

// Absence is emitted by the daily sweep for members scheduled today who
// never checked in.
type Absence struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Day    string `json:"day"` // operative day, YYYY-MM-DD
}

// Notifier delivers attendance notifications. Failures are the caller's to
// swallow: a missed notification must never fail the attendance action that
// triggered it.
type Notifier interface {
	NotifyLateArrival(ctx context.Context, evt LateArrival) error
	NotifyAbsence(ctx context.Context, evt Absence) error
}

// LogNotifier emits notifications as structured log lines. Delivery to
// mail/push channels is handled by an external relay tailing these events.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) NotifyLateArrival(ctx context.Context, evt LateArrival) error {
	obs.IncNotification("late_arrival")
	obs.LogRequest(map[string]any{
		"ts":           time.Now().UTC().Format(time.RFC3339Nano),
		"level":        "info",
		"msg":          "late arrival",
		"type":         "notification",
		"kind":         "late_arrival",
		"user_id":      evt.UserID,
		"name":         evt.Name,
		"late_minutes": evt.LateMinutes,
		"expected_at":  evt.ExpectedAt,
	})
	return nil
}

func (LogNotifier) NotifyAbsence(ctx context.Context, evt Absence) error {
	obs.IncNotification("absence")
	obs.LogRequest(map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   "info",
		"msg":     "absence detected",
		"type":    "notification",
		"kind":    "absence",
		"user_id": evt.UserID,
		"name":    evt.Name,
		"day":     evt.Day,
	})
	return nil
}
