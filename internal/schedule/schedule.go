package schedule

import (
	"context"
	"errors"
	"time"
)

// MinuteOfDay is minutes since midnight in the business timezone.
type MinuteOfDay int

// Clock renders the value as HH:MM for logs and notifications.
func (m MinuteOfDay) Clock() string {
	h := int(m) / 60
	min := int(m) % 60
	return twoDigits(h) + ":" + twoDigits(min)
}

func twoDigits(v int) string {
	if v < 10 {
		return string([]byte{'0', byte('0' + v)})
	}
	return string([]byte{byte('0' + v/10), byte('0' + v%10)})
}

// Member is a staff directory entry with the work-schedule fields the
// attendance core needs. Profile data (contacts, contracts, forms) lives in
// the HR system and is not mirrored here.
type Member struct {
	ID       string
	Name     string
	Status   string // "active" or "inactive"
	WorkDays map[time.Weekday]bool
	// Starts maps each working weekday to the expected shift start.
	Starts map[time.Weekday]MinuteOfDay
}

// Active reports whether the member participates in attendance tracking.
func (m *Member) Active() bool { return m.Status == "active" }

// WorksOn reports whether the weekday is part of the member's schedule.
func (m *Member) WorksOn(day time.Weekday) bool {
	return m.WorkDays != nil && m.WorkDays[day]
}

// StartFor returns the expected shift start for the weekday, if configured.
func (m *Member) StartFor(day time.Weekday) (MinuteOfDay, bool) {
	if m.Starts == nil {
		return 0, false
	}
	start, ok := m.Starts[day]
	return start, ok
}

// ErrNotFound indicates an unknown member id.
var ErrNotFound = errors.New("schedule: member not found")

// Directory looks up staff work schedules. Implemented by the Postgres store
// and by Static for tests and bootstrap deployments.
type Directory interface {
	Find(ctx context.Context, id string) (*Member, error)
	ListActive(ctx context.Context) ([]*Member, error)
}
