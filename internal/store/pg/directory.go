package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crewdesk.io/internal/schedule"
)

// StaffDirectory implements schedule.Directory on the staff table. Work
// schedules are stored as JSON: work_days is an array of weekday names,
// work_starts maps weekday name to minutes since midnight.
type StaffDirectory struct {
	db *sql.DB
}

var _ schedule.Directory = (*StaffDirectory)(nil)

const staffColumns = `id, name, status, work_days, work_starts`

func (s *StaffDirectory) Find(ctx context.Context, id string) (*schedule.Member, error) {
	row := s.db.QueryRowContext(ctx, `select `+staffColumns+` from staff where id = $1`, id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schedule.ErrNotFound
	}
	return m, err
}

func (s *StaffDirectory) ListActive(ctx context.Context) ([]*schedule.Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+staffColumns+` from staff where status = 'active' order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*schedule.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func scanMember(row rowScanner) (*schedule.Member, error) {
	var m schedule.Member
	var days, starts []byte
	if err := row.Scan(&m.ID, &m.Name, &m.Status, &days, &starts); err != nil {
		return nil, err
	}

	var dayNames []string
	if len(days) > 0 {
		if err := json.Unmarshal(days, &dayNames); err != nil {
			return nil, fmt.Errorf("staff %s: work_days: %w", m.ID, err)
		}
	}
	m.WorkDays = make(map[time.Weekday]bool, len(dayNames))
	for _, name := range dayNames {
		day, ok := parseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("staff %s: unknown weekday %q", m.ID, name)
		}
		m.WorkDays[day] = true
	}

	var startMap map[string]int
	if len(starts) > 0 {
		if err := json.Unmarshal(starts, &startMap); err != nil {
			return nil, fmt.Errorf("staff %s: work_starts: %w", m.ID, err)
		}
	}
	m.Starts = make(map[time.Weekday]schedule.MinuteOfDay, len(startMap))
	for name, minutes := range startMap {
		day, ok := parseWeekday(name)
		if !ok {
			return nil, fmt.Errorf("staff %s: unknown weekday %q", m.ID, name)
		}
		m.Starts[day] = schedule.MinuteOfDay(minutes)
	}
	return &m, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(name string) (time.Weekday, bool) {
	day, ok := weekdayNames[name]
	return day, ok
}
