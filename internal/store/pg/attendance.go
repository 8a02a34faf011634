package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"crewdesk.io/internal/attendance"
)

// LogStore implements attendance.Store on Postgres. The partial unique
// index on (user_id, operative_day) for checkins turns a concurrent double
// scan into a constraint violation mapped to ErrAlreadyCheckedIn.
type LogStore struct {
	db *sql.DB
}

var _ attendance.Store = (*LogStore)(nil)

const logColumns = `id, user_id, action, recorded_at, operative_day, method, coalesce(token_value, ''), coalesce(token_sequence, 0), metadata`

const uniqueViolation = "23505"

func (s *LogStore) Insert(ctx context.Context, log *attendance.Log) error {
	meta, err := marshalMetadata(log.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into attendance_logs(id, user_id, action, recorded_at, operative_day, method, token_value, token_sequence, metadata)
		values ($1, $2, $3, $4, $5, $6, nullif($7, ''), nullif($8, 0), $9)
	`, log.ID, log.UserID, string(log.Action), log.Timestamp, log.OperativeDay,
		string(log.Method), log.TokenValue, log.TokenSequence, meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return attendance.ErrAlreadyCheckedIn
		}
		return err
	}
	return nil
}

func (s *LogStore) Find(ctx context.Context, id string) (*attendance.Log, error) {
	return s.scanOne(ctx, `select `+logColumns+` from attendance_logs where id = $1`, id)
}

func (s *LogStore) Update(ctx context.Context, log *attendance.Log) error {
	meta, err := marshalMetadata(log.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update attendance_logs
		set recorded_at = $2, operative_day = $3, method = $4, metadata = $5
		where id = $1
	`, log.ID, log.Timestamp, log.OperativeDay, string(log.Method), meta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return attendance.ErrLogNotFound
	}
	return nil
}

func (s *LogStore) LastCheckin(ctx context.Context, userID string) (*attendance.Log, error) {
	return s.scanOne(ctx, `
		select `+logColumns+` from attendance_logs
		where user_id = $1 and action = 'checkin'
		order by recorded_at desc
		limit 1
	`, userID)
}

func (s *LogStore) HasCheckinBetween(ctx context.Context, userID string, from, to time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from attendance_logs
			where user_id = $1 and action = 'checkin'
			  and recorded_at >= $2 and recorded_at < $3
		)
	`, userID, from, to).Scan(&exists)
	return exists, err
}

func (s *LogStore) HasCheckoutSince(ctx context.Context, userID string, t time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists(
			select 1 from attendance_logs
			where user_id = $1 and action = 'checkout' and recorded_at > $2
		)
	`, userID, t).Scan(&exists)
	return exists, err
}

func (s *LogStore) History(ctx context.Context, userID string, limit int) ([]attendance.Log, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+logColumns+` from attendance_logs
		where user_id = $1
		order by recorded_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []attendance.Log
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *log)
	}
	return res, rows.Err()
}

func (s *LogStore) MarkAbsent(ctx context.Context, userID, day string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		insert into absence_marks(user_id, marked_on)
		values ($1, $2) on conflict do nothing
	`, userID, day)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *LogStore) scanOne(ctx context.Context, query string, args ...any) (*attendance.Log, error) {
	log, err := scanLog(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, attendance.ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return log, nil
}

func scanLog(row rowScanner) (*attendance.Log, error) {
	var log attendance.Log
	var action, method string
	var meta []byte
	if err := row.Scan(
		&log.ID, &log.UserID, &action, &log.Timestamp, &log.OperativeDay,
		&method, &log.TokenValue, &log.TokenSequence, &meta,
	); err != nil {
		return nil, err
	}
	log.Action = attendance.Action(action)
	log.Method = attendance.Method(method)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &log.Metadata); err != nil {
			return nil, err
		}
	}
	return &log, nil
}

func marshalMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	return json.Marshal(meta)
}
