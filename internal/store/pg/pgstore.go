package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store bundles the Postgres-backed persistence for the attendance core.
// Substores share one pool; each implements the interface its domain
// package defines.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an existing pool (used by sqlmock tests).
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Tokens returns the rotating-token substore.
func (s *Store) Tokens() *TokenStore { return &TokenStore{db: s.db, now: s.now} }

// Logs returns the attendance-log substore.
func (s *Store) Logs() *LogStore { return &LogStore{db: s.db} }

// Staff returns the work-schedule directory.
func (s *Store) Staff() *StaffDirectory { return &StaffDirectory{db: s.db} }
