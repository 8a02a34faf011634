package attendance

import (
	"context"
	"errors"
	"time"
)

// Action is the kind of attendance event.
type Action string

const (
	ActionCheckin  Action = "checkin"
	ActionCheckout Action = "checkout"
)

// ParseAction validates a wire value.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionCheckin, ActionCheckout:
		return Action(s), true
	default:
		return "", false
	}
}

// Method records how the log entry was produced.
type Method string

const (
	MethodQR        Method = "qr"
	MethodManual    Method = "manual"
	MethodBiometric Method = "biometric"
)

// Log is one immutable attendance record. The only permitted mutation is an
// administrator correction, which flips Method to manual and preserves the
// original timestamp in Metadata.
type Log struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Action        Action            `json:"action"`
	Timestamp     time.Time         `json:"timestamp"`     // server clock, never client-supplied
	OperativeDay  string            `json:"operative_day"` // YYYY-MM-DD in business timezone
	Method        Method            `json:"method"`
	TokenValue    string            `json:"-"`
	TokenSequence int64             `json:"token_sequence,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Business-rule rejections. All are recoverable by the caller and map to
// 4xx at the HTTP edge; storage failures propagate as opaque errors.
var (
	ErrInvalidToken      = errors.New("attendance: invalid or expired token")
	ErrAlreadyCheckedIn  = errors.New("attendance: already checked in today")
	ErrAlreadyCheckedOut = errors.New("attendance: already checked out today")
	ErrNoOpenSession     = errors.New("attendance: must check in before checking out")
	ErrUnknownUser       = errors.New("attendance: unknown user")
	ErrLogNotFound       = errors.New("attendance: log not found")
)

// Store is the persistence surface the recorder needs. Insert must enforce
// one checkin per (user, operative day) and surface violations as
// ErrAlreadyCheckedIn, which closes the check-then-act race between two
// near-simultaneous scans.
type Store interface {
	Insert(ctx context.Context, log *Log) error
	Find(ctx context.Context, id string) (*Log, error)
	// Update applies an administrator correction. Normal flow never updates.
	Update(ctx context.Context, log *Log) error
	// LastCheckin returns the user's most recent checkin by timestamp, or
	// ErrLogNotFound.
	LastCheckin(ctx context.Context, userID string) (*Log, error)
	// HasCheckinBetween reports a checkin in [from, to).
	HasCheckinBetween(ctx context.Context, userID string, from, to time.Time) (bool, error)
	// HasCheckoutSince reports a checkout strictly after t.
	HasCheckoutSince(ctx context.Context, userID string, t time.Time) (bool, error)
	// History lists the user's logs, most recent first.
	History(ctx context.Context, userID string, limit int) ([]Log, error)
	// MarkAbsent records the absence marker for (user, day). Returns false
	// when the marker already existed; the sweep uses this for per-day
	// idempotency.
	MarkAbsent(ctx context.Context, userID, day string) (bool, error)
}
