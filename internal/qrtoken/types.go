package qrtoken

import (
	"errors"
	"time"
)

// Status of a rotating QR token.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	// StatusUsed is advisory. Consumption is tracked by UsageCount; status
	// only changes through rotation or explicit expiry, because one active
	// token is shared by every employee scanning during its window.
	StatusUsed Status = "used"
)

// Token is a short-lived bearer credential rendered as a QR code at the
// venue. The raw Value is the only secret; anyone presenting it within the
// validity window can record attendance for themselves.
type Token struct {
	Value          string    `json:"token"`
	SequenceNumber int64     `json:"sequence_number"` // monotonic, never reused
	ValidFrom      time.Time `json:"valid_from"`
	ValidTo        time.Time `json:"valid_to"`
	Status         Status    `json:"status"`
	UsageCount     int64     `json:"usage_count"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExpiresIn reports remaining validity relative to now, floored at zero.
func (t Token) ExpiresIn(now time.Time) time.Duration {
	d := t.ValidTo.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Usable reports whether the token may authorise an attendance action at now.
func (t Token) Usable(now time.Time) bool {
	return t.Status == StatusActive && !now.Before(t.ValidFrom) && now.Before(t.ValidTo)
}

const (
	// DefaultValidity is used when the caller does not specify a window.
	DefaultValidity = 45 * time.Second

	// retainLimit bounds stored history: only the most recent tokens by
	// creation order survive a generate or cleanup call.
	retainLimit = 10
)

var (
	ErrNotFound = errors.New("qrtoken: token not found")
	ErrExpired  = errors.New("qrtoken: token expired")
)
