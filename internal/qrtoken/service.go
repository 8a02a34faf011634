package qrtoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sort"
	"sync"
	"time"
)

// Service defines the rotating token lifecycle. At any instant at most one
// token is active with an unexpired window; issuing a new one pre-empts the
// previous active token regardless of how much of its window remains.
type Service interface {
	// Generate mints the next token, expires every other active token and
	// prunes stored history, all as one causally ordered operation.
	Generate(ctx context.Context, validity time.Duration, createdBy string) (Token, error)
	// Current returns the presentable token, or ErrNotFound if none is
	// active. A candidate whose window has already elapsed is expired as a
	// side effect.
	Current(ctx context.Context) (Token, error)
	// Validate checks a presented value. It never mutates state so callers
	// can pre-flight a scan before committing an attendance action.
	Validate(ctx context.Context, value string) (Token, error)
	// MarkUsed increments the usage counter. Status is untouched.
	MarkUsed(ctx context.Context, value string) error
	// CleanupExpired expires overdue actives and prunes history, returning
	// the number of tokens expired.
	CleanupExpired(ctx context.Context) (int, error)
}

// InMemory implements Service with in-process concurrency safety. Used in
// tests and single-node deployments without Postgres.
type InMemory struct {
	mu     sync.Mutex
	tokens map[string]*Token
	now    func() time.Time
}

var _ Service = (*InMemory)(nil)

// InMemoryOption configures the in-memory issuer.
type InMemoryOption func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty issuer.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		tokens: make(map[string]*Token),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Generate(ctx context.Context, validity time.Duration, createdBy string) (Token, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}
	value, err := NewTokenValue()
	if err != nil {
		return Token{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tok := &Token{
		Value:          value,
		SequenceNumber: s.nextSequenceLocked(),
		ValidFrom:      now,
		ValidTo:        now.Add(validity),
		Status:         StatusActive,
		CreatedBy:      createdBy,
		CreatedAt:      now,
	}

	// Rotation: the new token pre-empts every other active one.
	for _, t := range s.tokens {
		if t.Status == StatusActive {
			t.Status = StatusExpired
		}
	}
	s.tokens[tok.Value] = tok
	s.pruneLocked()

	return *tok, nil
}

func (s *InMemory) Current(ctx context.Context) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var candidate *Token
	for _, t := range s.tokens {
		if t.Status != StatusActive {
			continue
		}
		if candidate == nil || t.CreatedAt.After(candidate.CreatedAt) {
			candidate = t
		}
	}
	if candidate == nil {
		return Token{}, ErrNotFound
	}
	if !now.Before(candidate.ValidTo) {
		// Window elapsed between rotations; retire it on read.
		candidate.Status = StatusExpired
		return Token{}, ErrNotFound
	}
	return *candidate, nil
}

func (s *InMemory) Validate(ctx context.Context, value string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	if !t.Usable(s.now().UTC()) {
		return *t, ErrExpired
	}
	return *t, nil
}

func (s *InMemory) MarkUsed(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return ErrNotFound
	}
	t.UsageCount++
	return nil
}

func (s *InMemory) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	expired := 0
	for _, t := range s.tokens {
		if t.Status == StatusActive && t.ValidTo.Before(now) {
			t.Status = StatusExpired
			expired++
		}
	}
	s.pruneLocked()
	return expired, nil
}

// nextSequenceLocked returns highest existing sequence + 1, or 1 on an empty
// store. Sequence numbers are never reused even after pruning because the
// maximum survives in the retained tail.
func (s *InMemory) nextSequenceLocked() int64 {
	var max int64
	for _, t := range s.tokens {
		if t.SequenceNumber > max {
			max = t.SequenceNumber
		}
	}
	return max + 1
}

func (s *InMemory) pruneLocked() {
	if len(s.tokens) <= retainLimit {
		return
	}
	all := make([]*Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].SequenceNumber > all[j].SequenceNumber
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	for _, t := range all[retainLimit:] {
		delete(s.tokens, t.Value)
	}
}

// NewTokenValue produces the opaque QR payload: 24 random bytes (192 bits)
// URL-safe base64 encoded.
func NewTokenValue() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
