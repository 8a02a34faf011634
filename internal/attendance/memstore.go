package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore implements Store with in-process concurrency safety.
type InMemoryStore struct {
	mu      sync.RWMutex
	logs    []*Log
	byID    map[string]*Log
	absence map[string]struct{} // userID + "|" + day
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*Log),
		absence: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, log *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.Action == ActionCheckin {
		// Same uniqueness guarantee the Postgres partial index gives.
		for _, l := range s.logs {
			if l.UserID == log.UserID && l.Action == ActionCheckin && l.OperativeDay == log.OperativeDay {
				return ErrAlreadyCheckedIn
			}
		}
	}
	cp := cloneLog(log)
	s.logs = append(s.logs, cp)
	s.byID[cp.ID] = cp
	return nil
}

func (s *InMemoryStore) Find(ctx context.Context, id string) (*Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byID[id]
	if !ok {
		return nil, ErrLogNotFound
	}
	return cloneLog(l), nil
}

func (s *InMemoryStore) Update(ctx context.Context, log *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[log.ID]
	if !ok {
		return ErrLogNotFound
	}
	*stored = *cloneLog(log)
	return nil
}

func (s *InMemoryStore) LastCheckin(ctx context.Context, userID string) (*Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *Log
	for _, l := range s.logs {
		if l.UserID != userID || l.Action != ActionCheckin {
			continue
		}
		if last == nil || l.Timestamp.After(last.Timestamp) {
			last = l
		}
	}
	if last == nil {
		return nil, ErrLogNotFound
	}
	return cloneLog(last), nil
}

func (s *InMemoryStore) HasCheckinBetween(ctx context.Context, userID string, from, to time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.logs {
		if l.UserID != userID || l.Action != ActionCheckin {
			continue
		}
		if !l.Timestamp.Before(from) && l.Timestamp.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) HasCheckoutSince(ctx context.Context, userID string, t time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.logs {
		if l.UserID == userID && l.Action == ActionCheckout && l.Timestamp.After(t) {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) History(ctx context.Context, userID string, limit int) ([]Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Log
	for _, l := range s.logs {
		if l.UserID == userID {
			res = append(res, *cloneLog(l))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Timestamp.After(res[j].Timestamp) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (s *InMemoryStore) MarkAbsent(ctx context.Context, userID, day string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "|" + day
	if _, ok := s.absence[key]; ok {
		return false, nil
	}
	s.absence[key] = struct{}{}
	return true, nil
}

func cloneLog(l *Log) *Log {
	cp := *l
	if l.Metadata != nil {
		cp.Metadata = make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
