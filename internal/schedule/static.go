package schedule

import (
	"context"
	"sort"
	"sync"
)

// Static is a fixed in-memory directory.
type Static struct {
	mu      sync.RWMutex
	members map[string]*Member
}

var _ Directory = (*Static)(nil)

// NewStatic builds a directory from the given members.
func NewStatic(members ...*Member) *Static {
	s := &Static{members: make(map[string]*Member, len(members))}
	for _, m := range members {
		s.members[m.ID] = m
	}
	return s
}

// Put inserts or replaces a member.
func (s *Static) Put(m *Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
}

func (s *Static) Find(ctx context.Context, id string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

func (s *Static) ListActive(ctx context.Context) ([]*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Member
	for _, m := range s.members {
		if m.Active() {
			out := *m
			res = append(res, &out)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
