package roster

import (
	"context"
	"sort"
	"sync"

	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

// InMemoryStore keeps the roster in maps.
type InMemoryStore struct {
	mu         sync.RWMutex
	committees map[id.CommitteeID]Committee
	members    map[id.CommitteeID]map[id.MemberID]Member
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		committees: make(map[id.CommitteeID]Committee),
		members:    make(map[id.CommitteeID]map[id.MemberID]Member),
	}
}

func (s *InMemoryStore) PutCommittee(_ context.Context, c Committee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committees[c.ID] = c
	if _, ok := s.members[c.ID]; !ok {
		s.members[c.ID] = make(map[id.MemberID]Member)
	}
	return nil
}

func (s *InMemoryStore) PutMember(_ context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seats, ok := s.members[m.CommitteeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	seats[m.MemberID] = m
	return nil
}

// ActiveMembers returns active seats sorted by member id.
func (s *InMemoryStore) ActiveMembers(_ context.Context, committeeID id.CommitteeID) ([]id.MemberID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.committees[committeeID]
	if !ok || !c.Active {
		return nil, sentinel.ErrNotFound
	}
	out := make([]id.MemberID, 0, len(s.members[committeeID]))
	for memberID, m := range s.members[committeeID] {
		if m.Active {
			out = append(out, memberID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
