package store

import (
	"context"
	"sort"
	"sync"

	"legisla/internal/attendance/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

// InMemoryStore keeps attendance sheets per session.
type InMemoryStore struct {
	mu     sync.RWMutex
	sheets map[id.SessionID]map[id.MemberID]models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sheets: make(map[id.SessionID]map[id.MemberID]models.Record)}
}

func (s *InMemoryStore) Find(_ context.Context, sessionID id.SessionID, memberID id.MemberID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sheets[sessionID][memberID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sheet, ok := s.sheets[r.SessionID]
	if !ok {
		sheet = make(map[id.MemberID]models.Record)
		s.sheets[r.SessionID] = sheet
	}
	sheet[r.MemberID] = *r
	return nil
}

// ListBySession returns the sheet ordered by member id.
func (s *InMemoryStore) ListBySession(_ context.Context, sessionID id.SessionID) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Record, 0, len(s.sheets[sessionID]))
	for _, r := range s.sheets[sessionID] {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID.String() < out[j].MemberID.String() })
	return out, nil
}

func (s *InMemoryStore) PresentMembers(_ context.Context, sessionID id.SessionID) ([]id.MemberID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.MemberID
	for memberID, r := range s.sheets[sessionID] {
		if r.Present {
			out = append(out, memberID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
