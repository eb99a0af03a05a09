package store

import (
	"context"
	"sort"
	"sync"

	"legisla/internal/proposition/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

type naturalKey struct {
	typ    models.Type
	number int
	year   int
}

// InMemoryStore keeps propositions in maps. Callers get copies.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[id.PropositionID]models.Proposition
	byNatK map[naturalKey]id.PropositionID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[id.PropositionID]models.Proposition),
		byNatK: make(map[naturalKey]id.PropositionID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Proposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := naturalKey{p.Type, p.Number, p.Year}
	if _, ok := s.byNatK[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	if _, ok := s.byID[p.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.byID[p.ID] = *p
	s.byNatK[key] = p.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, propID id.PropositionID) (*models.Proposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[propID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

// Update replaces the stored proposition when versions match and bumps the
// version on both copies.
func (s *InMemoryStore) Update(_ context.Context, p *models.Proposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != p.Version {
		return sentinel.ErrConflict
	}
	p.Version++
	s.byID[p.ID] = *p
	return nil
}

// List returns propositions newest first, optionally filtered by status.
func (s *InMemoryStore) List(_ context.Context, status models.Status) ([]*models.Proposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Proposition, 0, len(s.byID))
	for _, p := range s.byID {
		if status != "" && p.Status != status {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}
