package store

import (
	"context"
	"sync"

	"legisla/internal/tramitation/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

// InMemoryStore keeps each proposition's steps in sequence order.
type InMemoryStore struct {
	mu    sync.RWMutex
	steps map[id.PropositionID][]models.Step
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{steps: make(map[id.PropositionID][]models.Step)}
}

// Append adds the next step. The sequence must follow the latest one and at
// most one step may be open.
func (s *InMemoryStore) Append(_ context.Context, step *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.steps[step.PropositionID]
	if step.Sequence != len(history)+1 {
		return sentinel.ErrAlreadyUsed
	}
	if step.IsOpen() && openIndex(history) >= 0 {
		return sentinel.ErrAlreadyUsed
	}
	s.steps[step.PropositionID] = append(history, *step)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, step *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.steps[step.PropositionID]
	for i := range history {
		if history[i].ID != step.ID {
			continue
		}
		if step.IsOpen() {
			if open := openIndex(history); open >= 0 && open != i {
				return sentinel.ErrAlreadyUsed
			}
		}
		history[i] = *step
		return nil
	}
	return sentinel.ErrNotFound
}

func (s *InMemoryStore) Latest(_ context.Context, propID id.PropositionID) (*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.steps[propID]
	if len(history) == 0 {
		return nil, sentinel.ErrNotFound
	}
	step := history[len(history)-1]
	return &step, nil
}

func (s *InMemoryStore) ListByProposition(_ context.Context, propID id.PropositionID) ([]*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.steps[propID]
	out := make([]*models.Step, len(history))
	for i := range history {
		step := history[i]
		out[i] = &step
	}
	return out, nil
}

func openIndex(history []models.Step) int {
	for i := range history {
		if history[i].IsOpen() {
			return i
		}
	}
	return -1
}
