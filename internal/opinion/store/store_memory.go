package store

import (
	"context"
	"sort"
	"sync"

	"legisla/internal/opinion/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

type voteKey struct {
	opinion id.OpinionID
	member  id.MemberID
}

// InMemoryStore holds opinions and their committee votes.
type InMemoryStore struct {
	mu       sync.RWMutex
	opinions map[id.OpinionID]models.Opinion
	votes    map[voteKey]models.Vote
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		opinions: make(map[id.OpinionID]models.Opinion),
		votes:    make(map[voteKey]models.Vote),
	}
}

func sameCommittee(a, b *id.CommitteeID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// clone copies the slices and pointers an Opinion shares with its caller.
func clone(o models.Opinion) models.Opinion {
	if o.CommitteeID != nil {
		c := *o.CommitteeID
		o.CommitteeID = &c
	}
	if o.Tally != nil {
		t := *o.Tally
		o.Tally = &t
	}
	o.Eligible = append([]id.MemberID(nil), o.Eligible...)
	return o
}

// Create refuses a number already used for the committee and year.
func (s *InMemoryStore) Create(_ context.Context, o *models.Opinion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.opinions[o.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	for _, other := range s.opinions {
		if sameCommittee(other.CommitteeID, o.CommitteeID) && other.Year == o.Year && other.Number == o.Number {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.opinions[o.ID] = clone(*o)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, opinionID id.OpinionID) (*models.Opinion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.opinions[opinionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	o = clone(o)
	return &o, nil
}

func (s *InMemoryStore) Update(_ context.Context, o *models.Opinion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.opinions[o.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != o.Version {
		return sentinel.ErrConflict
	}
	o.Version++
	s.opinions[o.ID] = clone(*o)
	return nil
}

func (s *InMemoryStore) CountByCommitteeYear(_ context.Context, committeeID *id.CommitteeID, year int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, o := range s.opinions {
		if sameCommittee(o.CommitteeID, committeeID) && o.Year == year {
			n++
		}
	}
	return n, nil
}

// ListByProposition returns a proposition's opinions, oldest first.
func (s *InMemoryStore) ListByProposition(_ context.Context, propID id.PropositionID) ([]*models.Opinion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Opinion
	for _, o := range s.opinions {
		if o.PropositionID == propID {
			o = clone(o)
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (s *InMemoryStore) UpsertVote(_ context.Context, v *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.opinions[v.OpinionID]; !ok {
		return sentinel.ErrNotFound
	}
	s.votes[voteKey{v.OpinionID, v.MemberID}] = *v
	return nil
}

func (s *InMemoryStore) FindVote(_ context.Context, opinionID id.OpinionID, memberID id.MemberID) (*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteKey{opinionID, memberID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &v, nil
}

// ListVotes returns an opinion's votes by cast time.
func (s *InMemoryStore) ListVotes(_ context.Context, opinionID id.OpinionID) ([]*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Vote
	for k, v := range s.votes {
		if k.opinion == opinionID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CastAt.Equal(out[j].CastAt) {
			return out[i].CastAt.Before(out[j].CastAt)
		}
		return out[i].MemberID.String() < out[j].MemberID.String()
	})
	return out, nil
}
