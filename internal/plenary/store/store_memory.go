package store

import (
	"context"
	"sort"
	"sync"

	"legisla/internal/plenary/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

type voteKey struct {
	item   id.AgendaItemID
	member id.MemberID
}

// InMemoryStore holds sessions, agendas, ballots, votes and results.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]models.Session
	items    map[id.AgendaItemID]models.AgendaItem
	ballots  map[id.AgendaItemID]models.Ballot
	votes    map[voteKey]models.Vote
	results  map[id.AgendaItemID]models.Result
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SessionID]models.Session),
		items:    make(map[id.AgendaItemID]models.AgendaItem),
		ballots:  make(map[id.AgendaItemID]models.Ballot),
		votes:    make(map[voteKey]models.Vote),
		results:  make(map[id.AgendaItemID]models.Result),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *InMemoryStore) FindSession(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}

// ListSessions returns sessions by scheduled time, latest first.
func (s *InMemoryStore) ListSessions(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		session := session
		out = append(out, &session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.After(out[j].ScheduledFor) })
	return out, nil
}

func (s *InMemoryStore) CreateItem(_ context.Context, item *models.AgendaItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[item.SessionID]; !ok {
		return sentinel.ErrNotFound
	}
	for _, other := range s.items {
		if other.SessionID == item.SessionID && other.Position == item.Position {
			return sentinel.ErrAlreadyUsed
		}
	}
	s.items[item.ID] = *item
	return nil
}

func (s *InMemoryStore) FindItem(_ context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &item, nil
}

// UpdateItem writes item when versions match and bumps the version. A
// second IN_VOTING item in the session is refused.
func (s *InMemoryStore) UpdateItem(_ context.Context, item *models.AgendaItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != item.Version {
		return sentinel.ErrConflict
	}
	if item.Status == models.ItemInVoting {
		for _, other := range s.items {
			if other.ID != item.ID && other.SessionID == item.SessionID && other.Status == models.ItemInVoting {
				return sentinel.ErrAlreadyUsed
			}
		}
	}
	item.Version++
	s.items[item.ID] = *item
	return nil
}

// ListItems returns a session's agenda in position order.
func (s *InMemoryStore) ListItems(_ context.Context, sessionID id.SessionID) ([]*models.AgendaItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AgendaItem
	for _, item := range s.items {
		if item.SessionID == sessionID {
			item := item
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *InMemoryStore) CreateBallot(_ context.Context, b *models.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ballots[b.AgendaItemID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	b2 := *b
	b2.Eligible = append([]id.MemberID(nil), b.Eligible...)
	s.ballots[b.AgendaItemID] = b2
	return nil
}

func (s *InMemoryStore) FindBallot(_ context.Context, itemID id.AgendaItemID) (*models.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.ballots[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	b.Eligible = append([]id.MemberID(nil), b.Eligible...)
	return &b, nil
}

func (s *InMemoryStore) UpsertVote(_ context.Context, v *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ballots[v.AgendaItemID]; !ok {
		return sentinel.ErrNotFound
	}
	s.votes[voteKey{v.AgendaItemID, v.MemberID}] = *v
	return nil
}

func (s *InMemoryStore) FindVote(_ context.Context, itemID id.AgendaItemID, memberID id.MemberID) (*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.votes[voteKey{itemID, memberID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &v, nil
}

// ListVotes returns an item's votes ordered by cast time.
func (s *InMemoryStore) ListVotes(_ context.Context, itemID id.AgendaItemID) ([]*models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Vote
	for k, v := range s.votes {
		if k.item == itemID {
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

// CreateResult stores a result once; a second write is refused.
func (s *InMemoryStore) CreateResult(_ context.Context, r *models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.AgendaItemID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.results[r.AgendaItemID] = *r
	return nil
}

func (s *InMemoryStore) FindResult(_ context.Context, itemID id.AgendaItemID) (*models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}
