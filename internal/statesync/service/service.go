// Package service answers terminal polls about the floor: the item under
// discussion or vote, a member's own vote, live and closed tallies, and a
// versioned session snapshot. Every method is read-only.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"legisla/internal/plenary/models"
	propmodels "legisla/internal/proposition/models"
	"legisla/internal/statesync/metrics"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/sentinel"
	"legisla/pkg/platform/tx"
	"legisla/pkg/requestcontext"
)

// PlenaryReader is the read side of the plenary store.
type PlenaryReader interface {
	FindSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	ListItems(ctx context.Context, sessionID id.SessionID) ([]*models.AgendaItem, error)
	FindItem(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error)
	FindBallot(ctx context.Context, itemID id.AgendaItemID) (*models.Ballot, error)
	FindVote(ctx context.Context, itemID id.AgendaItemID, memberID id.MemberID) (*models.Vote, error)
	ListVotes(ctx context.Context, itemID id.AgendaItemID) ([]*models.Vote, error)
	FindResult(ctx context.Context, itemID id.AgendaItemID) (*models.Result, error)
}

type AttendanceReader interface {
	PresentMembers(ctx context.Context, sessionID id.SessionID) ([]id.MemberID, error)
}

type PropositionFinder interface {
	FindByID(ctx context.Context, propID id.PropositionID) (*propmodels.Proposition, error)
}

// Cache stores write-once values. Get returns sentinel.ErrNotFound on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Service struct {
	plenary      PlenaryReader
	attendance   AttendanceReader
	propositions PropositionFinder
	cache        Cache
	resultTTL    time.Duration
	group        singleflight.Group
	tx           tx.Runner
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache caches closed results. Without it every read goes to the store.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.resultTTL = ttl
	}
}

// WithTx sets the runner snapshots are read under. It must be the runner the
// plenary and attendance services write through, or snapshots are not
// isolated from their writes.
func WithTx(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(plenary PlenaryReader, attendance AttendanceReader, propositions PropositionFinder, opts ...Option) *Service {
	s := &Service{
		plenary:      plenary,
		attendance:   attendance,
		propositions: propositions,
		tx:           tx.NewSharded(0),
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TallyView is either the live count of an open ballot or the frozen
// snapshot of a closed one. Outcome and ClosedAt are set only when Live is
// false.
type TallyView struct {
	AgendaItemID id.AgendaItemID `json:"agenda_item_id"`
	Live         bool            `json:"live"`
	Tally        voting.Tally    `json:"tally"`
	Outcome      voting.Outcome  `json:"outcome,omitempty"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// VoteState is what a terminal shows its member about the current vote.
type VoteState struct {
	AgendaItemID *id.AgendaItemID `json:"agenda_item_id,omitempty"`
	Eligible     bool             `json:"eligible"`
	Choice       voting.Choice    `json:"choice,omitempty"`
	CastAt       *time.Time       `json:"cast_at,omitempty"`
}

// PropositionState is the status line of the proposition on the floor.
type PropositionState struct {
	ID     id.PropositionID  `json:"id"`
	Label  string            `json:"label"`
	Status propmodels.Status `json:"status"`
}

// Snapshot bundles everything a terminal renders for a session. Version
// changes whenever any part of it does.
type Snapshot struct {
	Session      *models.Session      `json:"session"`
	Agenda       []*models.AgendaItem `json:"agenda"`
	Current      *models.AgendaItem   `json:"current,omitempty"`
	Proposition  *PropositionState    `json:"proposition,omitempty"`
	Tally        *TallyView           `json:"tally,omitempty"`
	PresentCount int                  `json:"present_count"`
	Version      string               `json:"version"`
}

// CurrentAgendaItem returns the item under vote, else the item under
// discussion, else nil.
func (s *Service) CurrentAgendaItem(ctx context.Context, sessionID id.SessionID) (*models.AgendaItem, error) {
	if _, err := s.findSession(ctx, sessionID); err != nil {
		return nil, err
	}
	items, err := s.plenary.ListItems(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "failed to load agenda")
	}
	return current(items), nil
}

func current(items []*models.AgendaItem) *models.AgendaItem {
	var discussed *models.AgendaItem
	for _, item := range items {
		switch item.Status {
		case models.ItemInVoting:
			return item
		case models.ItemInDiscussion:
			if discussed == nil {
				discussed = item
			}
		}
	}
	return discussed
}

// MyVote reports the member's standing on the item currently under vote.
// With no vote open it returns an empty state.
func (s *Service) MyVote(ctx context.Context, sessionID id.SessionID, memberID id.MemberID) (*VoteState, error) {
	item, err := s.CurrentAgendaItem(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.Status != models.ItemInVoting {
		return &VoteState{}, nil
	}
	state := &VoteState{AgendaItemID: &item.ID}

	ballot, err := s.plenary.FindBallot(ctx, item.ID)
	if err != nil {
		return nil, storeError(err, "failed to load ballot")
	}
	state.Eligible = ballot.EligibleSet().Contains(memberID)
	if !state.Eligible {
		return state, nil
	}

	vote, err := s.plenary.FindVote(ctx, item.ID, memberID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return state, nil
	case err != nil:
		return nil, storeError(err, "failed to load vote")
	}
	state.Choice = vote.Choice
	state.CastAt = &vote.CastAt
	return state, nil
}

// VotingTally prefers the closed result and otherwise counts the ballot's
// votes. A result written during the count replaces the live view.
func (s *Service) VotingTally(ctx context.Context, itemID id.AgendaItemID) (*TallyView, error) {
	result, err := s.result(ctx, itemID)
	if err == nil {
		return closedView(result), nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, storeError(err, "failed to load voting result")
	}

	ballot, err := s.plenary.FindBallot(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if _, err := s.findItem(ctx, itemID); err != nil {
				return nil, err
			}
			return nil, dErrors.New(dErrors.CodeInvalidState, "voting has not been opened on this agenda item")
		}
		return nil, storeError(err, "failed to load ballot")
	}
	votes, err := s.plenary.ListVotes(ctx, itemID)
	if err != nil {
		return nil, storeError(err, "failed to load votes")
	}
	live := &TallyView{AgendaItemID: itemID, Live: true, Tally: ballot.Tally(votes)}

	result, err = s.result(ctx, itemID)
	if err == nil {
		return closedView(result), nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, storeError(err, "failed to load voting result")
	}
	return live, nil
}

func closedView(r *models.Result) *TallyView {
	closedAt := r.ClosedAt
	return &TallyView{
		AgendaItemID: r.AgendaItemID,
		Tally:        r.Tally(),
		Outcome:      r.Outcome,
		ClosedAt:     &closedAt,
	}
}

// LatestResult returns the write-once result of a closed vote.
func (s *Service) LatestResult(ctx context.Context, itemID id.AgendaItemID) (*models.Result, error) {
	result, err := s.result(ctx, itemID)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, storeError(err, "failed to load voting result")
	}
	if _, err := s.findItem(ctx, itemID); err != nil {
		return nil, err
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "voting on this agenda item has not closed")
}

// result reads through the cache. Concurrent misses for one item share a
// single store read.
func (s *Service) result(ctx context.Context, itemID id.AgendaItemID) (*models.Result, error) {
	key := "result:" + itemID.String()
	if r, ok := s.cachedResult(ctx, key); ok {
		return r, nil
	}

	v, err, shared := s.group.Do(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		r, err := s.plenary.FindResult(ctx, itemID)
		if err != nil {
			return nil, err
		}
		s.storeResult(ctx, key, r)
		return r, nil
	})
	if shared && s.metrics != nil {
		s.metrics.IncrementCoalesced("result")
	}
	if err != nil {
		return nil, err
	}
	r := *v.(*models.Result)
	return &r, nil
}

func (s *Service) cachedResult(ctx context.Context, key string) (*models.Result, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.lookup("miss")
		return nil, false
	case err != nil:
		s.lookup("error")
		s.logger.WarnContext(ctx, "sync cache read failed",
			"request_id", requestcontext.RequestID(ctx),
			"key", key,
			"error", err,
		)
		return nil, false
	}
	var r models.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		s.lookup("error")
		return nil, false
	}
	s.lookup("hit")
	return &r, true
}

func (s *Service) storeResult(ctx context.Context, key string, r *models.Result) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err == nil {
		err = s.cache.Set(ctx, key, raw, s.resultTTL)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "sync cache write failed",
			"request_id", requestcontext.RequestID(ctx),
			"key", key,
			"error", err,
		)
	}
}

func (s *Service) lookup(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementCacheLookup(outcome)
	}
}

// SessionSnapshot assembles the session view. Identical concurrent polls
// share one load.
func (s *Service) SessionSnapshot(ctx context.Context, sessionID id.SessionID) (*Snapshot, error) {
	v, err, shared := s.group.Do("snapshot:"+sessionID.String(), func() (any, error) {
		return s.loadSnapshot(context.WithoutCancel(ctx), sessionID)
	})
	if shared && s.metrics != nil {
		s.metrics.IncrementCoalesced("snapshot")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// loadSnapshot reads under the session key, so a close or attendance change
// lands either wholly before or wholly after it.
func (s *Service) loadSnapshot(ctx context.Context, sessionID id.SessionID) (*Snapshot, error) {
	var snap *Snapshot
	err := s.tx.RunInTx(ctx, []string{tx.Key("session", sessionID)}, func(ctx context.Context) error {
		var err error
		snap, err = s.readSnapshot(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode snapshot")
	}
	sum := sha256.Sum256(raw)
	snap.Version = hex.EncodeToString(sum[:12])
	return snap, nil
}

func (s *Service) readSnapshot(ctx context.Context, sessionID id.SessionID) (*Snapshot, error) {
	session, err := s.findSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items, err := s.plenary.ListItems(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "failed to load agenda")
	}
	present, err := s.attendance.PresentMembers(ctx, sessionID)
	if err != nil {
		return nil, storeError(err, "failed to load attendance")
	}

	snap := &Snapshot{
		Session:      session,
		Agenda:       items,
		Current:      current(items),
		PresentCount: len(present),
	}
	if snap.Agenda == nil {
		snap.Agenda = []*models.AgendaItem{}
	}
	if snap.Current != nil {
		if snap.Current.PropositionID != nil {
			p, err := s.propositions.FindByID(ctx, *snap.Current.PropositionID)
			if err != nil {
				return nil, storeError(err, "failed to load proposition")
			}
			snap.Proposition = &PropositionState{ID: p.ID, Label: p.Label(), Status: p.Status}
		}
		if snap.Current.Status == models.ItemInVoting {
			if snap.Tally, err = s.VotingTally(ctx, snap.Current.ID); err != nil {
				return nil, err
			}
		}
	}
	return snap, nil
}

func (s *Service) findSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	session, err := s.plenary.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, storeError(err, "failed to load session")
	}
	return session, nil
}

func (s *Service) findItem(ctx context.Context, itemID id.AgendaItemID) (*models.AgendaItem, error) {
	item, err := s.plenary.FindItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "agenda item not found")
		}
		return nil, storeError(err, "failed to load agenda item")
	}
	return item, nil
}

func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "session changed during the read, retry the poll")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
