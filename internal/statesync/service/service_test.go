package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	attendancemodels "legisla/internal/attendance/models"
	attendancestore "legisla/internal/attendance/store"
	"legisla/internal/plenary/models"
	plenary "legisla/internal/plenary/service"
	plenarystore "legisla/internal/plenary/store"
	propmodels "legisla/internal/proposition/models"
	propstore "legisla/internal/proposition/store"
	"legisla/internal/statesync/cache"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
	"legisla/pkg/platform/tx"
	"legisla/pkg/requestcontext"
)

// =============================================================================
// State Sync Service Test Suite
// =============================================================================
// Justification for unit tests: terminals must never see a torn tally and
// the snapshot version must move exactly when the floor changes. The plenary
// service drives real state transitions into the shared in-memory stores.

type StateSyncServiceSuite struct {
	suite.Suite
	plenaryStore *plenarystore.InMemoryStore
	attendance   *attendancestore.InMemoryStore
	propositions *propstore.InMemoryStore
	cache        *cache.MemoryCache
	plenary      *plenary.Service
	service      *Service
	ctx          context.Context
	now          time.Time
	session      *models.Session
	members      []id.MemberID
}

func TestStateSyncServiceSuite(t *testing.T) {
	suite.Run(t, new(StateSyncServiceSuite))
}

func (s *StateSyncServiceSuite) SetupTest() {
	s.plenaryStore = plenarystore.NewInMemoryStore()
	s.attendance = attendancestore.NewInMemoryStore()
	s.propositions = propstore.NewInMemoryStore()
	s.cache = cache.NewMemory()
	s.plenary = plenary.New(s.plenaryStore, s.propositions, s.attendance)
	s.service = New(s.plenaryStore, s.attendance, s.propositions, WithCache(s.cache, time.Hour))

	s.now = time.Date(2025, 5, 6, 18, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	session, err := s.plenary.CreateSession(s.ctx, "Ordinary", s.now)
	s.Require().NoError(err)
	s.session = session

	s.members = []id.MemberID{id.MemberID(uuid.New()), id.MemberID(uuid.New()), id.MemberID(uuid.New())}
	for _, m := range s.members {
		r := attendancemodels.NewRecord(session.ID, m)
		r.ApplyMark(true, "", s.now)
		s.Require().NoError(s.attendance.Upsert(s.ctx, r))
	}
}

func (s *StateSyncServiceSuite) addItem(withProposition bool) *models.AgendaItem {
	req := plenary.AddItemRequest{Title: "Vote of thanks"}
	if withProposition {
		p, err := propmodels.NewProposition(id.PropositionID(uuid.New()), propmodels.TypeBill, 5, 2025, "Bike lanes", "", s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.propositions.Create(s.ctx, p))
		req = plenary.AddItemRequest{PropositionID: &p.ID}
	}
	item, err := s.plenary.AddAgendaItem(s.ctx, s.session.ID, req)
	s.Require().NoError(err)
	return item
}

func (s *StateSyncServiceSuite) openVoting(item *models.AgendaItem) {
	_, err := s.plenary.StartDiscussion(s.ctx, item.ID)
	s.Require().NoError(err)
	_, err = s.plenary.OpenVoting(s.ctx, item.ID)
	s.Require().NoError(err)
}

func (s *StateSyncServiceSuite) cast(item *models.AgendaItem, m id.MemberID, c voting.Choice) {
	_, err := s.plenary.CastVote(s.ctx, item.ID, m, c)
	s.Require().NoError(err)
}

// =============================================================================
// CurrentAgendaItem and MyVote
// =============================================================================

func (s *StateSyncServiceSuite) TestCurrentAgendaItem() {
	item, err := s.service.CurrentAgendaItem(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Nil(item)

	first, second := s.addItem(false), s.addItem(false)
	_, err = s.plenary.StartDiscussion(s.ctx, first.ID)
	s.Require().NoError(err)

	item, err = s.service.CurrentAgendaItem(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Require().NotNil(item)
	s.Equal(first.ID, item.ID)

	s.openVoting(second)
	item, err = s.service.CurrentAgendaItem(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, item.ID)
	s.Equal(models.ItemInVoting, item.Status)

	_, err = s.service.CurrentAgendaItem(s.ctx, id.SessionID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StateSyncServiceSuite) TestMyVote() {
	state, err := s.service.MyVote(s.ctx, s.session.ID, s.members[0])
	s.Require().NoError(err)
	s.Nil(state.AgendaItemID)
	s.False(state.Eligible)

	item := s.addItem(false)
	s.openVoting(item)

	state, err = s.service.MyVote(s.ctx, s.session.ID, s.members[0])
	s.Require().NoError(err)
	s.Require().NotNil(state.AgendaItemID)
	s.Equal(item.ID, *state.AgendaItemID)
	s.True(state.Eligible)
	s.Empty(state.Choice)

	s.cast(item, s.members[0], voting.ChoiceAbstain)
	state, err = s.service.MyVote(s.ctx, s.session.ID, s.members[0])
	s.Require().NoError(err)
	s.Equal(voting.ChoiceAbstain, state.Choice)
	s.Require().NotNil(state.CastAt)

	state, err = s.service.MyVote(s.ctx, s.session.ID, id.MemberID(uuid.New()))
	s.Require().NoError(err)
	s.False(state.Eligible)
}

// =============================================================================
// Tallies and results
// =============================================================================

func (s *StateSyncServiceSuite) TestVotingTallyLiveThenFrozen() {
	item := s.addItem(false)

	_, err := s.service.VotingTally(s.ctx, item.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	s.openVoting(item)
	s.cast(item, s.members[0], voting.ChoiceYes)
	s.cast(item, s.members[1], voting.ChoiceNo)

	live, err := s.service.VotingTally(s.ctx, item.ID)
	s.Require().NoError(err)
	s.True(live.Live)
	s.Equal(voting.Tally{Yes: 1, No: 1, TotalEligible: 3}, live.Tally)
	s.Empty(live.Outcome)

	_, err = s.plenary.CloseVoting(s.ctx, item.ID)
	s.Require().NoError(err)

	frozen, err := s.service.VotingTally(s.ctx, item.ID)
	s.Require().NoError(err)
	s.False(frozen.Live)
	s.Equal(live.Tally, frozen.Tally)
	s.Equal(voting.OutcomeRejected, frozen.Outcome)
	s.Require().NotNil(frozen.ClosedAt)

	_, err = s.service.VotingTally(s.ctx, id.AgendaItemID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StateSyncServiceSuite) TestLatestResultIsCached() {
	item := s.addItem(false)
	s.openVoting(item)

	_, err := s.service.LatestResult(s.ctx, item.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	for _, m := range s.members {
		s.cast(item, m, voting.ChoiceYes)
	}
	_, err = s.plenary.CloseVoting(s.ctx, item.ID)
	s.Require().NoError(err)

	result, err := s.service.LatestResult(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(voting.OutcomeApproved, result.Outcome)
	s.Equal(3, result.Yes)

	raw, err := s.cache.Get(s.ctx, "result:"+item.ID.String())
	s.Require().NoError(err)
	s.Contains(string(raw), `"outcome":"APPROVED"`)

	uncached := New(s.plenaryStore, s.attendance, s.propositions)
	again, err := uncached.LatestResult(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(result, again)

	_, err = s.service.LatestResult(s.ctx, id.AgendaItemID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (s *StateSyncServiceSuite) TestCacheFailureFallsBackToStore() {
	item := s.addItem(false)
	s.openVoting(item)
	s.cast(item, s.members[0], voting.ChoiceYes)
	_, err := s.plenary.CloseVoting(s.ctx, item.ID)
	s.Require().NoError(err)

	svc := New(s.plenaryStore, s.attendance, s.propositions, WithCache(brokenCache{}, time.Hour))
	result, err := svc.LatestResult(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(voting.OutcomeApproved, result.Outcome)
}

// =============================================================================
// SessionSnapshot
// =============================================================================

func (s *StateSyncServiceSuite) TestSnapshotVersionTracksChanges() {
	empty, err := s.service.SessionSnapshot(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.NotEmpty(empty.Version)
	s.Empty(empty.Agenda)
	s.Nil(empty.Current)
	s.Equal(3, empty.PresentCount)

	same, err := s.service.SessionSnapshot(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Equal(empty.Version, same.Version)

	item := s.addItem(true)
	s.openVoting(item)
	open, err := s.service.SessionSnapshot(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.NotEqual(empty.Version, open.Version)
	s.Require().NotNil(open.Current)
	s.Equal(item.ID, open.Current.ID)
	s.Require().NotNil(open.Proposition)
	s.Equal("BILL 5/2025", open.Proposition.Label)
	s.Require().NotNil(open.Tally)
	s.True(open.Tally.Live)

	s.cast(item, s.members[2], voting.ChoiceYes)
	voted, err := s.service.SessionSnapshot(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.NotEqual(open.Version, voted.Version)
	s.Equal(1, voted.Tally.Tally.Yes)

	_, err = s.service.SessionSnapshot(s.ctx, id.SessionID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StateSyncServiceSuite) TestConcurrentPollsAgree() {
	item := s.addItem(false)
	s.openVoting(item)
	s.cast(item, s.members[0], voting.ChoiceNo)

	const n = 25
	versions := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := s.service.SessionSnapshot(s.ctx, s.session.ID)
			s.NoError(err)
			if err == nil {
				versions[i] = snap.Version
			}
		}(i)
	}
	wg.Wait()

	for _, v := range versions {
		s.Equal(versions[0], v)
	}
}

// closingReader closes the vote from another goroutine right after the agenda
// is listed, then gives the close a chance to land before the rest of the
// snapshot is read.
type closingReader struct {
	*plenarystore.InMemoryStore
	once  sync.Once
	closeVote func()
	done  chan struct{}
}

func (r *closingReader) ListItems(ctx context.Context, sessionID id.SessionID) ([]*models.AgendaItem, error) {
	items, err := r.InMemoryStore.ListItems(ctx, sessionID)
	r.once.Do(func() {
		go func() {
			defer close(r.done)
			r.closeVote()
		}()
		select {
		case <-r.done:
		case <-time.After(50 * time.Millisecond):
		}
	})
	return items, err
}

func (s *StateSyncServiceSuite) TestSnapshotIsNotTornByConcurrentClose() {
	runner := tx.NewSharded(0)
	floor := plenary.New(s.plenaryStore, s.propositions, s.attendance, plenary.WithTx(runner))
	item := s.addItem(true)
	s.openVoting(item)
	for _, m := range s.members {
		s.cast(item, m, voting.ChoiceYes)
	}

	reader := &closingReader{InMemoryStore: s.plenaryStore, done: make(chan struct{})}
	var closeErr error
	reader.closeVote = func() { _, closeErr = floor.CloseVoting(s.ctx, item.ID) }
	svc := New(reader, s.attendance, s.propositions, WithTx(runner))

	snap, err := svc.SessionSnapshot(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Require().NotNil(snap.Current)
	s.Equal(models.ItemInVoting, snap.Current.Status)
	s.Require().NotNil(snap.Tally)
	s.True(snap.Tally.Live, "an open item must carry the live tally")
	s.Require().NotNil(snap.Proposition)
	s.NotEqual(propmodels.StatusApproved, snap.Proposition.Status)

	<-reader.done
	s.Require().NoError(closeErr)

	after, err := svc.SessionSnapshot(s.ctx, s.session.ID)
	s.Require().NoError(err)
	s.Nil(after.Current)
	s.Nil(after.Tally)
	s.NotEqual(snap.Version, after.Version)
}
