//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"legisla/internal/plenary/models"
	"legisla/internal/plenary/store"
	propmodels "legisla/internal/proposition/models"
	propstore "legisla/internal/proposition/store"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	"legisla/pkg/testutil/containers"
)

type PostgresPlenaryStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	session  *models.Session
	now      time.Time
}

func TestPostgresPlenaryStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresPlenaryStoreSuite))
}

func (s *PostgresPlenaryStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresPlenaryStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx,
		"voting_results", "plenary_votes", "ballots", "agenda_items", "sessions", "propositions"))
	s.now = time.Date(2025, 3, 4, 18, 0, 0, 0, time.UTC)

	session, err := models.NewSession(id.SessionID(uuid.New()), "Ordinary", s.now, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateSession(ctx, session))
	s.session = session
}

func (s *PostgresPlenaryStoreSuite) item(position int, propID *id.PropositionID) *models.AgendaItem {
	item, err := models.NewAgendaItem(id.AgendaItemID(uuid.New()), s.session.ID, propID, position, "Item", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateItem(context.Background(), item))
	return item
}

func (s *PostgresPlenaryStoreSuite) TestSessionRoundTrip() {
	found, err := s.store.FindSession(context.Background(), s.session.ID)
	s.Require().NoError(err)
	s.Equal(s.session.Title, found.Title)
	s.True(s.session.ScheduledFor.Equal(found.ScheduledFor))

	_, err = s.store.FindSession(context.Background(), id.SessionID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresPlenaryStoreSuite) TestItems() {
	ctx := context.Background()
	p, err := propmodels.NewProposition(id.PropositionID(uuid.New()), propmodels.TypeMotion, 3, 2025, "Thanks", "", s.now)
	s.Require().NoError(err)
	s.Require().NoError(propstore.NewPostgres(s.postgres.DB).Create(ctx, p))

	linked := s.item(1, &p.ID)
	found, err := s.store.FindItem(ctx, linked.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.PropositionID)
	s.Equal(p.ID, *found.PropositionID)

	dup, err := models.NewAgendaItem(id.AgendaItemID(uuid.New()), s.session.ID, nil, 1, "Dup", s.now)
	s.Require().NoError(err)
	s.ErrorIs(s.store.CreateItem(ctx, dup), sentinel.ErrAlreadyUsed)

	s.Run("stale version conflicts", func() {
		stale := *found
		found.ApplyStatus(models.ItemInDiscussion, s.now)
		s.Require().NoError(s.store.UpdateItem(ctx, found))
		stale.ApplyStatus(models.ItemWithdrawn, s.now)
		s.ErrorIs(s.store.UpdateItem(ctx, &stale), sentinel.ErrConflict)
	})

	s.Run("partial index allows one item under vote", func() {
		a, b := s.item(2, nil), s.item(3, nil)
		a.ApplyStatus(models.ItemInVoting, s.now)
		s.Require().NoError(s.store.UpdateItem(ctx, a))
		b.ApplyStatus(models.ItemInVoting, s.now)
		s.ErrorIs(s.store.UpdateItem(ctx, b), sentinel.ErrAlreadyUsed)
	})
}

func (s *PostgresPlenaryStoreSuite) TestBallotVotesAndResult() {
	ctx := context.Background()
	item := s.item(1, nil)
	members := []id.MemberID{id.MemberID(uuid.New()), id.MemberID(uuid.New())}

	ballot := models.NewBallot(item, members, 2, s.now)
	s.Require().NoError(s.store.CreateBallot(ctx, ballot))
	stored, err := s.store.FindBallot(ctx, item.ID)
	s.Require().NoError(err)
	s.ElementsMatch(members, stored.Eligible)
	s.Equal(2, stored.PresentCount)

	for _, m := range members {
		s.Require().NoError(s.store.UpsertVote(ctx, &models.Vote{
			AgendaItemID: item.ID, SessionID: s.session.ID, MemberID: m, Choice: voting.ChoiceNo, CastAt: s.now,
		}))
	}
	s.Require().NoError(s.store.UpsertVote(ctx, &models.Vote{
		AgendaItemID: item.ID, SessionID: s.session.ID, MemberID: members[0], Choice: voting.ChoiceYes, CastAt: s.now.Add(time.Second),
	}))
	vote, err := s.store.FindVote(ctx, item.ID, members[0])
	s.Require().NoError(err)
	s.Equal(voting.ChoiceYes, vote.Choice)

	votes, err := s.store.ListVotes(ctx, item.ID)
	s.Require().NoError(err)
	s.Require().Len(votes, 2)

	result := models.NewResult(stored, stored.Tally(votes), s.now)
	s.Require().NoError(s.store.CreateResult(ctx, result))
	s.ErrorIs(s.store.CreateResult(ctx, result), sentinel.ErrAlreadyUsed)

	found, err := s.store.FindResult(ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(voting.Tally{Yes: 1, No: 1, TotalEligible: 2}, found.Tally())
	s.Equal(voting.OutcomeRejected, found.Outcome)
}
