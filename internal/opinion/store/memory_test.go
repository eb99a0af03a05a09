package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"legisla/internal/opinion/models"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

type InMemoryOpinionStoreSuite struct {
	suite.Suite
	store     *InMemoryStore
	committee id.CommitteeID
	propID    id.PropositionID
	now       time.Time
}

func TestInMemoryOpinionStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryOpinionStoreSuite))
}

func (s *InMemoryOpinionStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.committee = id.CommitteeID(uuid.New())
	s.propID = id.PropositionID(uuid.New())
	s.now = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
}

func (s *InMemoryOpinionStoreSuite) opinion(committee *id.CommitteeID, number int) *models.Opinion {
	o, err := models.NewOpinion(id.OpinionID(uuid.New()), s.propID, committee, id.MemberID(uuid.New()),
		number, 2025, models.TypeFavorable, "", s.now)
	s.Require().NoError(err)
	return o
}

func (s *InMemoryOpinionStoreSuite) TestNumbering() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.opinion(&s.committee, 1)))
	s.ErrorIs(s.store.Create(ctx, s.opinion(&s.committee, 1)), sentinel.ErrAlreadyUsed)

	s.Require().NoError(s.store.Create(ctx, s.opinion(nil, 1)))
	s.ErrorIs(s.store.Create(ctx, s.opinion(nil, 1)), sentinel.ErrAlreadyUsed)

	n, err := s.store.CountByCommitteeYear(ctx, &s.committee, 2025)
	s.Require().NoError(err)
	s.Equal(1, n)
	n, err = s.store.CountByCommitteeYear(ctx, nil, 2025)
	s.Require().NoError(err)
	s.Equal(1, n)
	n, err = s.store.CountByCommitteeYear(ctx, &s.committee, 2024)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *InMemoryOpinionStoreSuite) TestUpdate() {
	ctx := context.Background()
	o := s.opinion(&s.committee, 1)
	s.Require().NoError(s.store.Create(ctx, o))

	stale := *o
	member := id.MemberID(uuid.New())
	o.ApplySubmitForVote([]id.MemberID{member}, s.now)
	s.Require().NoError(s.store.Update(ctx, o))
	s.Equal(int64(2), o.Version)

	stale.ApplyStatus(models.StatusArchived, s.now)
	s.ErrorIs(s.store.Update(ctx, &stale), sentinel.ErrConflict)

	s.Run("stored copy is isolated from the caller", func() {
		o.Eligible[0] = id.MemberID(uuid.New())
		found, err := s.store.FindByID(ctx, o.ID)
		s.Require().NoError(err)
		s.Equal([]id.MemberID{member}, found.Eligible)
	})

	_, err := s.store.FindByID(ctx, id.OpinionID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryOpinionStoreSuite) TestVotes() {
	ctx := context.Background()
	o := s.opinion(&s.committee, 1)
	member := id.MemberID(uuid.New())
	vote := &models.Vote{OpinionID: o.ID, MemberID: member, Choice: voting.ChoiceYes, CastAt: s.now}
	s.ErrorIs(s.store.UpsertVote(ctx, vote), sentinel.ErrNotFound)

	s.Require().NoError(s.store.Create(ctx, o))
	s.Require().NoError(s.store.UpsertVote(ctx, vote))
	vote.Choice = voting.ChoiceAbstain
	s.Require().NoError(s.store.UpsertVote(ctx, vote))

	votes, err := s.store.ListVotes(ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(votes, 1)
	s.Equal(voting.ChoiceAbstain, votes[0].Choice)

	found, err := s.store.FindVote(ctx, o.ID, member)
	s.Require().NoError(err)
	s.Equal(voting.ChoiceAbstain, found.Choice)
	_, err = s.store.FindVote(ctx, o.ID, id.MemberID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
