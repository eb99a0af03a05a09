package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"legisla/internal/routing"
	"legisla/internal/tramitation/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

type InMemoryStepStoreSuite struct {
	suite.Suite
	store  *InMemoryStore
	propID id.PropositionID
	now    time.Time
}

func TestInMemoryStepStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStepStoreSuite))
}

func (s *InMemoryStepStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.propID = id.PropositionID(uuid.New())
	s.now = time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
}

func (s *InMemoryStepStoreSuite) step(seq int, open bool) *models.Step {
	step, err := models.NewStep(id.StepID(uuid.New()), s.propID, seq,
		routing.Unit{RoutingType: routing.TypePlenary, TargetUnit: "Plenário"}, "", s.now)
	s.Require().NoError(err)
	if open {
		step.ApplyOpen()
	}
	return step
}

func (s *InMemoryStepStoreSuite) TestAppendAndLatest() {
	ctx := context.Background()

	_, err := s.store.Latest(ctx, s.propID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	first := s.step(1, true)
	s.Require().NoError(s.store.Append(ctx, first))

	latest, err := s.store.Latest(ctx, s.propID)
	s.Require().NoError(err)
	s.Equal(first.ID, latest.ID)

	s.Run("returned step is a copy", func() {
		latest.Comment = "mutated"
		again, err := s.store.Latest(ctx, s.propID)
		s.Require().NoError(err)
		s.Empty(again.Comment)
	})

	s.Run("second open step is rejected", func() {
		s.ErrorIs(s.store.Append(ctx, s.step(2, true)), sentinel.ErrAlreadyUsed)
	})

	s.Run("sequence gap is rejected", func() {
		s.ErrorIs(s.store.Append(ctx, s.step(5, false)), sentinel.ErrAlreadyUsed)
	})

	s.Run("conclude then open next", func() {
		first.ApplyConclude(s.now, "done", "")
		s.Require().NoError(s.store.Update(ctx, first))
		s.Require().NoError(s.store.Append(ctx, s.step(2, true)))

		history, err := s.store.ListByProposition(ctx, s.propID)
		s.Require().NoError(err)
		s.Require().Len(history, 2)
		s.Equal(models.StepConcluded, history[0].Status)
		s.Equal(models.StepInProgress, history[1].Status)
	})

	s.Run("reopening an older step while another is open is rejected", func() {
		first.ApplyReopen()
		s.ErrorIs(s.store.Update(ctx, first), sentinel.ErrAlreadyUsed)
	})
}

func (s *InMemoryStepStoreSuite) TestUpdateUnknownStep() {
	s.ErrorIs(s.store.Update(context.Background(), s.step(1, false)), sentinel.ErrNotFound)
}
