package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"legisla/internal/proposition/models"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

type PropositionStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *PropositionStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func TestPropositionStoreSuite(t *testing.T) {
	suite.Run(t, new(PropositionStoreSuite))
}

func (s *PropositionStoreSuite) newProposition(typ models.Type, number int) *models.Proposition {
	p, err := models.NewProposition(id.PropositionID(uuid.New()), typ, number, 2025, "Title", "", time.Now())
	s.Require().NoError(err)
	return p
}

func (s *PropositionStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds by ID", func() {
		p := s.newProposition(models.TypeBill, 1)
		s.Require().NoError(s.store.Create(s.ctx, p))

		found, err := s.store.FindByID(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(p.Title, found.Title)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.PropositionID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate type, number and year", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newProposition(models.TypeMotion, 7)))
		err := s.store.Create(s.ctx, s.newProposition(models.TypeMotion, 7))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("same number is free across types", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newProposition(models.TypeRequest, 7)))
	})
}

func (s *PropositionStoreSuite) TestOptimisticUpdate() {
	p := s.newProposition(models.TypeBill, 2)
	s.Require().NoError(s.store.Create(s.ctx, p))

	first, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	stale, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)

	first.ApplyStatus(models.StatusInProcess, time.Now())
	s.Require().NoError(s.store.Update(s.ctx, first))
	s.Equal(int64(2), first.Version)

	stale.ApplyStatus(models.StatusArchived, time.Now())
	s.ErrorIs(s.store.Update(s.ctx, stale), sentinel.ErrConflict)

	found, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInProcess, found.Status)
}

func (s *PropositionStoreSuite) TestReturnedValuesAreCopies() {
	p := s.newProposition(models.TypeBill, 3)
	s.Require().NoError(s.store.Create(s.ctx, p))

	found, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	found.Title = "mutated"

	again, err := s.store.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal("Title", again.Title)
}

func (s *PropositionStoreSuite) TestListFiltersByStatus() {
	a := s.newProposition(models.TypeBill, 10)
	b := s.newProposition(models.TypeBill, 11)
	s.Require().NoError(s.store.Create(s.ctx, a))
	s.Require().NoError(s.store.Create(s.ctx, b))
	b.ApplyStatus(models.StatusApproved, time.Now())
	s.Require().NoError(s.store.Update(s.ctx, b))

	all, err := s.store.List(s.ctx, "")
	s.Require().NoError(err)
	s.Len(all, 2)
	s.Equal(11, all[0].Number)

	approved, err := s.store.List(s.ctx, models.StatusApproved)
	s.Require().NoError(err)
	s.Require().Len(approved, 1)
	s.Equal(b.ID, approved[0].ID)
}
