//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"legisla/internal/proposition/models"
	"legisla/internal/proposition/store"
	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
	"legisla/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "propositions"))
}

func newProposition(s *PostgresStoreSuite, number int) *models.Proposition {
	p, err := models.NewProposition(id.PropositionID(uuid.New()), models.TypeBill, number, 2025, "Budget", "annual", time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return p
}

func (s *PostgresStoreSuite) TestCreateFindUpdate() {
	ctx := context.Background()
	p := newProposition(s, 1)
	s.Require().NoError(s.store.Create(ctx, p))

	found, err := s.store.FindByID(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Title, found.Title)
	s.Equal(models.StatusSubmitted, found.Status)

	found.ApplyStatus(models.StatusInProcess, time.Now())
	s.Require().NoError(s.store.Update(ctx, found))
	s.Equal(int64(2), found.Version)

	p.ApplyStatus(models.StatusArchived, time.Now())
	s.ErrorIs(s.store.Update(ctx, p), sentinel.ErrConflict, "stale version must conflict")
}

func (s *PostgresStoreSuite) TestUniqueNaturalKey() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newProposition(s, 5)))
	s.ErrorIs(s.store.Create(ctx, newProposition(s, 5)), sentinel.ErrAlreadyUsed)
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.FindByID(context.Background(), id.PropositionID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)

	p := newProposition(s, 9)
	s.ErrorIs(s.store.Update(context.Background(), p), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestList() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, newProposition(s, 1)))
	s.Require().NoError(s.store.Create(ctx, newProposition(s, 2)))

	all, err := s.store.List(ctx, "")
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(2, all[0].Number)

	none, err := s.store.List(ctx, models.StatusVetoed)
	s.Require().NoError(err)
	s.Empty(none)
}
