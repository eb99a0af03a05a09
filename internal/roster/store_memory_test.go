package roster

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "legisla/pkg/domain"
	"legisla/pkg/platform/sentinel"
)

func TestInMemoryStore_ActiveMembers(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	committeeID := id.CommitteeID(uuid.New())
	active := id.MemberID(uuid.New())
	inactive := id.MemberID(uuid.New())

	require.NoError(t, s.PutCommittee(ctx, Committee{ID: committeeID, Name: "Finance", Active: true}))
	require.NoError(t, s.PutMember(ctx, Member{CommitteeID: committeeID, MemberID: active, Active: true}))
	require.NoError(t, s.PutMember(ctx, Member{CommitteeID: committeeID, MemberID: inactive, Active: false}))

	members, err := s.ActiveMembers(ctx, committeeID)
	require.NoError(t, err)
	assert.Equal(t, []id.MemberID{active}, members)

	t.Run("unknown committee", func(t *testing.T) {
		_, err := s.ActiveMembers(ctx, id.CommitteeID(uuid.New()))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("inactive committee", func(t *testing.T) {
		dormant := id.CommitteeID(uuid.New())
		require.NoError(t, s.PutCommittee(ctx, Committee{ID: dormant, Active: false}))
		_, err := s.ActiveMembers(ctx, dormant)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("member of unknown committee", func(t *testing.T) {
		err := s.PutMember(ctx, Member{CommitteeID: id.CommitteeID(uuid.New()), MemberID: active})
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	committeeID := uuid.New()
	ana, bruno, carla := uuid.New(), uuid.New(), uuid.New()

	doc := `
committees:
  - id: ` + committeeID.String() + `
    name: Finance
    members:
      - id: ` + ana.String() + `
        name: Ana
      - id: ` + bruno.String() + `
        name: Bruno
      - id: ` + carla.String() + `
        name: Carla
        active: false
`
	seats, err := Seed(ctx, s, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, seats)

	members, err := s.ActiveMembers(ctx, id.CommitteeID(committeeID))
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.MemberID{id.MemberID(ana), id.MemberID(bruno)}, members)

	t.Run("missing committee id", func(t *testing.T) {
		_, err := Seed(ctx, s, strings.NewReader("committees:\n  - name: Legal\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no id")
	})

	t.Run("empty document", func(t *testing.T) {
		seats, err := Seed(ctx, s, strings.NewReader(""))
		require.NoError(t, err)
		assert.Zero(t, seats)
	})
}
