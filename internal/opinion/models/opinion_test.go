package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

func newDraft(t *testing.T, committee *id.CommitteeID) *Opinion {
	t.Helper()
	o, err := NewOpinion(id.OpinionID(uuid.New()), id.PropositionID(uuid.New()), committee, id.MemberID(uuid.New()),
		1, 2025, TypeFavorable, " sound ", time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return o
}

func TestNewOpinion(t *testing.T) {
	o := newDraft(t, nil)
	assert.Equal(t, StatusDraft, o.Status)
	assert.Equal(t, "sound", o.Summary)

	_, err := NewOpinion(id.OpinionID(uuid.New()), id.PropositionID(uuid.New()), nil, id.MemberID{}, 1, 2025, TypeFavorable, "", time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewOpinion(id.OpinionID(uuid.New()), id.PropositionID(uuid.New()), nil, id.MemberID(uuid.New()), 1, 2025, "NEUTRAL", "", time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("submit requires a committee", func(t *testing.T) {
		o := newDraft(t, nil)
		assert.True(t, dErrors.HasCode(o.CanSubmitForVote(), dErrors.CodeValidation))
	})

	t.Run("submit freezes a deduplicated roster", func(t *testing.T) {
		committee := id.CommitteeID(uuid.New())
		o := newDraft(t, &committee)
		m := id.MemberID(uuid.New())
		require.NoError(t, o.CanSubmitForVote())
		o.ApplySubmitForVote([]id.MemberID{m, m}, now)
		assert.Equal(t, StatusAwaitingVote, o.Status)
		assert.Equal(t, []id.MemberID{m}, o.Eligible)
		assert.True(t, dErrors.HasCode(o.CanSubmitForVote(), dErrors.CodeInvalidState))
	})

	t.Run("reason kept only when rejected", func(t *testing.T) {
		committee := id.CommitteeID(uuid.New())
		approved := newDraft(t, &committee)
		approved.ApplySubmitForVote(nil, now)
		require.NoError(t, approved.CanClose(StatusApprovedByCommittee, "ignored"))
		approved.ApplyClose(StatusApprovedByCommittee, voting.Tally{Yes: 3, TotalEligible: 5}, "ignored", now)
		assert.Empty(t, approved.RejectionReason)
		assert.True(t, approved.IsClosed())

		rejected := newDraft(t, &committee)
		rejected.ApplySubmitForVote(nil, now)
		rejected.ApplyClose(StatusRejectedByCommittee, voting.Tally{No: 3, TotalEligible: 5}, " unconstitutional ", now)
		assert.Equal(t, "unconstitutional", rejected.RejectionReason)
		assert.True(t, dErrors.HasCode(rejected.CanIssue(), dErrors.CodeInvalidState))
		assert.NoError(t, rejected.CanArchive())
	})

	t.Run("draft cannot be archived or issued", func(t *testing.T) {
		o := newDraft(t, nil)
		assert.True(t, dErrors.HasCode(o.CanArchive(), dErrors.CodeInvalidState))
		assert.True(t, dErrors.HasCode(o.CanIssue(), dErrors.CodeInvalidState))
	})
}

func TestParseOutcome(t *testing.T) {
	got, err := ParseOutcome("approved_by_committee")
	require.NoError(t, err)
	assert.Equal(t, StatusApprovedByCommittee, got)

	_, err = ParseOutcome(string(StatusIssued))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
