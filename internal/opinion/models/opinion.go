package models

import (
	"strings"
	"time"

	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// Status is the lifecycle position of a committee opinion.
//
//	DRAFT -> AWAITING_VOTE -> {APPROVED_BY_COMMITTEE, REJECTED_BY_COMMITTEE}
//	APPROVED_BY_COMMITTEE -> ISSUED
//	APPROVED_BY_COMMITTEE, REJECTED_BY_COMMITTEE, ISSUED -> ARCHIVED
//
// AWAITING_AGENDA is a recognised value that no transition produces.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusAwaitingAgenda      Status = "AWAITING_AGENDA"
	StatusAwaitingVote        Status = "AWAITING_VOTE"
	StatusApprovedByCommittee Status = "APPROVED_BY_COMMITTEE"
	StatusRejectedByCommittee Status = "REJECTED_BY_COMMITTEE"
	StatusIssued              Status = "ISSUED"
	StatusArchived            Status = "ARCHIVED"
)

// ParseOutcome accepts the two statuses a committee vote can close with.
func ParseOutcome(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st != StatusApprovedByCommittee && st != StatusRejectedByCommittee {
		return "", dErrors.New(dErrors.CodeValidation, "outcome must be APPROVED_BY_COMMITTEE or REJECTED_BY_COMMITTEE")
	}
	return st, nil
}

// Type is the rapporteur's recommendation.
type Type string

const (
	TypeFavorable      Type = "FAVORABLE"
	TypeContrary       Type = "CONTRARY"
	TypeWithAmendments Type = "WITH_AMENDMENTS"
)

func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeFavorable, TypeContrary, TypeWithAmendments:
		return t, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "type must be FAVORABLE, CONTRARY or WITH_AMENDMENTS")
}

const maxReasonLength = 2000

// Opinion is a committee's formal opinion on a proposition.
//
// Invariants:
//   - Number is unique per (CommitteeID, Year) and never changes
//   - Eligible is frozen when the opinion is submitted for vote
//   - Tally and Outcome are frozen when the vote closes
//   - RejectionReason is set only for a rejected outcome
type Opinion struct {
	ID              id.OpinionID     `json:"id"`
	PropositionID   id.PropositionID `json:"proposition_id"`
	CommitteeID     *id.CommitteeID  `json:"committee_id,omitempty"`
	RapporteurID    id.MemberID      `json:"rapporteur_id"`
	Number          int              `json:"number"`
	Year            int              `json:"year"`
	Type            Type             `json:"type"`
	Summary         string           `json:"summary"`
	Status          Status           `json:"status"`
	Outcome         Status           `json:"outcome,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	Eligible        []id.MemberID    `json:"eligible,omitempty"`
	Tally           *voting.Tally    `json:"tally,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewOpinion builds a numbered DRAFT. The caller assigns the number inside
// the transaction that inserts it.
func NewOpinion(opinionID id.OpinionID, propID id.PropositionID, committeeID *id.CommitteeID, rapporteurID id.MemberID, number, year int, typ Type, summary string, now time.Time) (*Opinion, error) {
	switch {
	case propID.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "proposition id is required")
	case rapporteurID.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "rapporteur id is required")
	case number <= 0:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "opinion number must be positive")
	}
	if _, err := ParseType(string(typ)); err != nil {
		return nil, err
	}
	return &Opinion{
		ID:            opinionID,
		PropositionID: propID,
		CommitteeID:   committeeID,
		RapporteurID:  rapporteurID,
		Number:        number,
		Year:          year,
		Type:          typ,
		Summary:       strings.TrimSpace(summary),
		Status:        StatusDraft,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *Opinion) transitionError(op string) error {
	return dErrors.New(dErrors.CodeInvalidState, "cannot "+op+" an opinion that is "+string(o.Status))
}

// CanSubmitForVote requires a draft with a committee to vote on it.
func (o *Opinion) CanSubmitForVote() error {
	if o.Status != StatusDraft {
		return o.transitionError("submit for vote")
	}
	if o.CommitteeID == nil {
		return dErrors.New(dErrors.CodeValidation, "opinion has no committee to vote on it")
	}
	return nil
}

// ApplySubmitForVote freezes the eligible roster.
func (o *Opinion) ApplySubmitForVote(eligible []id.MemberID, now time.Time) {
	o.Eligible = id.NewMemberSet(eligible).Slice()
	o.Status = StatusAwaitingVote
	o.UpdatedAt = now
}

func (o *Opinion) EligibleSet() id.MemberSet {
	return id.NewMemberSet(o.Eligible)
}

func (o *Opinion) CanAcceptVotes() error {
	if o.Status != StatusAwaitingVote {
		return dErrors.New(dErrors.CodeInvalidState, "opinion is not awaiting a vote")
	}
	return nil
}

// IsClosed reports whether the committee vote has been recorded.
func (o *Opinion) IsClosed() bool {
	return o.Outcome != ""
}

// CanClose checks that outcome and reason fit an open vote.
func (o *Opinion) CanClose(outcome Status, reason string) error {
	if err := o.CanAcceptVotes(); err != nil {
		return err
	}
	if len(strings.TrimSpace(reason)) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "rejection reason must be 2000 characters or less")
	}
	if outcome != StatusApprovedByCommittee && outcome != StatusRejectedByCommittee {
		return dErrors.New(dErrors.CodeValidation, "unknown outcome")
	}
	return nil
}

// ApplyClose records the outcome and tally. The reason is kept only for a
// rejection.
func (o *Opinion) ApplyClose(outcome Status, tally voting.Tally, reason string, now time.Time) {
	o.Status = outcome
	o.Outcome = outcome
	o.Tally = &tally
	o.RejectionReason = ""
	if outcome == StatusRejectedByCommittee {
		o.RejectionReason = strings.TrimSpace(reason)
	}
	o.UpdatedAt = now
}

func (o *Opinion) CanIssue() error {
	if o.Status != StatusApprovedByCommittee {
		return o.transitionError("issue")
	}
	return nil
}

func (o *Opinion) CanArchive() error {
	switch o.Status {
	case StatusApprovedByCommittee, StatusRejectedByCommittee, StatusIssued:
		return nil
	}
	return o.transitionError("archive")
}

// ApplyStatus moves the opinion. Call the matching CanX first.
func (o *Opinion) ApplyStatus(status Status, now time.Time) {
	o.Status = status
	o.UpdatedAt = now
}

// Vote is one committee member's vote on an opinion.
type Vote struct {
	OpinionID id.OpinionID  `json:"opinion_id"`
	MemberID  id.MemberID   `json:"member_id"`
	Choice    voting.Choice `json:"choice"`
	CastAt    time.Time     `json:"cast_at"`
}

// Choices maps each voter to their current choice.
func Choices(votes []*Vote) map[id.MemberID]voting.Choice {
	out := make(map[id.MemberID]voting.Choice, len(votes))
	for _, v := range votes {
		out[v.MemberID] = v.Choice
	}
	return out
}
