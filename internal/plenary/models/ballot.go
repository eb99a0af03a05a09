package models

import (
	"time"

	"legisla/internal/voting"
	id "legisla/pkg/domain"
)

// Ballot freezes who may vote on an item: the members present when voting
// opened. Later attendance changes do not touch it.
type Ballot struct {
	AgendaItemID  id.AgendaItemID `json:"agenda_item_id"`
	SessionID     id.SessionID    `json:"session_id"`
	Eligible      []id.MemberID   `json:"eligible"`
	OpenedAt      time.Time       `json:"opened_at"`
	PresentCount  int             `json:"present_count"`
	QuorumMinimum int             `json:"quorum_minimum"`
}

func NewBallot(item *AgendaItem, present []id.MemberID, quorumMinimum int, now time.Time) *Ballot {
	eligible := id.NewMemberSet(present).Slice()
	return &Ballot{
		AgendaItemID:  item.ID,
		SessionID:     item.SessionID,
		Eligible:      eligible,
		OpenedAt:      now,
		PresentCount:  len(eligible),
		QuorumMinimum: quorumMinimum,
	}
}

func (b *Ballot) EligibleSet() id.MemberSet {
	return id.NewMemberSet(b.Eligible)
}

func (b *Ballot) QuorumReached() bool {
	return b.PresentCount >= b.QuorumMinimum
}

// Vote is one member's roll-call answer on an item. Recasting replaces it
// while voting is open.
type Vote struct {
	AgendaItemID id.AgendaItemID `json:"agenda_item_id"`
	SessionID    id.SessionID    `json:"session_id"`
	MemberID     id.MemberID     `json:"member_id"`
	Choice       voting.Choice   `json:"choice"`
	CastAt       time.Time       `json:"cast_at"`
}

// Result is the write-once record of a closed vote.
type Result struct {
	AgendaItemID  id.AgendaItemID `json:"agenda_item_id"`
	SessionID     id.SessionID    `json:"session_id"`
	Yes           int             `json:"yes"`
	No            int             `json:"no"`
	Abstain       int             `json:"abstain"`
	TotalEligible int             `json:"total_eligible"`
	ClosedAt      time.Time       `json:"closed_at"`
	Outcome       voting.Outcome  `json:"outcome"`
}

// Tally tallies votes over the ballot's eligible set.
func (b *Ballot) Tally(votes []*Vote) voting.Tally {
	choices := make(map[id.MemberID]voting.Choice, len(votes))
	for _, v := range votes {
		choices[v.MemberID] = v.Choice
	}
	return voting.Count(b.EligibleSet(), choices)
}

func NewResult(b *Ballot, t voting.Tally, now time.Time) *Result {
	return &Result{
		AgendaItemID:  b.AgendaItemID,
		SessionID:     b.SessionID,
		Yes:           t.Yes,
		No:            t.No,
		Abstain:       t.Abstain,
		TotalEligible: t.TotalEligible,
		ClosedAt:      now,
		Outcome:       t.Outcome(),
	}
}

func (r *Result) Tally() voting.Tally {
	return voting.Tally{Yes: r.Yes, No: r.No, Abstain: r.Abstain, TotalEligible: r.TotalEligible}
}
