package models

import (
	"strings"
	"time"

	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// ItemStatus is the position of an agenda item in the floor procedure.
//
//	PENDING -> IN_DISCUSSION -> IN_VOTING -> {APPROVED, REJECTED}
//	PENDING, IN_DISCUSSION -> POSTPONED -> IN_DISCUSSION
//	PENDING, IN_DISCUSSION, POSTPONED -> WITHDRAWN
type ItemStatus string

const (
	ItemPending      ItemStatus = "PENDING"
	ItemInDiscussion ItemStatus = "IN_DISCUSSION"
	ItemInVoting     ItemStatus = "IN_VOTING"
	ItemApproved     ItemStatus = "APPROVED"
	ItemRejected     ItemStatus = "REJECTED"
	ItemPostponed    ItemStatus = "POSTPONED"
	ItemWithdrawn    ItemStatus = "WITHDRAWN"
)

// AgendaItem is one entry of a session's agenda, optionally bound to a
// proposition.
//
// Invariants:
//   - At most one item per session is IN_VOTING
//   - Only CloseVoting moves an item out of IN_VOTING
type AgendaItem struct {
	ID            id.AgendaItemID   `json:"id"`
	SessionID     id.SessionID      `json:"session_id"`
	PropositionID *id.PropositionID `json:"proposition_id,omitempty"`
	Position      int               `json:"position"`
	Title         string            `json:"title"`
	Status        ItemStatus        `json:"status"`
	Version       int64             `json:"version"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func NewAgendaItem(itemID id.AgendaItemID, sessionID id.SessionID, propID *id.PropositionID, position int, title string, now time.Time) (*AgendaItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "agenda item title is required")
	}
	return &AgendaItem{
		ID:            itemID,
		SessionID:     sessionID,
		PropositionID: propID,
		Position:      position,
		Title:         title,
		Status:        ItemPending,
		Version:       1,
		UpdatedAt:     now,
	}, nil
}

func (a *AgendaItem) IsClosed() bool {
	return a.Status == ItemApproved || a.Status == ItemRejected
}

func (a *AgendaItem) transitionError(op string) error {
	return dErrors.New(dErrors.CodeInvalidState, "cannot "+op+" an item that is "+string(a.Status))
}

func (a *AgendaItem) CanStartDiscussion() error {
	if a.Status != ItemPending && a.Status != ItemPostponed {
		return a.transitionError("discuss")
	}
	return nil
}

func (a *AgendaItem) CanPostpone() error {
	if a.Status != ItemPending && a.Status != ItemInDiscussion {
		return a.transitionError("postpone")
	}
	return nil
}

func (a *AgendaItem) CanWithdraw() error {
	switch a.Status {
	case ItemPending, ItemInDiscussion, ItemPostponed:
		return nil
	}
	return a.transitionError("withdraw")
}

func (a *AgendaItem) CanOpenVoting() error {
	if a.Status != ItemInDiscussion {
		return a.transitionError("open voting on")
	}
	return nil
}

// CanAcceptVotes requires the item to be under vote.
func (a *AgendaItem) CanAcceptVotes() error {
	if a.Status != ItemInVoting {
		return dErrors.New(dErrors.CodeInvalidState, "voting is not open for this item")
	}
	return nil
}

// ApplyStatus moves the item. Call the matching CanX first.
func (a *AgendaItem) ApplyStatus(status ItemStatus, now time.Time) {
	a.Status = status
	a.UpdatedAt = now
}

// ApplyOutcome closes the item with the vote outcome.
func (a *AgendaItem) ApplyOutcome(outcome voting.Outcome, now time.Time) {
	if outcome == voting.OutcomeApproved {
		a.ApplyStatus(ItemApproved, now)
		return
	}
	a.ApplyStatus(ItemRejected, now)
}
