// Package events defines the domain events published after a transition
// commits. Terminals may subscribe to them instead of polling; reads never
// depend on them.
package events

//go:generate mockgen -source=events.go -destination=mocks/mocks.go -package=mocks Publisher

import (
	"context"
	"time"
)

// Type names a domain event. Values are stable wire identifiers.
type Type string

const (
	PropositionSubmitted Type = "proposition.submitted"
	PropositionStatus    Type = "proposition.status_changed"
	StepOpened           Type = "tramitation.step_opened"
	StepConcluded        Type = "tramitation.step_concluded"
	StepReopened         Type = "tramitation.step_reopened"

	AgendaItemChanged Type = "plenary.agenda_item_changed"
	VotingOpened      Type = "plenary.voting_opened"
	VoteCast          Type = "plenary.vote_cast"
	VotingClosed      Type = "plenary.voting_closed"

	OpinionChanged   Type = "opinion.status_changed"
	OpinionVoteCast  Type = "opinion.vote_cast"
	AttendanceMarked Type = "attendance.marked"
)

// Event is one published fact. Key groups events that must stay ordered
// (e.g. "session:<id>") and becomes the Kafka record key.
type Event struct {
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
	Data       any       `json:"data,omitempty"`
}

// Publisher delivers committed events. Callers publish only after the
// transaction commits; a failure does not undo the transition.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards events. It is the default when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
