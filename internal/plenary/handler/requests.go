package handler

import (
	"strings"
	"time"

	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Title        string    `json:"title"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

func (r *CreateSessionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if r.ScheduledFor.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "scheduled_for is required")
	}
	return nil
}

// AddItemRequest is the body of POST /sessions/{id}/agenda. Either a
// proposition or a title is required.
type AddItemRequest struct {
	PropositionID string `json:"proposition_id"`
	Title         string `json:"title"`

	parsedPropositionID *id.PropositionID
}

func (r *AddItemRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if raw := strings.TrimSpace(r.PropositionID); raw != "" {
		propID, err := id.ParsePropositionID(raw)
		if err != nil {
			return err
		}
		r.parsedPropositionID = &propID
	}
	if r.parsedPropositionID == nil && strings.TrimSpace(r.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "proposition_id or title is required")
	}
	return nil
}

func (r *AddItemRequest) ParsedPropositionID() *id.PropositionID {
	return r.parsedPropositionID
}

// CastVoteRequest is the body of POST /agenda-items/{id}/votes.
type CastVoteRequest struct {
	Choice string `json:"choice"`

	parsedChoice voting.Choice
}

func (r *CastVoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	choice, err := voting.ParseChoice(r.Choice)
	if err != nil {
		return err
	}
	r.parsedChoice = choice
	return nil
}

func (r *CastVoteRequest) ParsedChoice() voting.Choice {
	return r.parsedChoice
}
