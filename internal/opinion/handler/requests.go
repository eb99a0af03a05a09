package handler

import (
	"strings"

	"legisla/internal/opinion/models"
	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// CreateOpinionRequest is the body of POST /opinions.
type CreateOpinionRequest struct {
	PropositionID string `json:"proposition_id"`
	CommitteeID   string `json:"committee_id"`
	RapporteurID  string `json:"rapporteur_id"`
	Type          string `json:"type"`
	Summary       string `json:"summary"`

	parsedPropositionID id.PropositionID
	parsedCommitteeID   *id.CommitteeID
	parsedRapporteurID  id.MemberID
	parsedType          models.Type
}

func (r *CreateOpinionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var err error
	if r.parsedPropositionID, err = id.ParsePropositionID(strings.TrimSpace(r.PropositionID)); err != nil {
		return err
	}
	if r.parsedRapporteurID, err = id.ParseMemberID(strings.TrimSpace(r.RapporteurID)); err != nil {
		return err
	}
	if strings.TrimSpace(r.CommitteeID) == "" {
		return dErrors.New(dErrors.CodeValidation, "committee_id is required")
	}
	committeeID, err := id.ParseCommitteeID(strings.TrimSpace(r.CommitteeID))
	if err != nil {
		return err
	}
	r.parsedCommitteeID = &committeeID
	if r.parsedType, err = models.ParseType(r.Type); err != nil {
		return err
	}
	if len(r.Summary) > 10000 {
		return dErrors.New(dErrors.CodeValidation, "summary must be 10000 characters or less")
	}
	return nil
}

// CastVoteRequest is the body of POST /opinions/{id}/votes.
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

// CloseVoteRequest is the body of POST /opinions/{id}/vote/close.
type CloseVoteRequest struct {
	Outcome         string `json:"outcome"`
	RejectionReason string `json:"rejection_reason"`

	parsedOutcome models.Status
}

func (r *CloseVoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	outcome, err := models.ParseOutcome(r.Outcome)
	if err != nil {
		return err
	}
	r.parsedOutcome = outcome
	return nil
}
