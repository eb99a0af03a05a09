package models

import (
	"fmt"
	"strings"
	"time"

	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// Type is the legislative kind of a proposition. It selects the routing
// path through the chamber.
type Type string

const (
	TypeBill       Type = "BILL"
	TypeResolution Type = "RESOLUTION"
	TypeDecree     Type = "DECREE"
	TypeMotion     Type = "MOTION"
	TypeRequest    Type = "REQUEST"
	TypeAmendment  Type = "AMENDMENT"
)

// Types lists every proposition type.
var Types = []Type{TypeBill, TypeResolution, TypeDecree, TypeMotion, TypeRequest, TypeAmendment}

func (t Type) IsValid() bool {
	switch t {
	case TypeBill, TypeResolution, TypeDecree, TypeMotion, TypeRequest, TypeAmendment:
		return true
	}
	return false
}

// Status is derived from tramitation and plenary outcomes; nothing sets it
// directly.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusInProcess Status = "IN_PROCESS"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusArchived  Status = "ARCHIVED"
	StatusVetoed    Status = "VETOED"
)

const maxTitleLength = 500

// Proposition is a bill or other measure moving through the chamber.
//
// Invariants:
//   - (Type, Number, Year) is unique
//   - Status changes only through tramitation transitions or a plenary vote close
//   - VETOED is reachable only from APPROVED
//   - Propositions are never deleted
type Proposition struct {
	ID        id.PropositionID `json:"id"`
	Type      Type             `json:"type"`
	Number    int              `json:"number"`
	Year      int              `json:"year"`
	Title     string           `json:"title"`
	Summary   string           `json:"summary"`
	Status    Status           `json:"status"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewProposition builds a SUBMITTED proposition.
func NewProposition(propID id.PropositionID, typ Type, number, year int, title, summary string, now time.Time) (*Proposition, error) {
	title = strings.TrimSpace(title)
	switch {
	case !typ.IsValid():
		return nil, dErrors.New(dErrors.CodeValidation, "unknown proposition type")
	case number <= 0:
		return nil, dErrors.New(dErrors.CodeValidation, "number must be positive")
	case year < 1800 || year > 9999:
		return nil, dErrors.New(dErrors.CodeValidation, "year is out of range")
	case title == "":
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	case len(title) > maxTitleLength:
		return nil, dErrors.New(dErrors.CodeValidation, "title must be 500 characters or less")
	}
	return &Proposition{
		ID:        propID,
		Type:      typ,
		Number:    number,
		Year:      year,
		Title:     title,
		Summary:   strings.TrimSpace(summary),
		Status:    StatusSubmitted,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Label renders the citation form, e.g. "BILL 12/2025".
func (p *Proposition) Label() string {
	return fmt.Sprintf("%s %d/%d", p.Type, p.Number, p.Year)
}

// ApplyStatus records a status derived from a tramitation or vote outcome.
func (p *Proposition) ApplyStatus(status Status, now time.Time) {
	p.Status = status
	p.UpdatedAt = now
}

// CanVeto checks the executive veto precondition on the proposition itself.
// The caller also checks that the proposition sits at the executive unit.
func (p *Proposition) CanVeto() error {
	if p.Status != StatusApproved {
		return dErrors.New(dErrors.CodeInvalidState, "only approved propositions can be vetoed")
	}
	return nil
}

// ApplyVeto marks the proposition VETOED. Call CanVeto first.
func (p *Proposition) ApplyVeto(now time.Time) {
	p.ApplyStatus(StatusVetoed, now)
}
