package models

import (
	"strings"
	"time"

	propmodels "legisla/internal/proposition/models"
	"legisla/internal/routing"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// StepStatus tracks one stop of a proposition's path through the chamber.
//
//	PENDING -> IN_PROGRESS -> CONCLUDED -> REOPENED -> IN_PROGRESS
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepConcluded  StepStatus = "CONCLUDED"
	StepReopened   StepStatus = "REOPENED"
)

// Result is the decision a unit records when finalizing a step.
type Result string

const (
	ResultApproved               Result = "APPROVED"
	ResultRejected               Result = "REJECTED"
	ResultApprovedWithAmendments Result = "APPROVED_WITH_AMENDMENTS"
	ResultArchived               Result = "ARCHIVED"
)

// ParseResult validates a finalization result.
func ParseResult(s string) (Result, error) {
	r := Result(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case ResultApproved, ResultRejected, ResultApprovedWithAmendments, ResultArchived:
		return r, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "result must be APPROVED, REJECTED, APPROVED_WITH_AMENDMENTS or ARCHIVED")
}

// PropositionStatus is the proposition status a finalized result implies.
// Amendments send the proposition back into process.
func (r Result) PropositionStatus() propmodels.Status {
	switch r {
	case ResultApproved:
		return propmodels.StatusApproved
	case ResultRejected:
		return propmodels.StatusRejected
	case ResultArchived:
		return propmodels.StatusArchived
	default:
		return propmodels.StatusInProcess
	}
}

// SupersededComment is recorded on a step closed by manual routing.
const SupersededComment = "superseded by manual routing"

// Step is one entry of the append-only tramitation history.
//
// Invariants:
//   - Sequence is strictly increasing per proposition
//   - At most one step per proposition is IN_PROGRESS
//   - ExitedAt and Result are set only while CONCLUDED
type Step struct {
	ID            id.StepID        `json:"id"`
	PropositionID id.PropositionID `json:"proposition_id"`
	Sequence      int              `json:"sequence"`
	RoutingType   routing.Type     `json:"routing_type"`
	TargetUnit    string           `json:"target_unit"`
	Status        StepStatus       `json:"status"`
	EnteredAt     time.Time        `json:"entered_at"`
	ExitedAt      *time.Time       `json:"exited_at,omitempty"`
	Comment       string           `json:"comment,omitempty"`
	Result        Result           `json:"result,omitempty"`
}

// NewStep creates a PENDING step at unit.
func NewStep(stepID id.StepID, propID id.PropositionID, sequence int, unit routing.Unit, comment string, now time.Time) (*Step, error) {
	if strings.TrimSpace(unit.TargetUnit) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "target unit is required")
	}
	if sequence <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "step sequence must be positive")
	}
	return &Step{
		ID:            stepID,
		PropositionID: propID,
		Sequence:      sequence,
		RoutingType:   unit.RoutingType,
		TargetUnit:    strings.TrimSpace(unit.TargetUnit),
		Status:        StepPending,
		EnteredAt:     now,
		Comment:       strings.TrimSpace(comment),
	}, nil
}

func (s *Step) IsOpen() bool {
	return s.Status == StepInProgress
}

// CanOpen allows PENDING and REOPENED steps to start.
func (s *Step) CanOpen() error {
	if s.Status != StepPending && s.Status != StepReopened {
		return dErrors.New(dErrors.CodeInvalidState, "step cannot be opened from "+string(s.Status))
	}
	return nil
}

func (s *Step) ApplyOpen() {
	s.Status = StepInProgress
}

// CanConclude requires an open step.
func (s *Step) CanConclude() error {
	if s.Status != StepInProgress {
		return dErrors.New(dErrors.CodeInvalidState, "no step in progress")
	}
	return nil
}

// ApplyConclude closes the step. An empty comment keeps the existing one.
func (s *Step) ApplyConclude(now time.Time, comment string, result Result) {
	s.Status = StepConcluded
	exited := now
	s.ExitedAt = &exited
	if c := strings.TrimSpace(comment); c != "" {
		s.Comment = c
	}
	s.Result = result
}

// CanReopen requires a CONCLUDED step.
func (s *Step) CanReopen() error {
	if s.Status != StepConcluded {
		return dErrors.New(dErrors.CodeInvalidState, "only a concluded step can be reopened")
	}
	return nil
}

// ApplyReopen passes through REOPENED and leaves the step IN_PROGRESS with
// its exit data cleared.
func (s *Step) ApplyReopen() {
	s.Status = StepReopened
	s.ExitedAt = nil
	s.Result = ""
	s.ApplyOpen()
}
