package models

import (
	"fmt"
	"strings"
	"time"

	"legisla/internal/voting"
	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

const maxJustificationLength = 500

// Record is one member's attendance for a session.
type Record struct {
	SessionID     id.SessionID `json:"session_id"`
	MemberID      id.MemberID  `json:"member_id"`
	Present       bool         `json:"present"`
	ArrivedAt     *time.Time   `json:"arrived_at,omitempty"`
	DepartedAt    *time.Time   `json:"departed_at,omitempty"`
	Justification string       `json:"justification,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewRecord returns an absent record for a member who has not been marked.
func NewRecord(sessionID id.SessionID, memberID id.MemberID) *Record {
	return &Record{SessionID: sessionID, MemberID: memberID}
}

func ValidateJustification(s string) error {
	if len(strings.TrimSpace(s)) > maxJustificationLength {
		return dErrors.New(dErrors.CodeValidation, "justification must be 500 characters or less")
	}
	return nil
}

// ApplyMark sets presence and reports whether it changed. Marking the same
// state twice keeps the original timestamps. An arrival after a departure
// starts a new stay.
func (r *Record) ApplyMark(present bool, justification string, now time.Time) bool {
	changed := r.Present != present || r.UpdatedAt.IsZero()
	switch {
	case present && (!r.Present || r.ArrivedAt == nil):
		arrived := now
		r.ArrivedAt = &arrived
		r.DepartedAt = nil
	case !present && r.Present:
		departed := now
		r.DepartedAt = &departed
	}
	r.Present = present
	if j := strings.TrimSpace(justification); j != "" {
		r.Justification = j
	}
	r.UpdatedAt = now
	return changed
}

// Quorum is a head count against a minimum.
type Quorum struct {
	Present int  `json:"present"`
	Minimum int  `json:"minimum"`
	Reached bool `json:"reached"`
}

func NewQuorum(present, minimum int) Quorum {
	return Quorum{Present: present, Minimum: minimum, Reached: present >= minimum}
}

// CommitteeQuorum counts the accounted members that belong to eligible
// against an absolute majority of eligible.
func CommitteeQuorum(eligible id.MemberSet, accounted []id.MemberID) Quorum {
	seen := make(map[id.MemberID]struct{}, len(accounted))
	for _, m := range accounted {
		if eligible.Contains(m) {
			seen[m] = struct{}{}
		}
	}
	return NewQuorum(len(seen), voting.MajorityQuorum(len(eligible)))
}

// Require fails with QuorumNotMet when the quorum is not reached.
func (q Quorum) Require() error {
	if !q.Reached {
		return dErrors.New(dErrors.CodeQuorumNotMet, fmt.Sprintf("quorum not met: %d of %d required", q.Present, q.Minimum))
	}
	return nil
}
