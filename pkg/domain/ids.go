// Package domain holds the typed identifiers shared by every bounded context.
//
// Each entity gets its own UUID-backed type so a MemberID can never be passed
// where a CommitteeID is expected. Construct IDs from external input with the
// Parse functions, which reject empty, malformed, and nil UUIDs.
package domain

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	dErrors "legisla/pkg/domain-errors"
)

type (
	PropositionID uuid.UUID
	StepID        uuid.UUID
	SessionID     uuid.UUID
	AgendaItemID  uuid.UUID
	MemberID      uuid.UUID
	CommitteeID   uuid.UUID
	OpinionID     uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

func ParsePropositionID(s string) (PropositionID, error) {
	u, err := parseUUID("proposition id", s)
	return PropositionID(u), err
}

func ParseStepID(s string) (StepID, error) {
	u, err := parseUUID("step id", s)
	return StepID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID("session id", s)
	return SessionID(u), err
}

func ParseAgendaItemID(s string) (AgendaItemID, error) {
	u, err := parseUUID("agenda item id", s)
	return AgendaItemID(u), err
}

func ParseMemberID(s string) (MemberID, error) {
	u, err := parseUUID("member id", s)
	return MemberID(u), err
}

func ParseCommitteeID(s string) (CommitteeID, error) {
	u, err := parseUUID("committee id", s)
	return CommitteeID(u), err
}

func ParseOpinionID(s string) (OpinionID, error) {
	u, err := parseUUID("opinion id", s)
	return OpinionID(u), err
}

func (i PropositionID) String() string { return uuid.UUID(i).String() }
func (i StepID) String() string        { return uuid.UUID(i).String() }
func (i SessionID) String() string     { return uuid.UUID(i).String() }
func (i AgendaItemID) String() string  { return uuid.UUID(i).String() }
func (i MemberID) String() string      { return uuid.UUID(i).String() }
func (i CommitteeID) String() string   { return uuid.UUID(i).String() }
func (i OpinionID) String() string     { return uuid.UUID(i).String() }

func (i PropositionID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i StepID) IsNil() bool        { return uuid.UUID(i) == uuid.Nil }
func (i SessionID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }
func (i AgendaItemID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i MemberID) IsNil() bool      { return uuid.UUID(i) == uuid.Nil }
func (i CommitteeID) IsNil() bool   { return uuid.UUID(i) == uuid.Nil }
func (i OpinionID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }

// JSON encodes IDs as canonical UUID strings.

func (i PropositionID) MarshalText() ([]byte, error) { return uuid.UUID(i).MarshalText() }
func (i StepID) MarshalText() ([]byte, error)        { return uuid.UUID(i).MarshalText() }
func (i SessionID) MarshalText() ([]byte, error)     { return uuid.UUID(i).MarshalText() }
func (i AgendaItemID) MarshalText() ([]byte, error)  { return uuid.UUID(i).MarshalText() }
func (i MemberID) MarshalText() ([]byte, error)      { return uuid.UUID(i).MarshalText() }
func (i CommitteeID) MarshalText() ([]byte, error)   { return uuid.UUID(i).MarshalText() }
func (i OpinionID) MarshalText() ([]byte, error)     { return uuid.UUID(i).MarshalText() }

func (i *PropositionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *StepID) UnmarshalText(b []byte) error        { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *SessionID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *AgendaItemID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *MemberID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *CommitteeID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(i).UnmarshalText(b) }
func (i *OpinionID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(i).UnmarshalText(b) }

// MemberSet is an immutable-by-convention set of members, used for
// eligibility snapshots.
type MemberSet map[MemberID]struct{}

// NewMemberSet builds a set from a slice, dropping duplicates and nil IDs.
func NewMemberSet(members []MemberID) MemberSet {
	set := make(MemberSet, len(members))
	for _, m := range members {
		if m.IsNil() {
			continue
		}
		set[m] = struct{}{}
	}
	return set
}

func (s MemberSet) Contains(m MemberID) bool {
	_, ok := s[m]
	return ok
}

// Slice returns the members sorted by their string form for stable output.
func (s MemberSet) Slice() []MemberID {
	out := make([]MemberID, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
