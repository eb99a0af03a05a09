// Package roster exposes committee membership. The core only reads it;
// seeding happens at startup or through migrations.
package roster

//go:generate mockgen -source=roster.go -destination=mocks/mocks.go -package=mocks Reader

import (
	"context"

	id "legisla/pkg/domain"
)

// Committee is a standing committee of the chamber.
type Committee struct {
	ID     id.CommitteeID `json:"id"`
	Name   string         `json:"name"`
	Active bool           `json:"active"`
}

// Member is one seat on a committee.
type Member struct {
	CommitteeID id.CommitteeID `json:"committee_id"`
	MemberID    id.MemberID    `json:"member_id"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
}

// Reader answers membership questions for the opinion workflow.
//
// ActiveMembers returns sentinel.ErrNotFound when the committee does not
// exist or is inactive.
type Reader interface {
	ActiveMembers(ctx context.Context, committeeID id.CommitteeID) ([]id.MemberID, error)
}

// Writer loads roster data. It is used by seeding and tests only.
type Writer interface {
	PutCommittee(ctx context.Context, c Committee) error
	PutMember(ctx context.Context, m Member) error
}
