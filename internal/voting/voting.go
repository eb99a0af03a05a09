// Package voting holds the tally primitive shared by plenary and committee
// votes. Both count the same way over different eligible-voter sets.
package voting

import (
	"strings"

	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// Choice is a single roll-call answer.
type Choice string

const (
	ChoiceYes     Choice = "YES"
	ChoiceNo      Choice = "NO"
	ChoiceAbstain Choice = "ABSTAIN"
)

// ParseChoice accepts YES, NO or ABSTAIN in any case.
func ParseChoice(s string) (Choice, error) {
	c := Choice(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case ChoiceYes, ChoiceNo, ChoiceAbstain:
		return c, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "choice must be YES, NO or ABSTAIN")
}

// Outcome is the binary result of a closed vote.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// Tally is the count over an eligible set. Eligible members who did not vote
// count toward TotalEligible only.
type Tally struct {
	Yes           int `json:"yes"`
	No            int `json:"no"`
	Abstain       int `json:"abstain"`
	TotalEligible int `json:"total_eligible"`
}

// Voted is the number of distinct eligible members who cast a vote.
func (t Tally) Voted() int {
	return t.Yes + t.No + t.Abstain
}

// Outcome is APPROVED iff yes strictly exceeds no. A tie rejects.
func (t Tally) Outcome() Outcome {
	if t.Yes > t.No {
		return OutcomeApproved
	}
	return OutcomeRejected
}

// Count tallies votes cast by members of eligible. Votes from anyone else
// are ignored.
func Count(eligible id.MemberSet, votes map[id.MemberID]Choice) Tally {
	t := Tally{TotalEligible: len(eligible)}
	for member, choice := range votes {
		if !eligible.Contains(member) {
			continue
		}
		switch choice {
		case ChoiceYes:
			t.Yes++
		case ChoiceNo:
			t.No++
		case ChoiceAbstain:
			t.Abstain++
		}
	}
	return t
}

// MajorityQuorum is the smallest absolute majority of n members: floor(n/2)+1.
func MajorityQuorum(n int) int {
	return n/2 + 1
}
