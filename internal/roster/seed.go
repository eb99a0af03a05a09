package roster

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	id "legisla/pkg/domain"
)

type seedMember struct {
	ID     id.MemberID `yaml:"id"`
	Name   string      `yaml:"name"`
	Active *bool       `yaml:"active"`
}

type seedCommittee struct {
	ID      id.CommitteeID `yaml:"id"`
	Name    string         `yaml:"name"`
	Active  *bool          `yaml:"active"`
	Members []seedMember   `yaml:"members"`
}

type seedFile struct {
	Committees []seedCommittee `yaml:"committees"`
}

func activeOrDefault(b *bool) bool {
	return b == nil || *b
}

// Seed loads a YAML roster into w and returns the number of seats written.
// Committees and members are active unless the file says otherwise.
//
//	committees:
//	  - id: 3b0c...
//	    name: Finance
//	    members:
//	      - id: 9f1e...
//	        name: Ana
func Seed(ctx context.Context, w Writer, r io.Reader) (int, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return 0, fmt.Errorf("parse roster: %w", err)
	}

	seats := 0
	for _, c := range f.Committees {
		if c.ID.IsNil() {
			return seats, fmt.Errorf("roster: committee %q has no id", c.Name)
		}
		committee := Committee{ID: c.ID, Name: c.Name, Active: activeOrDefault(c.Active)}
		if err := w.PutCommittee(ctx, committee); err != nil {
			return seats, fmt.Errorf("seed committee %s: %w", c.ID, err)
		}
		for _, m := range c.Members {
			if m.ID.IsNil() {
				return seats, fmt.Errorf("roster: member %q of %s has no id", m.Name, c.ID)
			}
			member := Member{CommitteeID: c.ID, MemberID: m.ID, Name: m.Name, Active: activeOrDefault(m.Active)}
			if err := w.PutMember(ctx, member); err != nil {
				return seats, fmt.Errorf("seed member %s: %w", m.ID, err)
			}
			seats++
		}
	}
	return seats, nil
}
