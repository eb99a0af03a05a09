// Package routing holds the fixed tramitation catalog: which institutional
// units each proposition type passes through, and in which order.
package routing

import (
	_ "embed"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	propmodels "legisla/internal/proposition/models"
)

// Type identifies a kind of institutional unit.
type Type string

const (
	TypeProtocol         Type = "PROTOCOL"
	TypeCommitteeLegal   Type = "COMMITTEE_LEGAL"
	TypeCommitteeFinance Type = "COMMITTEE_FINANCE"
	TypePlenary          Type = "PLENARY"
	TypeExecutive        Type = "EXECUTIVE"
)

// Unit is a concrete destination for a tramitation step.
type Unit struct {
	RoutingType Type   `json:"routing_type"`
	TargetUnit  string `json:"target_unit"`
}

var (
	// ErrTerminal means the proposition already sits at its last unit.
	ErrTerminal = errors.New("routing: terminal unit has no successor")
	// ErrNoRoute means the current unit is not on the type's route, e.g.
	// after a manual step.
	ErrNoRoute = errors.New("routing: no rule for current unit")
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Units  map[Type]string            `yaml:"units"`
	Routes map[propmodels.Type][]Type `yaml:"routes"`
}

// Catalog answers routing questions. It is immutable after Load.
type Catalog struct {
	units  map[Type]string
	routes map[propmodels.Type][]Type
}

// Default returns the embedded catalog. It panics if the embedded file is
// invalid, which the package tests rule out.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("routing: embedded catalog: %v", err))
	}
	return c
}

// Load reads and validates a catalog.
func Load(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse validates a YAML catalog: every proposition type has a non-empty
// route over known units, with no unit visited twice.
func Parse(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for _, pt := range propmodels.Types {
		route, ok := f.Routes[pt]
		if !ok || len(route) == 0 {
			return nil, fmt.Errorf("catalog: no route for %s", pt)
		}
		seen := make(map[Type]bool, len(route))
		for _, rt := range route {
			if _, known := f.Units[rt]; !known {
				return nil, fmt.Errorf("catalog: route %s uses unknown unit %s", pt, rt)
			}
			if seen[rt] {
				return nil, fmt.Errorf("catalog: route %s visits %s twice", pt, rt)
			}
			seen[rt] = true
		}
	}
	for pt := range f.Routes {
		if !pt.IsValid() {
			return nil, fmt.Errorf("catalog: unknown proposition type %s", pt)
		}
	}
	return &Catalog{units: f.Units, routes: f.Routes}, nil
}

// IsKnown reports whether rt is a unit in the catalog.
func (c *Catalog) IsKnown(rt Type) bool {
	_, ok := c.units[rt]
	return ok
}

// UnitFor returns the catalog unit of a routing type.
func (c *Catalog) UnitFor(rt Type) (Unit, bool) {
	name, ok := c.units[rt]
	if !ok {
		return Unit{}, false
	}
	return Unit{RoutingType: rt, TargetUnit: name}, true
}

// Entry returns the unit where a newly submitted proposition lands.
func (c *Catalog) Entry(pt propmodels.Type) (Unit, error) {
	route, ok := c.routes[pt]
	if !ok {
		return Unit{}, ErrNoRoute
	}
	u, _ := c.UnitFor(route[0])
	return u, nil
}

// Next returns the unit after current on the route for pt.
func (c *Catalog) Next(pt propmodels.Type, current Type) (Unit, error) {
	route := c.routes[pt]
	for i, rt := range route {
		if rt != current {
			continue
		}
		if i == len(route)-1 {
			return Unit{}, ErrTerminal
		}
		u, _ := c.UnitFor(route[i+1])
		return u, nil
	}
	return Unit{}, ErrNoRoute
}

// IsTerminal reports whether current is the last unit for pt.
func (c *Catalog) IsTerminal(pt propmodels.Type, current Type) bool {
	route := c.routes[pt]
	return len(route) > 0 && route[len(route)-1] == current
}

// Route returns a copy of the full route for pt.
func (c *Catalog) Route(pt propmodels.Type) []Unit {
	route := c.routes[pt]
	out := make([]Unit, 0, len(route))
	for _, rt := range route {
		u, _ := c.UnitFor(rt)
		out = append(out, u)
	}
	return out
}
