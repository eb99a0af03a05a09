package testutil

import "testing"

// Step is one clause of a Scenario.
type Step struct {
	clause string
	desc   string
	fn     func(t *testing.T)
}

func Given(desc string, fn func(t *testing.T)) Step { return Step{"Given", desc, fn} }
func When(desc string, fn func(t *testing.T)) Step  { return Step{"When", desc, fn} }
func Then(desc string, fn func(t *testing.T)) Step  { return Step{"Then", desc, fn} }
func And(desc string, fn func(t *testing.T)) Step   { return Step{"And", desc, fn} }

// Scenario runs steps in order as subtests of one named test. Steps share
// state through closures, so the first failing step skips the rest.
func Scenario(t *testing.T, name string, steps ...Step) {
	t.Helper()
	t.Run(name, func(t *testing.T) {
		for i, step := range steps {
			if !t.Run(step.clause+" "+step.desc, step.fn) {
				t.Logf("skipping %d remaining steps", len(steps)-i-1)
				return
			}
		}
	})
}
