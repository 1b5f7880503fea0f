// Package status maps between the persisted task status vocabulary and the
// vocabulary exposed to callers. It is a pure rename layer: no workflow
// legality lives here.
package status

import "fmt"

// Persisted vocabulary, stored in the record store.
const (
	Todo   = "todo"
	Doing  = "doing"
	Review = "review"
	Done   = "done"
)

// External vocabulary, exposed to and accepted from callers.
const (
	Backlog    = "backlog"
	InProgress = "in_progress"
	ExtReview  = "review"
	Complete   = "complete"
)

// table is the 1:1 mapping persisted -> external. Verify checks at startup
// that it is total and invertible; an unmapped status on either side is a
// configuration error, not a runtime fallthrough.
var table = map[string]string{
	Todo:   Backlog,
	Doing:  InProgress,
	Review: ExtReview,
	Done:   Complete,
}

var inverse = map[string]string{}

func init() {
	for p, e := range table {
		inverse[e] = p
	}
}

var persistedAll = []string{Todo, Doing, Review, Done}
var externalAll = []string{Backlog, InProgress, ExtReview, Complete}

// Verify confirms the translation table is total over both vocabularies and
// that the two directions are exact inverses.
func Verify() error {
	if len(table) != len(inverse) {
		return fmt.Errorf("status table is not 1:1 (%d persisted, %d external)", len(table), len(inverse))
	}
	for _, p := range persistedAll {
		e, ok := table[p]
		if !ok {
			return fmt.Errorf("persisted status %q has no external mapping", p)
		}
		if back, ok := inverse[e]; !ok || back != p {
			return fmt.Errorf("status %q does not round-trip (via %q)", p, e)
		}
	}
	for _, e := range externalAll {
		if _, ok := inverse[e]; !ok {
			return fmt.Errorf("external status %q has no persisted mapping", e)
		}
	}
	return nil
}

// ToExternal translates a persisted status. The bool reports membership.
func ToExternal(persisted string) (string, bool) {
	e, ok := table[persisted]
	return e, ok
}

// ToPersisted translates an external status. The bool reports membership.
func ToPersisted(external string) (string, bool) {
	p, ok := inverse[external]
	return p, ok
}

// ValidPersisted reports whether s is a member of the persisted vocabulary.
func ValidPersisted(s string) bool {
	_, ok := table[s]
	return ok
}

// Persisted returns the persisted vocabulary in workflow order.
func Persisted() []string {
	out := make([]string, len(persistedAll))
	copy(out, persistedAll)
	return out
}

// External returns the external vocabulary in workflow order.
func External() []string {
	out := make([]string, len(externalAll))
	copy(out, externalAll)
	return out
}
