// Package correlation matches sequences of typed events against a fixed
// registry of rules inside sliding time windows, scores each match, and
// hands matched event sets to narrative composition.
package correlation

import (
	"time"

	"github.com/mkuiper/daylight/internal/event"
)

// Rule describes one multi-event behavioral pattern. Rules are loaded once
// at startup and immutable for the process lifetime.
type Rule struct {
	ID string

	// RequiredTypes lists the matcher keys that must all resolve to a
	// concrete event for the rule to fire. Keys are either plain event
	// types ("workout") or qualified matchers ("location_gym").
	RequiredTypes []string

	// WindowMs is the maximum span between the earliest and latest matched
	// event. This is the authoritative window check.
	WindowMs int64

	BaseConfidence float64
	NarrativeKey   string
}

// Window returns the rule window as a duration.
func (r Rule) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// Match is one successful rule application. Matches exist only transiently
// during an analysis pass; they are not persisted by the engine.
type Match struct {
	RuleID string

	// Events holds one representative event per required type, in the
	// rule's declaration order.
	Events []event.Raw

	WindowStart int64
	WindowEnd   int64

	Confidence   float64
	Strength     float64
	NarrativeKey string
}

// EventIDs returns the IDs of the matched events.
func (m Match) EventIDs() []string {
	ids := make([]string, len(m.Events))
	for i, ev := range m.Events {
		ids[i] = ev.ID
	}
	return ids
}
