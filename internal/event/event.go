// Package event defines the raw measurement model shared by every stage of
// the fusion pipeline.
//
// A Raw event is immutable once recorded: collectors create them, the engine
// only reads them. Timestamps are milliseconds since the Unix epoch, matching
// what the mobile collectors emit.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/mkuiper/daylight/internal/logging"
)

// Type identifies what kind of measurement an event carries.
type Type string

const (
	TypeWorkout   Type = "workout"
	TypeLocation  Type = "location"
	TypeSleep     Type = "sleep"
	TypeSteps     Type = "steps"
	TypeCalls     Type = "calls"
	TypeAppUsage  Type = "app_usage"
	TypeHeartRate Type = "heart_rate"
)

// KnownTypes lists every event type the engine understands.
var KnownTypes = []Type{
	TypeWorkout, TypeLocation, TypeSleep, TypeSteps,
	TypeCalls, TypeAppUsage, TypeHeartRate,
}

// Raw represents a single measurement from any collector.
//
// Value carries the primary numeric reading (step count, heart rate, workout
// duration in ms, ...). Everything else lives in Attributes, which may hold
// strings or numbers depending on the collector.
type Raw struct {
	ID         string
	Type       Type
	Timestamp  int64 // ms since epoch
	Value      float64
	Attributes map[string]any
	SourceName string

	// ConfidenceHint is an optional collector-supplied confidence in [0,1].
	// Zero means the collector provided none.
	ConfidenceHint float64
}

// Time returns the event timestamp as a time.Time.
func (r Raw) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// StringAttr returns a string attribute, or "" if absent or not a string.
func (r Raw) StringAttr(key string) string {
	if r.Attributes == nil {
		return ""
	}
	if s, ok := r.Attributes[key].(string); ok {
		return s
	}
	return ""
}

// FloatAttr returns a numeric attribute. JSON decoding and collectors hand
// us float64, int, and int64 interchangeably, so all three are accepted.
func (r Raw) FloatAttr(key string) (float64, bool) {
	if r.Attributes == nil {
		return 0, false
	}
	switch v := r.Attributes[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// ErrCorrupt marks an event that fails basic shape validation.
var ErrCorrupt = errors.New("corrupt event")

// Validate checks the minimal shape every event must have. A corrupt event
// is dropped by the caller, never propagated as a hard failure.
func Validate(r Raw) error {
	if r.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp (id=%s)", ErrCorrupt, r.ID)
	}
	if r.Type == "" {
		return fmt.Errorf("%w: missing type (id=%s)", ErrCorrupt, r.ID)
	}
	if r.SourceName == "" {
		return fmt.Errorf("%w: missing source (id=%s)", ErrCorrupt, r.ID)
	}
	return nil
}

// Sanitize drops corrupt events with a warning and returns the rest.
// Order is preserved.
func Sanitize(events []Raw) []Raw {
	out := events[:0:0]
	for _, ev := range events {
		if err := Validate(ev); err != nil {
			logging.Warn("Dropping corrupt event", "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out
}
