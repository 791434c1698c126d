// Package confidence computes per-datapoint confidence: a fixed per-source
// base plus contextual boosts from co-located activity, cross-source
// agreement, and historical-pattern consistency.
//
// Scoring is pure: the scorer never mutates state, and the same inputs
// always produce the same result. The final confidence is derivable from
// the returned reasons, so every score is auditable.
package confidence

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/logging"
	"github.com/mkuiper/daylight/internal/shadow"
)

// Confidence bounds. Never 0 (total distrust) or 1 (absolute certainty):
// measurement uncertainty is irreducible.
const (
	MinConfidence = 0.10
	MaxConfidence = 0.99
)

// Boost magnitudes.
const (
	gymBoost     = 0.15
	homeBoost    = 0.10
	outdoorBoost = 0.08

	tightAgreementBoost = 0.12 // deviation < 0.10
	looseAgreementBoost = 0.06 // deviation < 0.20
	maxValidationBoost  = 0.20

	patternBoost   = 0.08  // within 15% of historical average
	patternPenalty = -0.05 // beyond 50% of historical average
)

// defaultBase is the confidence for sources missing from the table.
const defaultBase = 0.50

// baseConfidence is the fixed per-source lookup table. Dedicated sensors
// rank above integrations, which rank above manual entry.
var baseConfidence = map[string]float64{
	"healthkit":    0.95,
	"health_sdk":   0.95,
	"garmin":       0.90,
	"fitbit":       0.88,
	"google_fit":   0.85,
	"strava":       0.85,
	"pedometer":    0.80,
	"gps":          0.80,
	"call_log":     0.90,
	"usage_stats":  0.85,
	"manual_entry": 0.50,
}

// gymKeywords mark a location as "gym-like" by display name.
var gymKeywords = []string{"gym", "fitness", "basic-fit", "sportschool", "crossfit", "climbing"}

// homeKeywords mark a location as "home-like".
var homeKeywords = []string{"home", "thuis"}

// outdoorAccuracyM is the GPS error (meters) below which a fix counts as a
// clean outdoor location.
const outdoorAccuracyM = 25.0

// HistoryProvider supplies stored historical averages per event type and
// time of day. Implementations back onto the data store; a fixed provider
// exists for tests. A false second return means no pattern is available
// (which contributes no adjustment, never an error).
type HistoryProvider interface {
	HistoricalAverage(ctx context.Context, t event.Type, ts int64) (float64, bool)
}

// FixedHistory is a HistoryProvider returning one constant average for
// every lookup. Used in tests and as a stand-in when no store is wired.
type FixedHistory float64

func (f FixedHistory) HistoricalAverage(context.Context, event.Type, int64) (float64, bool) {
	return float64(f), true
}

// NoHistory never has a pattern.
type NoHistory struct{}

func (NoHistory) HistoricalAverage(context.Context, event.Type, int64) (float64, bool) {
	return 0, false
}

// Context carries the corroborating evidence available for one datapoint.
// All fields are optional; absent evidence simply contributes no boost.
type Context struct {
	// Location is a location event co-occurring with the datapoint.
	Location *event.Raw

	// Shadows are secondary readings of the same quantity at the same
	// timestamp.
	Shadows []shadow.Reading
}

// Result breaks a score into its auditable parts:
// Confidence = clamp(Base + Boost).
type Result struct {
	Confidence float64
	Base       float64
	Boost      float64
	Reasons    []string
}

// Scorer computes confidence scores. Zero-cost to share: it holds only the
// immutable base table and the history seam.
type Scorer struct {
	history HistoryProvider
}

// NewScorer creates a scorer. history may be nil, which disables the
// historical-pattern adjustment.
func NewScorer(history HistoryProvider) *Scorer {
	if history == nil {
		history = NoHistory{}
	}
	return &Scorer{history: history}
}

// BaseFor returns the base confidence for a source name.
func BaseFor(source string) float64 {
	if b, ok := baseConfidence[strings.ToLower(source)]; ok {
		return b
	}
	return defaultBase
}

// Score computes the confidence for one datapoint given its context.
func (s *Scorer) Score(ctx context.Context, ev event.Raw, c Context) Result {
	res := Result{Base: BaseFor(ev.SourceName)}

	boost, reasons := locationBoost(ev, c.Location)
	res.Boost += boost
	res.Reasons = append(res.Reasons, reasons...)

	boost, reasons = validationBoost(ev, c.Shadows)
	res.Boost += boost
	res.Reasons = append(res.Reasons, reasons...)

	boost, reasons = s.patternAdjustment(ctx, ev)
	res.Boost += boost
	res.Reasons = append(res.Reasons, reasons...)

	res.Confidence = Clamp(res.Base + res.Boost)
	return res
}

// Clamp bounds a confidence to [MinConfidence, MaxConfidence].
func Clamp(v float64) float64 {
	if v < MinConfidence {
		return MinConfidence
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}

// locationBoost rewards datapoints whose timestamp coincides with a
// corroborating location: workouts at a gym, sleep at home, steps outdoors
// with a clean GPS fix. Multiple applicable boosts sum.
func locationBoost(ev event.Raw, loc *event.Raw) (float64, []string) {
	if loc == nil {
		return 0, nil
	}
	name := strings.ToLower(loc.StringAttr("name"))

	var boost float64
	var reasons []string

	if ev.Type == event.TypeWorkout && containsAny(name, gymKeywords) {
		boost += gymBoost
		reasons = append(reasons, fmt.Sprintf("workout at gym-like location %q", loc.StringAttr("name")))
	}
	if ev.Type == event.TypeSleep && containsAny(name, homeKeywords) {
		boost += homeBoost
		reasons = append(reasons, "sleep at home-like location")
	}
	if ev.Type == event.TypeSteps {
		if acc, ok := loc.FloatAttr("accuracy"); ok && acc <= outdoorAccuracyM {
			boost += outdoorBoost
			reasons = append(reasons, "steps at outdoor location with low GPS error")
		}
	}
	return boost, reasons
}

// validationBoost rewards agreement with shadow sources. Each agreeing
// shadow adds its boost; the total is capped so a crowd of mirrors cannot
// inflate confidence without bound.
func validationBoost(ev event.Raw, shadows []shadow.Reading) (float64, []string) {
	var boost float64
	var reasons []string

	for _, sh := range shadows {
		dev := shadow.Deviation(ev.Value, sh.Value)
		switch {
		case dev < 0.10:
			boost += tightAgreementBoost
			reasons = append(reasons, fmt.Sprintf("confirmed by %s (deviation %.1f%%)", sh.Source, dev*100))
		case dev < 0.20:
			boost += looseAgreementBoost
			reasons = append(reasons, fmt.Sprintf("loosely confirmed by %s (deviation %.1f%%)", sh.Source, dev*100))
		}
	}

	if boost > maxValidationBoost {
		boost = maxValidationBoost
		reasons = append(reasons, "validation boost capped")
	}
	return boost, reasons
}

// patternAdjustment compares the value against the stored historical
// average for this type and time of day. Consistency earns a small boost;
// a wild departure earns a small penalty. No pattern, no adjustment — the
// provider's second return alone decides that, a stored average of zero
// (nothing usually happens at this hour) is still a pattern.
func (s *Scorer) patternAdjustment(ctx context.Context, ev event.Raw) (float64, []string) {
	avg, ok := s.history.HistoricalAverage(ctx, ev.Type, ev.Timestamp)
	if !ok {
		logging.Debug("No historical pattern available", "type", ev.Type)
		return 0, nil
	}

	dev := shadow.Deviation(ev.Value, avg)
	switch {
	case dev <= 0.15:
		return patternBoost, []string{"consistent with historical pattern"}
	case dev > 0.50:
		return patternPenalty, []string{"unusual compared to historical pattern"}
	}
	return 0, nil
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
