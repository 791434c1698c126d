// Package shadow cross-validates primary readings against secondary
// ("shadow") sources reporting the same quantity, flags deviations above
// threshold, and keeps a rolling anomaly log for dataset health assessment.
package shadow

import (
	"math"

	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/logging"
)

// Agreement classifies how well two readings line up.
type Agreement string

const (
	AgreementGood Agreement = "good"
	AgreementFair Agreement = "fair"
	AgreementPoor Agreement = "poor"
)

// Severity of a recorded anomaly.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Health summarises the dataset quality after a validation pass.
type Health string

const (
	HealthGood Health = "good"
	HealthFair Health = "fair"
	HealthPoor Health = "poor"
)

// Deviation thresholds.
const (
	goodThreshold    = 0.2
	fairThreshold    = 0.4
	anomalyThreshold = 0.3
	highThreshold    = 0.5
)

// Deviation returns the relative difference between two readings,
// normalized to [0,1] against the larger magnitude. The 1 in the divisor
// guards against division by zero for near-zero readings. Symmetric in its
// arguments.
func Deviation(a, b float64) float64 {
	denom := math.Max(math.Max(math.Abs(a), math.Abs(b)), 1)
	return math.Abs(a-b) / denom
}

// Reading is one shadow source's value for a primary reading's timestamp.
type Reading struct {
	Source string
	Value  float64
}

// Primary identifies the reading under validation.
type Primary struct {
	Timestamp int64
	Type      event.Type
	Source    string
	Value     float64
}

// Result is the outcome of comparing a primary against one shadow source.
// Severity is empty unless the comparison crossed the anomaly threshold.
type Result struct {
	Timestamp     int64
	Type          event.Type
	PrimarySource string
	ShadowSource  string
	PrimaryValue  float64
	ShadowValue   float64
	Deviation     float64
	Agreement     Agreement
	Severity      Severity
}

// IsAnomaly reports whether this comparison was recorded as an anomaly.
func (r Result) IsAnomaly() bool { return r.Severity != "" }

// Report covers one validation pass over a primary and its shadows.
type Report struct {
	Results       []Result
	Anomalies     []Result
	OverallHealth Health
}

// Validator compares primaries against shadow readings and maintains the
// rolling anomaly log. Safe for concurrent use; the log is guarded.
type Validator struct {
	log *anomalyLog
}

// NewValidator creates a validator whose anomaly log keeps at most capacity
// entries (older entries are overwritten). capacity <= 0 uses the default.
func NewValidator(capacity int) *Validator {
	return &Validator{log: newAnomalyLog(capacity)}
}

// Compare validates a primary against a single shadow reading.
func Compare(p Primary, s Reading) Result {
	dev := Deviation(p.Value, s.Value)

	res := Result{
		Timestamp:     p.Timestamp,
		Type:          p.Type,
		PrimarySource: p.Source,
		ShadowSource:  s.Source,
		PrimaryValue:  p.Value,
		ShadowValue:   s.Value,
		Deviation:     dev,
	}

	switch {
	case dev < goodThreshold:
		res.Agreement = AgreementGood
	case dev < fairThreshold:
		res.Agreement = AgreementFair
	default:
		res.Agreement = AgreementPoor
	}

	if dev > anomalyThreshold {
		if dev > highThreshold {
			res.Severity = SeverityHigh
		} else {
			res.Severity = SeverityMedium
		}
	}

	return res
}

// Validate compares the primary against every shadow reading, appends
// anomalies to the rolling log, and assesses the pass's overall health:
// poor if any high-severity anomaly, fair if more than two anomalies of any
// severity, good otherwise.
func (v *Validator) Validate(p Primary, shadows []Reading) Report {
	report := Report{OverallHealth: HealthGood}

	for _, s := range shadows {
		res := Compare(p, s)
		report.Results = append(report.Results, res)
		if res.IsAnomaly() {
			report.Anomalies = append(report.Anomalies, res)
			v.log.push(res)
			logging.Warn("Shadow validation anomaly",
				"type", p.Type, "primary", p.Source, "shadow", s.Source,
				"deviation", res.Deviation, "severity", res.Severity)
		}
	}

	report.OverallHealth = AssessHealth(report.Anomalies)
	return report
}

// AssessHealth derives overall dataset health from a pass's anomalies.
func AssessHealth(anomalies []Result) Health {
	for _, a := range anomalies {
		if a.Severity == SeverityHigh {
			return HealthPoor
		}
	}
	if len(anomalies) > 2 {
		return HealthFair
	}
	return HealthGood
}

// RecentAnomalies returns the n most recent logged anomalies in
// chronological order.
func (v *Validator) RecentAnomalies(n int) []Result {
	return v.log.last(n)
}

// AnomalyCount returns the number of anomalies currently in the log.
func (v *Validator) AnomalyCount() int {
	return v.log.len()
}
