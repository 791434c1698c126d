// Package lineage records the full provenance of every derived value: which
// raw contributors produced it, at what weight and confidence, and which
// transformations were applied along the way.
//
// Records are keyed deterministically by (type, timestamp, primary source),
// so re-recording the same derived point overwrites rather than duplicates.
package lineage

import (
	"fmt"
	"sync"
	"time"

	"github.com/mkuiper/daylight/internal/event"
)

// Contributor is one raw input to a derived value. Events and the
// timestamp range come from the slot breadcrumb of the contributing
// source, so a record shows exactly which stretch of raw data fed it.
type Contributor struct {
	Source     string
	Value      float64
	Weight     float64
	Confidence float64

	Events  int
	FirstTS int64 // ms epoch
	LastTS  int64 // ms epoch
}

// Record is the provenance of one fused datapoint.
type Record struct {
	ID              string
	Timestamp       int64 // ms epoch
	Type            event.Type
	Value           float64
	PrimarySource   string
	Confidence      float64
	Contributors    []Contributor
	Transformations []string
}

// RecordID builds the deterministic lineage key.
func RecordID(t event.Type, ts int64, primarySource string) string {
	return fmt.Sprintf("%s_%d_%s", t, ts, primarySource)
}

// Quality classifies a day's data quality from its low-confidence ratio.
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// Histogram buckets confidences: high >= 0.8, medium >= 0.6, low < 0.6.
type Histogram struct {
	High   int
	Medium int
	Low    int
}

// Report summarises one calendar day of lineage records.
type Report struct {
	Date            string // YYYY-MM-DD
	Total           int
	BySource        map[string]int
	Confidence      Histogram
	Transformations map[string]int
	DataQuality     Quality
}

// Tracker stores lineage records for point lookup and daily reporting.
// Safe for concurrent use: the record map is guarded, since a single engine
// instance may be shared across passes.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]Record)}
}

// Record stores a lineage record and returns its ID. The ID is derived from
// the record's identity fields; an explicit ID on the input is replaced.
// Idempotent: recording the same derived point twice overwrites.
func (t *Tracker) Record(rec Record) string {
	rec.ID = RecordID(rec.Type, rec.Timestamp, rec.PrimarySource)

	t.mu.Lock()
	t.records[rec.ID] = rec
	t.mu.Unlock()

	return rec.ID
}

// Get returns the record for a lineage ID, if present.
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	return rec, ok
}

// Len returns the number of stored records.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// All returns a snapshot of every stored record, in no particular order.
func (t *Tracker) All() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// DailyReport aggregates all records whose timestamp falls on the given
// calendar date in loc (nil means time.Local): per-source counts, a
// three-bucket confidence histogram, transformation counts, and an overall
// data quality derived from the low-confidence ratio.
func (t *Tracker) DailyReport(date time.Time, loc *time.Location) Report {
	if loc == nil {
		loc = time.Local
	}
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	report := Report{
		Date:            dayStart.Format("2006-01-02"),
		BySource:        make(map[string]int),
		Transformations: make(map[string]int),
	}

	t.mu.RLock()
	for _, rec := range t.records {
		ts := time.UnixMilli(rec.Timestamp).In(loc)
		if ts.Before(dayStart) || !ts.Before(dayEnd) {
			continue
		}

		report.Total++
		report.BySource[rec.PrimarySource]++
		switch {
		case rec.Confidence >= 0.8:
			report.Confidence.High++
		case rec.Confidence >= 0.6:
			report.Confidence.Medium++
		default:
			report.Confidence.Low++
		}
		for _, tr := range rec.Transformations {
			report.Transformations[tr]++
		}
	}
	t.mu.RUnlock()

	report.DataQuality = qualityFor(report.Total, report.Confidence.Low)
	return report
}

// qualityFor derives overall data quality: poor if more than 30% of the
// day's records are low-confidence, fair beyond 15%, good otherwise.
func qualityFor(total, low int) Quality {
	if total == 0 {
		return QualityGood
	}
	ratio := float64(low) / float64(total)
	switch {
	case ratio > 0.30:
		return QualityPoor
	case ratio > 0.15:
		return QualityFair
	}
	return QualityGood
}
