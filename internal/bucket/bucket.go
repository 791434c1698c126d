// Package bucket partitions heterogeneous source records into fixed-width
// time slots and aggregates each slot's values per source.
//
// Slots are sparse: they exist only where at least one event landed. The
// bucketer is a pure function over its input, so re-running it on the same
// events is deterministic.
package bucket

import (
	"math"

	"github.com/mkuiper/daylight/internal/event"
)

// DefaultWidthMs is the slot width used by the fusion pipeline: 15 minutes.
const DefaultWidthMs int64 = 15 * 60 * 1000

// Slot is a half-open interval [Start, End) on the millisecond timeline.
type Slot struct {
	Start, End int64
	WidthMs    int64
}

// SlotFor returns the slot containing ts for the given width.
func SlotFor(ts, widthMs int64) Slot {
	start := (ts / widthMs) * widthMs
	if ts < 0 && ts%widthMs != 0 {
		start -= widthMs // floor, not truncate, for pre-epoch timestamps
	}
	return Slot{Start: start, End: start + widthMs, WidthMs: widthMs}
}

// FieldStats accumulates numeric observations for one field.
type FieldStats struct {
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
	Count int
}

func (f *FieldStats) add(v float64) {
	if f.Count == 0 {
		f.Min, f.Max = v, v
	} else {
		f.Min = math.Min(f.Min, v)
		f.Max = math.Max(f.Max, v)
	}
	f.Sum += v
	f.Count++
	f.Avg = f.Sum / float64(f.Count)
}

// Breadcrumb records which raw events a source contributed to a slot.
// The fusion pipeline copies it into each lineage contributor.
type Breadcrumb struct {
	Source string
	Count  int
	MinTS  int64
	MaxTS  int64
}

// SourceAggregate holds one source's contribution to one slot.
type SourceAggregate struct {
	Source string
	Count  int

	// Numeric holds stats per numeric field. The primary reading is always
	// present under the "value" key; numeric attributes use their own name.
	Numeric map[string]*FieldStats

	// Categorical collects the distinct observed values per string field.
	Categorical map[string]map[string]bool

	Breadcrumb Breadcrumb
}

func newSourceAggregate(source string) *SourceAggregate {
	return &SourceAggregate{
		Source:      source,
		Numeric:     make(map[string]*FieldStats),
		Categorical: make(map[string]map[string]bool),
	}
}

func (a *SourceAggregate) observe(ev event.Raw) {
	a.Count++

	a.numeric("value").add(ev.Value)
	for key, val := range ev.Attributes {
		switch v := val.(type) {
		case float64:
			a.numeric(key).add(v)
		case int:
			a.numeric(key).add(float64(v))
		case int64:
			a.numeric(key).add(float64(v))
		case string:
			set := a.Categorical[key]
			if set == nil {
				set = make(map[string]bool)
				a.Categorical[key] = set
			}
			set[v] = true
		}
	}

	bc := &a.Breadcrumb
	if bc.Count == 0 {
		bc.Source = a.Source
		bc.MinTS, bc.MaxTS = ev.Timestamp, ev.Timestamp
	} else {
		if ev.Timestamp < bc.MinTS {
			bc.MinTS = ev.Timestamp
		}
		if ev.Timestamp > bc.MaxTS {
			bc.MaxTS = ev.Timestamp
		}
	}
	bc.Count++
}

func (a *SourceAggregate) numeric(field string) *FieldStats {
	st := a.Numeric[field]
	if st == nil {
		st = &FieldStats{}
		a.Numeric[field] = st
	}
	return st
}

// Bucket partitions every event into its slot and aggregates per slot per
// source. The result maps slot start -> source name -> aggregate.
//
// Absent sources simply produce no entry; empty input yields an empty map.
// Corrupt events must be filtered by the caller beforehand (event.Sanitize).
func Bucket(sources map[string][]event.Raw, widthMs int64) map[int64]map[string]*SourceAggregate {
	if widthMs <= 0 {
		widthMs = DefaultWidthMs
	}

	slots := make(map[int64]map[string]*SourceAggregate)
	for source, events := range sources {
		for _, ev := range events {
			slot := SlotFor(ev.Timestamp, widthMs)
			perSource := slots[slot.Start]
			if perSource == nil {
				perSource = make(map[string]*SourceAggregate)
				slots[slot.Start] = perSource
			}
			agg := perSource[source]
			if agg == nil {
				agg = newSourceAggregate(source)
				perSource[source] = agg
			}
			agg.observe(ev)
		}
	}
	return slots
}
