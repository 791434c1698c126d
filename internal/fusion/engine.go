// Package fusion runs the full daily pipeline: load raw events, bucket them
// into slots, cross-validate sources, score confidence, track lineage,
// correlate behavioral patterns, and compose ranked narratives.
package fusion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mkuiper/daylight/internal/bucket"
	"github.com/mkuiper/daylight/internal/confidence"
	"github.com/mkuiper/daylight/internal/correlation"
	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/lineage"
	"github.com/mkuiper/daylight/internal/logging"
	"github.com/mkuiper/daylight/internal/narrative"
	"github.com/mkuiper/daylight/internal/shadow"
)

// DataPoint is one fused reading: the chosen value for a (slot, type) pair
// with its confidence and lineage reference.
type DataPoint struct {
	Timestamp    int64 // slot start, ms epoch
	Type         event.Type
	Value        float64
	SourceName   string
	Confidence   float64
	BoostReasons []string
	LineageID    string
}

// DataStore supplies the engine's inputs. An EventsForDay failure aborts
// the pass; a ShadowReadings failure only degrades it, validation simply
// runs against fewer shadows.
type DataStore interface {
	// EventsForDay returns the raw events of one calendar day, grouped by
	// source name. The day boundary follows date's location.
	EventsForDay(ctx context.Context, date time.Time) (map[string][]event.Raw, error)

	// ShadowReadings returns stored secondary readings for a type near a
	// timestamp.
	ShadowReadings(ctx context.Context, t event.Type, ts int64) ([]shadow.Reading, error)
}

// DayResult is the complete output of one analysis pass.
type DayResult struct {
	RunID      string
	Date       string // YYYY-MM-DD
	Points     []DataPoint
	Narratives []narrative.Narrative
	Anomalies  []shadow.Result
	Health     shadow.Health
	Lineage    lineage.Report
}

// Engine wires the pipeline stages together. Construct once, reuse across
// days; the lineage tracker accumulates across passes.
type Engine struct {
	store      DataStore
	scorer     *confidence.Scorer
	validator  *shadow.Validator
	tracker    *lineage.Tracker
	correlator *correlation.Engine
	composer   *narrative.Composer
	widthMs    int64
}

// New builds an engine. Rule or template problems are configuration errors
// and fail construction. history may be nil.
func New(store DataStore, history confidence.HistoryProvider,
	rules []correlation.Rule, templates []narrative.Template, widthMs int64) (*Engine, error) {

	correlator, err := correlation.NewEngine(rules)
	if err != nil {
		return nil, fmt.Errorf("fusion: %w", err)
	}
	composer, err := narrative.NewComposer(templates)
	if err != nil {
		return nil, fmt.Errorf("fusion: %w", err)
	}
	if widthMs <= 0 {
		widthMs = bucket.DefaultWidthMs
	}

	return &Engine{
		store:      store,
		scorer:     confidence.NewScorer(history),
		validator:  shadow.NewValidator(0),
		tracker:    lineage.NewTracker(),
		correlator: correlator,
		composer:   composer,
		widthMs:    widthMs,
	}, nil
}

// Tracker exposes the lineage tracker for point lookups.
func (e *Engine) Tracker() *lineage.Tracker { return e.tracker }

// Validator exposes the shadow validator's rolling anomaly log.
func (e *Engine) Validator() *shadow.Validator { return e.validator }

// AnalyzeDay runs one full pass over a calendar day. A day without data is
// not an error: the result is simply empty.
func (e *Engine) AnalyzeDay(ctx context.Context, date time.Time) (*DayResult, error) {
	result := &DayResult{
		RunID:  uuid.NewString(),
		Date:   date.Format("2006-01-02"),
		Health: shadow.HealthGood,
	}
	logging.Info("Fusion pass started", "run", result.RunID, "date", result.Date)

	sources, err := e.store.EventsForDay(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("fusion: load events for %s: %w", result.Date, err)
	}

	clean := make(map[string][]event.Raw, len(sources))
	var all []event.Raw
	for source, events := range sources {
		kept := event.Sanitize(events)
		if len(kept) == 0 {
			continue
		}
		clean[source] = kept
		all = append(all, kept...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Timestamp != all[j].Timestamp {
			return all[i].Timestamp < all[j].Timestamp
		}
		return all[i].ID < all[j].ID
	})

	locations := e.locationsBySlot(all)

	for _, t := range event.KnownTypes {
		e.fuseType(ctx, t, clean, locations, result)
	}

	matches := e.correlator.Analyze(all)
	result.Narratives = e.composer.ComposeAll(matches)
	result.Health = shadow.AssessHealth(result.Anomalies)
	result.Lineage = e.tracker.DailyReport(date, date.Location())

	logging.Info("Fusion pass finished",
		"run", result.RunID, "points", len(result.Points),
		"narratives", len(result.Narratives), "anomalies", len(result.Anomalies),
		"health", result.Health)
	return result, nil
}

// fuseType fuses one event type: bucket its events per slot and source,
// pick the most trusted source per slot, validate it against the others,
// score it, and record lineage.
func (e *Engine) fuseType(ctx context.Context, t event.Type,
	clean map[string][]event.Raw, locations map[int64]event.Raw, result *DayResult) {

	typed := make(map[string][]event.Raw)
	for source, events := range clean {
		for _, ev := range events {
			if ev.Type == t {
				typed[source] = append(typed[source], ev)
			}
		}
	}
	if len(typed) == 0 {
		return
	}

	slots := bucket.Bucket(typed, e.widthMs)
	starts := make([]int64, 0, len(slots))
	for start := range slots {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, start := range starts {
		aggs := slots[start]
		primarySource := pickPrimary(aggs)
		primary := aggs[primarySource]
		value := primary.Numeric["value"].Avg

		shadows := e.collectShadows(ctx, t, start, primarySource, aggs)

		report := e.validator.Validate(shadow.Primary{
			Timestamp: start,
			Type:      t,
			Source:    primarySource,
			Value:     value,
		}, shadows)
		result.Anomalies = append(result.Anomalies, report.Anomalies...)

		rep := event.Raw{
			Type:       t,
			Timestamp:  start,
			Value:      value,
			SourceName: primarySource,
		}
		var locEv *event.Raw
		if loc, ok := locations[start]; ok && t != event.TypeLocation {
			locEv = &loc
		}
		score := e.scorer.Score(ctx, rep, confidence.Context{
			Location: locEv,
			Shadows:  shadows,
		})

		transformations := []string{"passthrough"}
		if primary.Count > 1 {
			transformations = []string{"slot_average"}
		}
		if len(shadows) > 0 {
			transformations = append(transformations, "shadow_validated")
		}

		id := e.tracker.Record(lineage.Record{
			Timestamp:       start,
			Type:            t,
			Value:           value,
			PrimarySource:   primarySource,
			Confidence:      score.Confidence,
			Contributors:    contributors(aggs),
			Transformations: transformations,
		})

		result.Points = append(result.Points, DataPoint{
			Timestamp:    start,
			Type:         t,
			Value:        value,
			SourceName:   primarySource,
			Confidence:   score.Confidence,
			BoostReasons: score.Reasons,
			LineageID:    id,
		})
	}
}

// collectShadows merges the slot's other local sources with stored shadow
// readings. A store failure is a degraded pass, not a failed one.
func (e *Engine) collectShadows(ctx context.Context, t event.Type, start int64,
	primarySource string, aggs map[string]*bucket.SourceAggregate) []shadow.Reading {

	var shadows []shadow.Reading
	seen := map[string]bool{primarySource: true}

	names := make([]string, 0, len(aggs))
	for source := range aggs {
		names = append(names, source)
	}
	sort.Strings(names)
	for _, source := range names {
		if seen[source] {
			continue
		}
		seen[source] = true
		shadows = append(shadows, shadow.Reading{
			Source: source,
			Value:  aggs[source].Numeric["value"].Avg,
		})
	}

	stored, err := e.store.ShadowReadings(ctx, t, start)
	if err != nil {
		logging.Debug("Shadow source unavailable, validating with fewer readings",
			"type", t, "slot", start, "error", err)
		return shadows
	}
	for _, r := range stored {
		if seen[r.Source] {
			continue
		}
		seen[r.Source] = true
		shadows = append(shadows, r)
	}
	return shadows
}

// locationsBySlot indexes the first location event of each slot; events
// must already be time-ordered.
func (e *Engine) locationsBySlot(all []event.Raw) map[int64]event.Raw {
	out := make(map[int64]event.Raw)
	for _, ev := range all {
		if ev.Type != event.TypeLocation {
			continue
		}
		start := bucket.SlotFor(ev.Timestamp, e.widthMs).Start
		if _, ok := out[start]; !ok {
			out[start] = ev
		}
	}
	return out
}

// pickPrimary selects the slot's most trusted source by base confidence,
// breaking ties by name so the choice is stable.
func pickPrimary(aggs map[string]*bucket.SourceAggregate) string {
	best := ""
	bestConf := -1.0
	for source := range aggs {
		conf := confidence.BaseFor(source)
		if conf > bestConf || (conf == bestConf && source < best) {
			best = source
			bestConf = conf
		}
	}
	return best
}

// contributors converts the slot's per-source aggregates into lineage
// contributors weighted by event count, carrying each source's slot
// breadcrumb (how many raw events, over what time range).
func contributors(aggs map[string]*bucket.SourceAggregate) []lineage.Contributor {
	total := 0
	for _, agg := range aggs {
		total += agg.Count
	}

	out := make([]lineage.Contributor, 0, len(aggs))
	for _, agg := range aggs {
		bc := agg.Breadcrumb
		out = append(out, lineage.Contributor{
			Source:     agg.Source,
			Value:      agg.Numeric["value"].Avg,
			Weight:     float64(agg.Count) / float64(total),
			Confidence: confidence.BaseFor(agg.Source),
			Events:     bc.Count,
			FirstTS:    bc.MinTS,
			LastTS:     bc.MaxTS,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
