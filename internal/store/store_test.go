package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/fusion"
	"github.com/mkuiper/daylight/internal/lineage"
	"github.com/mkuiper/daylight/internal/shadow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// 2023-11-14 22:13:20 UTC
const baseTS int64 = 1700000000000

var day = time.UnixMilli(baseTS).UTC()

func TestSaveAndLoadEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	events := []event.Raw{
		{ID: "w1", Type: event.TypeWorkout, Timestamp: baseTS, Value: 1800000,
			SourceName: "strava", ConfidenceHint: 0.9,
			Attributes: map[string]any{"activity": "running", "calories": 320.0}},
		{ID: "s1", Type: event.TypeSteps, Timestamp: baseTS + 60000, Value: 9000,
			SourceName: "pedometer"},
	}

	n, err := s.SaveEvents(ctx, events)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 new events, got %d", n)
	}

	// Upsert: saving again with a changed value updates in place.
	events[0].Value = 1900000
	if _, err = s.SaveEvents(ctx, events); err != nil {
		t.Fatalf("resave: %v", err)
	}

	bySource, err := s.EventsForDay(ctx, day)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bySource["strava"]) != 1 || len(bySource["pedometer"]) != 1 {
		t.Fatalf("unexpected grouping: %v", bySource)
	}

	w := bySource["strava"][0]
	if w.Value != 1900000 {
		t.Errorf("upsert did not update value: %v", w.Value)
	}
	if w.StringAttr("activity") != "running" {
		t.Errorf("attributes lost round trip: %v", w.Attributes)
	}
	if cal, ok := w.FloatAttr("calories"); !ok || cal != 320 {
		t.Errorf("numeric attribute lost round trip: %v", w.Attributes)
	}
}

func TestEventsForDayBoundary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	dayStart := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	inside := dayStart.Add(5 * time.Hour).UnixMilli()
	nextDay := dayStart.AddDate(0, 0, 1).UnixMilli()

	if _, err := s.SaveEvents(ctx, []event.Raw{
		{ID: "in", Type: event.TypeSteps, Timestamp: inside, Value: 100, SourceName: "pedometer"},
		{ID: "out", Type: event.TypeSteps, Timestamp: nextDay, Value: 200, SourceName: "pedometer"},
	}); err != nil {
		t.Fatal(err)
	}

	bySource, err := s.EventsForDay(ctx, dayStart)
	if err != nil {
		t.Fatal(err)
	}
	if len(bySource["pedometer"]) != 1 || bySource["pedometer"][0].ID != "in" {
		t.Errorf("day boundary leaked: %v", bySource)
	}
}

func TestShadowReadingsNearestPerSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, r := range []struct {
		ts    int64
		value float64
	}{
		{baseTS - 30*60*1000, 8000}, // 30 min away
		{baseTS - 5*60*1000, 9050},  // 5 min away, should win
		{baseTS + 3*60*60*1000, 1},  // outside the window
	} {
		if err := s.SaveShadowReading(ctx, event.TypeSteps, r.ts,
			shadow.Reading{Source: "google_fit", Value: r.value}); err != nil {
			t.Fatal(err)
		}
	}

	readings, err := s.ShadowReadings(ctx, event.TypeSteps, baseTS)
	if err != nil {
		t.Fatalf("shadow readings: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected one reading per source, got %d", len(readings))
	}
	if readings[0].Value != 9050 {
		t.Errorf("expected the nearest reading, got %v", readings[0].Value)
	}

	// Other types stay invisible.
	readings, err = s.ShadowReadings(ctx, event.TypeCalls, baseTS)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 0 {
		t.Errorf("expected no readings for another type, got %d", len(readings))
	}
}

func TestHistoricalAverage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok := s.HistoricalAverage(ctx, event.TypeSteps, baseTS); ok {
		t.Error("expected no pattern before any observation")
	}

	for _, v := range []float64{100, 200, 300} {
		if err := s.ObserveHistorical(ctx, event.TypeSteps, baseTS, v); err != nil {
			t.Fatal(err)
		}
	}

	avg, ok := s.HistoricalAverage(ctx, event.TypeSteps, baseTS)
	if !ok {
		t.Fatal("expected a pattern after observations")
	}
	if avg < 199.9 || avg > 200.1 {
		t.Errorf("expected running average near 200, got %v", avg)
	}

	// A different hour of day is a separate pattern.
	if _, ok := s.HistoricalAverage(ctx, event.TypeSteps, baseTS+6*60*60*1000); ok {
		t.Error("expected no pattern for a different hour")
	}
}

func TestSaveRunAndAnomalies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res := &fusion.DayResult{
		RunID: "run-1",
		Points: []fusion.DataPoint{{
			Timestamp: baseTS, Type: event.TypeSteps, Value: 9000,
			SourceName: "pedometer", Confidence: 0.92,
			BoostReasons: []string{"confirmed by google_fit"},
			LineageID:    "steps_1700000000000_pedometer",
		}},
		Anomalies: []shadow.Result{{
			Timestamp: baseTS, Type: event.TypeSteps,
			PrimarySource: "pedometer", ShadowSource: "google_fit",
			PrimaryValue: 5000, ShadowValue: 12000,
			Deviation: 0.583, Severity: shadow.SeverityHigh,
		}},
	}
	if err := s.SaveRun(ctx, res); err != nil {
		t.Fatalf("save run: %v", err)
	}

	anomalies, err := s.RecentAnomalies(ctx, 10)
	if err != nil {
		t.Fatalf("anomalies: %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Severity != shadow.SeverityHigh || anomalies[0].ShadowSource != "google_fit" {
		t.Errorf("anomaly lost fields: %+v", anomalies[0])
	}
}

func TestLineageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := lineage.Record{
		ID:            lineage.RecordID(event.TypeSteps, baseTS, "pedometer"),
		Timestamp:     baseTS,
		Type:          event.TypeSteps,
		Value:         9000,
		PrimarySource: "pedometer",
		Confidence:    0.92,
		Contributors: []lineage.Contributor{
			{Source: "pedometer", Value: 9000, Weight: 1, Confidence: 0.8},
		},
		Transformations: []string{"passthrough", "shadow_validated"},
	}
	if err := s.SaveLineage(ctx, []lineage.Record{rec}); err != nil {
		t.Fatalf("save lineage: %v", err)
	}

	got, ok, err := s.Lineage(ctx, rec.ID)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if !ok {
		t.Fatal("record not found")
	}
	if len(got.Contributors) != 1 || got.Contributors[0].Source != "pedometer" {
		t.Errorf("contributors lost round trip: %+v", got.Contributors)
	}
	if len(got.Transformations) != 2 {
		t.Errorf("transformations lost round trip: %v", got.Transformations)
	}

	if _, ok, err := s.Lineage(ctx, "missing"); err != nil || ok {
		t.Errorf("missing record: ok=%v err=%v", ok, err)
	}
}
