package fusion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mkuiper/daylight/internal/config"
	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/shadow"
)

type fakeStore struct {
	events    map[string][]event.Raw
	shadows   map[event.Type][]shadow.Reading
	eventsErr error
	shadowErr error
}

func (f *fakeStore) EventsForDay(context.Context, time.Time) (map[string][]event.Raw, error) {
	return f.events, f.eventsErr
}

func (f *fakeStore) ShadowReadings(_ context.Context, t event.Type, _ int64) ([]shadow.Reading, error) {
	if f.shadowErr != nil {
		return nil, f.shadowErr
	}
	return f.shadows[t], nil
}

func newTestEngine(t *testing.T, store DataStore) *Engine {
	t.Helper()
	reg := config.Default()
	e, err := New(store, nil, reg.Rules, reg.Templates, 0)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

// Base timestamp: 2023-11-14 22:13:20 UTC, and the containing day.
const baseTS int64 = 1700000000000

var day = time.UnixMilli(baseTS).UTC()

func gymDay() map[string][]event.Raw {
	return map[string][]event.Raw{
		"strava": {
			{ID: "w1", Type: event.TypeWorkout, Timestamp: baseTS, Value: 1800000,
				SourceName: "strava", ConfidenceHint: 0.9,
				Attributes: map[string]any{"activity": "running", "calories": 320.0}},
		},
		"gps": {
			{ID: "l1", Type: event.TypeLocation, Timestamp: baseTS + 2000,
				SourceName: "gps", ConfidenceHint: 0.85,
				Attributes: map[string]any{"name": "Basic-Fit Gym"}},
		},
	}
}

func TestAnalyzeDayEndToEnd(t *testing.T) {
	e := newTestEngine(t, &fakeStore{events: gymDay()})

	res, err := e.AnalyzeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if res.RunID == "" {
		t.Error("expected a run id")
	}
	if len(res.Points) != 2 {
		t.Fatalf("expected 2 fused points (workout, location), got %d", len(res.Points))
	}

	var workout *DataPoint
	for i := range res.Points {
		if res.Points[i].Type == event.TypeWorkout {
			workout = &res.Points[i]
		}
	}
	if workout == nil {
		t.Fatal("no fused workout point")
	}
	if workout.SourceName != "strava" {
		t.Errorf("expected strava as primary, got %s", workout.SourceName)
	}
	// Base 0.85 plus the gym location boost pushes to the ceiling.
	if workout.Confidence != 0.99 {
		t.Errorf("expected confidence clamped to 0.99, got %v", workout.Confidence)
	}
	found := false
	for _, r := range workout.BoostReasons {
		if strings.Contains(r, "gym-like location") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a gym boost reason, got %v", workout.BoostReasons)
	}

	// Lineage must resolve for every point.
	for _, p := range res.Points {
		rec, ok := e.Tracker().Get(p.LineageID)
		if !ok {
			t.Errorf("lineage id %s does not resolve", p.LineageID)
			continue
		}
		if rec.Value != p.Value || rec.PrimarySource != p.SourceName {
			t.Errorf("lineage mismatch for %s: %+v vs %+v", p.LineageID, rec, p)
		}
	}

	if len(res.Narratives) != 1 {
		t.Fatalf("expected 1 narrative, got %d", len(res.Narratives))
	}
	text := res.Narratives[0].Text
	for _, want := range []string{"running", "Basic-Fit Gym", "30"} {
		if !strings.Contains(text, want) {
			t.Errorf("narrative %q missing %q", text, want)
		}
	}
}

func TestShadowAgreementBoostsAndDisagreementFlags(t *testing.T) {
	events := map[string][]event.Raw{
		"pedometer": {
			{ID: "s1", Type: event.TypeSteps, Timestamp: baseTS, Value: 9000, SourceName: "pedometer"},
		},
	}

	// Agreeing shadow: small boost, no anomaly.
	e := newTestEngine(t, &fakeStore{
		events:  events,
		shadows: map[event.Type][]shadow.Reading{event.TypeSteps: {{Source: "google_fit", Value: 9050}}},
	})
	res, err := e.AnalyzeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("agreeing shadow must not flag anomalies, got %d", len(res.Anomalies))
	}
	agree := res.Points[0].Confidence

	// Disagreeing shadow: anomaly, poor health, no boost.
	e = newTestEngine(t, &fakeStore{
		events:  events,
		shadows: map[event.Type][]shadow.Reading{event.TypeSteps: {{Source: "google_fit", Value: 20000}}},
	})
	res, err = e.AnalyzeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(res.Anomalies))
	}
	if res.Anomalies[0].Severity != shadow.SeverityHigh {
		t.Errorf("expected high severity, got %s", res.Anomalies[0].Severity)
	}
	if res.Health != shadow.HealthPoor {
		t.Errorf("expected poor health, got %s", res.Health)
	}
	if e.Validator().AnomalyCount() != 1 {
		t.Errorf("expected the anomaly in the rolling log, got %d", e.Validator().AnomalyCount())
	}
	recent := e.Validator().RecentAnomalies(5)
	if len(recent) != 1 || recent[0].ShadowSource != "google_fit" {
		t.Errorf("rolling log lost the anomaly: %+v", recent)
	}
	if res.Points[0].Confidence >= agree {
		t.Errorf("disagreeing shadow must not score higher: %v >= %v",
			res.Points[0].Confidence, agree)
	}
}

func TestLocalSourcesActAsShadows(t *testing.T) {
	// Two sources report steps in the same slot: healthkit outranks
	// pedometer and the pedometer reading becomes its shadow.
	e := newTestEngine(t, &fakeStore{events: map[string][]event.Raw{
		"healthkit": {{ID: "s1", Type: event.TypeSteps, Timestamp: baseTS, Value: 9000, SourceName: "healthkit"}},
		"pedometer": {{ID: "s2", Type: event.TypeSteps, Timestamp: baseTS + 1000, Value: 9050, SourceName: "pedometer"}},
	}})

	res, err := e.AnalyzeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Points) != 1 {
		t.Fatalf("expected 1 fused steps point, got %d", len(res.Points))
	}
	p := res.Points[0]
	if p.SourceName != "healthkit" {
		t.Errorf("expected healthkit primary, got %s", p.SourceName)
	}
	found := false
	for _, r := range p.BoostReasons {
		if strings.Contains(r, "confirmed by pedometer") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected pedometer confirmation, got %v", p.BoostReasons)
	}

	rec, ok := e.Tracker().Get(p.LineageID)
	if !ok {
		t.Fatal("lineage missing")
	}
	if len(rec.Contributors) != 2 {
		t.Fatalf("expected both sources as contributors, got %+v", rec.Contributors)
	}
	// Contributors carry their slot breadcrumb: event count and time range.
	for _, c := range rec.Contributors {
		if c.Events != 1 {
			t.Errorf("contributor %s should carry 1 event, got %d", c.Source, c.Events)
		}
	}
	if ped := rec.Contributors[1]; ped.Source != "pedometer" ||
		ped.FirstTS != baseTS+1000 || ped.LastTS != baseTS+1000 {
		t.Errorf("pedometer breadcrumb range lost: %+v", ped)
	}
}

func TestShadowStoreFailureDegrades(t *testing.T) {
	e := newTestEngine(t, &fakeStore{
		events:    gymDay(),
		shadowErr: errors.New("shadow backend down"),
	})

	res, err := e.AnalyzeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("shadow failure must not abort the pass: %v", err)
	}
	if len(res.Points) != 2 {
		t.Errorf("expected the pass to proceed, got %d points", len(res.Points))
	}
}

func TestEventLoadFailureAborts(t *testing.T) {
	e := newTestEngine(t, &fakeStore{eventsErr: errors.New("db locked")})
	if _, err := e.AnalyzeDay(context.Background(), day); err == nil {
		t.Error("expected an error when events cannot be loaded")
	}
}

func TestEmptyDay(t *testing.T) {
	e := newTestEngine(t, &fakeStore{})
	res, err := e.AnalyzeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("an empty day is not an error: %v", err)
	}
	if len(res.Points) != 0 || len(res.Narratives) != 0 {
		t.Errorf("expected empty result, got %d points, %d narratives",
			len(res.Points), len(res.Narratives))
	}
	if res.RunID == "" {
		t.Error("empty result still carries a run id")
	}
}

func TestCorruptEventsDropped(t *testing.T) {
	events := gymDay()
	events["strava"] = append(events["strava"],
		event.Raw{ID: "bad", Type: event.TypeWorkout, SourceName: "strava"}, // no timestamp
	)
	e := newTestEngine(t, &fakeStore{events: events})

	res, err := e.AnalyzeDay(context.Background(), day)
	if err != nil {
		t.Fatalf("corrupt events must be dropped, not fatal: %v", err)
	}
	if len(res.Points) != 2 {
		t.Errorf("expected 2 fused points after dropping the corrupt event, got %d", len(res.Points))
	}
}
