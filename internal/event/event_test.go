package event

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	good := Raw{ID: "e1", Type: TypeSteps, Timestamp: 1000, SourceName: "pedometer"}
	if err := Validate(good); err != nil {
		t.Errorf("expected valid event, got %v", err)
	}

	noTS := Raw{ID: "e2", Type: TypeSteps, SourceName: "pedometer"}
	if err := Validate(noTS); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt for missing timestamp, got %v", err)
	}

	noType := Raw{ID: "e3", Timestamp: 1000, SourceName: "pedometer"}
	if err := Validate(noType); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt for missing type, got %v", err)
	}
}

func TestSanitizeDropsCorrupt(t *testing.T) {
	events := []Raw{
		{ID: "ok1", Type: TypeSteps, Timestamp: 1000, SourceName: "a"},
		{ID: "bad", Type: "", Timestamp: 2000, SourceName: "a"},
		{ID: "ok2", Type: TypeSleep, Timestamp: 3000, SourceName: "b"},
	}

	clean := Sanitize(events)
	if len(clean) != 2 {
		t.Fatalf("expected 2 surviving events, got %d", len(clean))
	}
	if clean[0].ID != "ok1" || clean[1].ID != "ok2" {
		t.Errorf("expected order preserved [ok1,ok2], got [%s,%s]", clean[0].ID, clean[1].ID)
	}
}

func TestFloatAttrAcceptsIntAndFloat(t *testing.T) {
	ev := Raw{Attributes: map[string]any{
		"calories": 412,
		"accuracy": 12.5,
		"name":     "gym",
	}}

	if v, ok := ev.FloatAttr("calories"); !ok || v != 412 {
		t.Errorf("expected 412 for int attr, got %v ok=%v", v, ok)
	}
	if v, ok := ev.FloatAttr("accuracy"); !ok || v != 12.5 {
		t.Errorf("expected 12.5 for float attr, got %v ok=%v", v, ok)
	}
	if _, ok := ev.FloatAttr("name"); ok {
		t.Error("string attribute should not resolve as float")
	}
	if _, ok := ev.FloatAttr("missing"); ok {
		t.Error("missing attribute should not resolve")
	}
}

func TestStringAttr(t *testing.T) {
	ev := Raw{Attributes: map[string]any{"name": "Basic-Fit Gym", "count": 3}}
	if got := ev.StringAttr("name"); got != "Basic-Fit Gym" {
		t.Errorf("expected place name, got %q", got)
	}
	if got := ev.StringAttr("count"); got != "" {
		t.Errorf("non-string attr should return empty, got %q", got)
	}
	var empty Raw
	if got := empty.StringAttr("name"); got != "" {
		t.Errorf("nil attributes should return empty, got %q", got)
	}
}
