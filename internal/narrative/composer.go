package narrative

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/mkuiper/daylight/internal/correlation"
	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/logging"
)

// MaxNarratives bounds the ranked output of one analysis pass.
const MaxNarratives = 10

// Narrative is one composed statement, ready for the journal layer.
type Narrative struct {
	ID         string
	Key        string
	Text       string
	Confidence float64
	Strength   float64
	EventIDs   []string
	Metadata   map[string]string
}

// Composer selects and fills templates for correlation matches.
type Composer struct {
	templates map[string]Template
	max       int
}

// NewComposer validates the template registry and builds a composer.
// Malformed templates are configuration errors and fail fast.
func NewComposer(templates []Template) (*Composer, error) {
	c := &Composer{
		templates: make(map[string]Template, len(templates)),
		max:       MaxNarratives,
	}
	for i, t := range templates {
		if t.Key == "" {
			return nil, fmt.Errorf("narrative: template %d has no key", i)
		}
		if len(t.Candidates) == 0 {
			return nil, fmt.Errorf("narrative: template %q has no candidate strings", t.Key)
		}
		if _, dup := c.templates[t.Key]; dup {
			return nil, fmt.Errorf("narrative: duplicate template key %q", t.Key)
		}
		c.templates[t.Key] = t
	}
	return c, nil
}

// HasTemplate reports whether a narrative key is registered.
func (c *Composer) HasTemplate(key string) bool {
	_, ok := c.templates[key]
	return ok
}

// Compose renders one correlation match into a narrative. Returns false
// when the match cannot be composed: unknown template, or a required field
// missing from the matched events. That rejection is the expected, frequent
// outcome of sparse data, not an error.
func (c *Composer) Compose(m correlation.Match) (Narrative, bool) {
	tmpl, ok := c.templates[m.NarrativeKey]
	if !ok {
		logging.Debug("No template for narrative key", "key", m.NarrativeKey)
		return Narrative{}, false
	}

	data := ExtractData(m.Events)
	for _, field := range tmpl.Required {
		if v, ok := data[field]; !ok || v == "" {
			logging.Debug("Narrative rejected: required field missing",
				"key", m.NarrativeKey, "field", field)
			return Narrative{}, false
		}
	}

	candidate, _ := tmpl.pick(data)
	return Narrative{
		ID:         ulid.Make().String(),
		Key:        m.NarrativeKey,
		Text:       Render(candidate, data),
		Confidence: m.Confidence,
		Strength:   m.Strength,
		EventIDs:   m.EventIDs(),
		Metadata: map[string]string{
			"rule": m.RuleID,
		},
	}, true
}

// ComposeAll composes every match, ranks the results by confidence then
// strength (both descending, stable), and truncates to the maximum.
func (c *Composer) ComposeAll(matches []correlation.Match) []Narrative {
	var out []Narrative
	for _, m := range matches {
		if n, ok := c.Compose(m); ok {
			out = append(out, n)
		}
	}

	Rank(out)
	if len(out) > c.max {
		out = out[:c.max]
	}
	return out
}

// Rank sorts narratives in place: confidence descending, ties broken by
// strength descending. Stable, so a fixed input always ranks identically.
func Rank(narratives []Narrative) {
	sort.SliceStable(narratives, func(i, j int) bool {
		if narratives[i].Confidence != narratives[j].Confidence {
			return narratives[i].Confidence > narratives[j].Confidence
		}
		return narratives[i].Strength > narratives[j].Strength
	})
}

// ExtractData flattens matched events into the template data map. Events
// are visited in timestamp order; later events of the same type overwrite
// fields extracted from earlier ones (last-write-wins within one match).
func ExtractData(events []event.Raw) map[string]string {
	ordered := append([]event.Raw(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	data := make(map[string]string)
	for _, ev := range ordered {
		switch ev.Type {
		case event.TypeWorkout:
			if act := ev.StringAttr("activity"); act != "" {
				data["activity"] = act
			}
			if ev.Value > 0 {
				data["duration_min"] = strconv.Itoa(int(ev.Value / 60000))
			}
			if cal, ok := ev.FloatAttr("calories"); ok {
				data["calories"] = strconv.Itoa(int(cal))
			}
			if in := ev.StringAttr("intensity"); in != "" {
				data["intensity"] = in
			}
		case event.TypeLocation:
			if name := ev.StringAttr("name"); name != "" {
				data["place"] = name
			}
		case event.TypeSleep:
			if ev.Value > 0 {
				data["sleep_hours"] = strconv.FormatFloat(ev.Value/3600000, 'f', 1, 64)
			}
		case event.TypeSteps:
			data["steps"] = strconv.Itoa(int(ev.Value))
		case event.TypeCalls:
			data["calls"] = strconv.Itoa(int(ev.Value))
		case event.TypeAppUsage:
			data["screen_min"] = strconv.Itoa(int(ev.Value / 60000))
		case event.TypeHeartRate:
			data["heart_rate"] = strconv.Itoa(int(ev.Value))
		}
	}
	return data
}
