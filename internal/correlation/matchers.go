package correlation

import (
	"strings"

	"github.com/mkuiper/daylight/internal/event"
)

// Matcher decides whether an event satisfies one required-type key.
type Matcher func(event.Raw) bool

// typeMatchers is the predicate table for qualified required-type keys.
// Plain event types ("workout", "steps", ...) are matched by type equality
// and need no entry here.
var typeMatchers = map[string]Matcher{
	"location_gym": func(ev event.Raw) bool {
		return ev.Type == event.TypeLocation && nameContains(ev, "gym", "fitness", "basic-fit", "sportschool", "crossfit")
	},
	"location_home": func(ev event.Raw) bool {
		return ev.Type == event.TypeLocation && nameContains(ev, "home", "thuis")
	},
	"location_outdoor": func(ev event.Raw) bool {
		if ev.Type != event.TypeLocation {
			return false
		}
		acc, ok := ev.FloatAttr("accuracy")
		return ok && acc <= 25
	},
	"workout_intense": func(ev event.Raw) bool {
		return ev.Type == event.TypeWorkout && ev.StringAttr("intensity") == "high"
	},
	"sleep_start": func(ev event.Raw) bool {
		return ev.Type == event.TypeSleep && ev.StringAttr("phase") == "start"
	},
	"sleep_end": func(ev event.Raw) bool {
		return ev.Type == event.TypeSleep && ev.StringAttr("phase") == "end"
	},
	"app_usage_decrease": func(ev event.Raw) bool {
		if ev.Type != event.TypeAppUsage {
			return false
		}
		delta, ok := ev.FloatAttr("delta")
		return ok && delta < 0
	},
	"steps_burst": func(ev event.Raw) bool {
		return ev.Type == event.TypeSteps && ev.Value >= 1000
	},
}

// MatcherFor resolves a required-type key to its predicate. Plain event
// types fall back to a type-equality match. The second return reports
// whether the key is known at all, which lets configuration loading fail
// fast on rules referencing matchers that do not exist.
func MatcherFor(key string) (Matcher, bool) {
	if m, ok := typeMatchers[key]; ok {
		return m, true
	}
	for _, t := range event.KnownTypes {
		if string(t) == key {
			tt := t
			return func(ev event.Raw) bool { return ev.Type == tt }, true
		}
	}
	return nil, false
}

func nameContains(ev event.Raw, keywords ...string) bool {
	name := strings.ToLower(ev.StringAttr("name"))
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}
