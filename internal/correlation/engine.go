package correlation

import (
	"fmt"
	"sort"

	"github.com/mkuiper/daylight/internal/confidence"
	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/logging"
)

// shortWindowMs is the pre-filter grouping window: 30 minutes. Groups are
// only an optimization to avoid comparing every event with every other;
// the rule's own window is the correctness boundary.
const shortWindowMs int64 = 30 * 60 * 1000

// Scoring adjustments per matched event and per match.
const (
	highConfidenceBonus    = 0.05 // per event with confidence > 0.8
	lowConfidencePenalty   = 0.10 // per event with confidence < 0.6
	tightSpreadBonus       = 0.10 // events span < 50% of the rule window
	defaultEventConfidence = 0.5
	defaultEventStrength   = 0.5
)

// HistorySupport estimates how much past behavior supports a match.
// A seam for future learning; the default returns a fixed small constant.
type HistorySupport func(rule Rule, events []event.Raw) float64

func defaultHistorySupport(Rule, []event.Raw) float64 { return 0.05 }

// Engine matches events against the rule registry. Stateless across
// passes: all state is the immutable registry plus each call's input.
type Engine struct {
	rules    []Rule
	matchers map[string]Matcher

	// History is the historical-support seam used in scoring. Replaceable
	// for tests and future learning; capped at +0.15.
	History HistorySupport
}

// NewEngine validates the registry and builds an engine. A malformed rule
// is a configuration error: the process must not run with a broken rule
// set, so this fails instead of degrading.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{
		rules:    rules,
		matchers: make(map[string]Matcher),
		History:  defaultHistorySupport,
	}

	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("correlation: rule %d has no id", i)
		}
		if len(r.RequiredTypes) == 0 {
			return nil, fmt.Errorf("correlation: rule %q requires no event types", r.ID)
		}
		if r.WindowMs <= 0 {
			return nil, fmt.Errorf("correlation: rule %q has non-positive window", r.ID)
		}
		if r.BaseConfidence <= 0 || r.BaseConfidence > 1 {
			return nil, fmt.Errorf("correlation: rule %q has base confidence %v outside (0,1]", r.ID, r.BaseConfidence)
		}
		if r.NarrativeKey == "" {
			return nil, fmt.Errorf("correlation: rule %q has no narrative key", r.ID)
		}
		for _, key := range r.RequiredTypes {
			m, ok := MatcherFor(key)
			if !ok {
				return nil, fmt.Errorf("correlation: rule %q references unknown event type %q", r.ID, key)
			}
			e.matchers[key] = m
		}
	}

	return e, nil
}

// Rules returns the registry (read-only by convention).
func (e *Engine) Rules() []Rule { return e.rules }

// Analyze runs one correlation pass over the supplied events and returns
// every match. Matches are discovered rule-by-rule, time-group-by-time-group,
// in registration order, which makes the output deterministic for a fixed
// input.
func (e *Engine) Analyze(events []event.Raw) []Match {
	if len(events) == 0 {
		return nil
	}

	groups, keys := groupByShortWindow(events)

	var matches []Match
	seen := make(map[string]bool) // dedup across overlapping groups

	for _, rule := range e.rules {
		// Candidates: this group plus enough following groups to cover the
		// rule's own window, so grouping stays an optimization and never
		// hides a match. Gap groups simply contribute nothing.
		reach := (rule.WindowMs + shortWindowMs - 1) / shortWindowMs

		for _, key := range keys {
			candidates := groups[key]
			merged := false
			for i := int64(1); i <= reach; i++ {
				next, ok := groups[key+i*shortWindowMs]
				if !ok {
					continue
				}
				if !merged {
					candidates = append([]event.Raw(nil), candidates...)
					merged = true
				}
				candidates = append(candidates, next...)
			}
			if merged {
				sortByTime(candidates)
			}

			matched, ok := e.matchRule(rule, candidates)
			if !ok {
				continue
			}

			sig := matchSignature(rule.ID, matched)
			if seen[sig] {
				continue
			}
			seen[sig] = true

			m := e.score(rule, matched)
			matches = append(matches, m)
			logging.Debug("Correlation matched",
				"rule", rule.ID, "events", len(matched),
				"confidence", m.Confidence, "strength", m.Strength)
		}
	}

	return matches
}

// matchRule finds one representative event per required type among the
// candidates, subject to the authoritative window check: the span between
// the earliest and latest matched event must not exceed the rule window.
// The search backtracks, so an early candidate that blows the window does
// not hide a later combination that fits.
func (e *Engine) matchRule(rule Rule, candidates []event.Raw) ([]event.Raw, bool) {
	matched := make([]event.Raw, 0, len(rule.RequiredTypes))
	used := make(map[int]bool, len(candidates))

	if e.assign(rule, candidates, 0, used, &matched) {
		return matched, true
	}
	return nil, false
}

// assign binds the idx-th required type to each viable candidate in turn,
// pruning any partial combination whose span already exceeds the window.
// Candidates are time-sorted, so the first complete combination found is
// the earliest one, keeping output deterministic.
func (e *Engine) assign(rule Rule, candidates []event.Raw, idx int, used map[int]bool, matched *[]event.Raw) bool {
	if idx == len(rule.RequiredTypes) {
		return true
	}

	matcher := e.matchers[rule.RequiredTypes[idx]]
	for i, ev := range candidates {
		if used[i] || !matcher(ev) {
			continue
		}

		*matched = append(*matched, ev)
		minTS, maxTS := timeSpan(*matched)
		if maxTS-minTS <= rule.WindowMs {
			used[i] = true
			if e.assign(rule, candidates, idx+1, used, matched) {
				return true
			}
			used[i] = false
		}
		*matched = (*matched)[:len(*matched)-1]
	}
	return false
}

// score turns a matched event set into a Match with confidence and
// strength per the scoring rules.
func (e *Engine) score(rule Rule, matched []event.Raw) Match {
	conf := rule.BaseConfidence

	for _, ev := range matched {
		evConf := ev.ConfidenceHint
		if evConf == 0 {
			evConf = defaultEventConfidence
		}
		if evConf > 0.8 {
			conf += highConfidenceBonus
		} else if evConf < 0.6 {
			conf -= lowConfidencePenalty
		}
	}

	minTS, maxTS := timeSpan(matched)
	if maxTS-minTS < rule.WindowMs/2 {
		conf += tightSpreadBonus
	}

	support := e.History(rule, matched)
	if support > 0.15 {
		support = 0.15
	}
	conf += support

	var strengthSum float64
	for _, ev := range matched {
		s, ok := ev.FloatAttr("strength")
		if !ok {
			s = defaultEventStrength
		}
		strengthSum += s
	}
	strength := strengthSum / float64(len(matched))
	if scale := float64(len(matched)) / 3; scale < 1 {
		strength *= scale
	}

	return Match{
		RuleID:       rule.ID,
		Events:       matched,
		WindowStart:  minTS,
		WindowEnd:    maxTS,
		Confidence:   confidence.Clamp(conf),
		Strength:     strength,
		NarrativeKey: rule.NarrativeKey,
	}
}

func groupByShortWindow(events []event.Raw) (map[int64][]event.Raw, []int64) {
	groups := make(map[int64][]event.Raw)
	for _, ev := range events {
		key := (ev.Timestamp / shortWindowMs) * shortWindowMs
		groups[key] = append(groups[key], ev)
	}

	keys := make([]int64, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
		sortByTime(groups[key])
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return groups, keys
}

func sortByTime(events []event.Raw) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

func timeSpan(events []event.Raw) (minTS, maxTS int64) {
	minTS, maxTS = events[0].Timestamp, events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp < minTS {
			minTS = ev.Timestamp
		}
		if ev.Timestamp > maxTS {
			maxTS = ev.Timestamp
		}
	}
	return minTS, maxTS
}

func matchSignature(ruleID string, events []event.Raw) string {
	sig := ruleID
	for _, ev := range events {
		sig += "|" + ev.ID
	}
	return sig
}
