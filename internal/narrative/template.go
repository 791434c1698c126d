// Package narrative turns correlation matches into ranked natural-language
// statements. Templates declare which data fields they need; composition
// picks the candidate string with the best field coverage and never leaks a
// raw placeholder into user-visible text.
package narrative

import (
	"strings"
)

// Unavailable replaces any placeholder that could not be resolved. A fixed
// marker is always preferable to leaking a raw {field} token.
const Unavailable = "[data unavailable]"

// Template is one narrative shape, keyed by the rule's narrative key.
// Candidates are alternate phrasings; earlier candidates win ties.
type Template struct {
	Key        string   `json:"key"`
	Candidates []string `json:"candidates"`

	// Required fields must all be resolvable or composition is rejected.
	Required []string `json:"required"`

	// Optional fields improve a candidate's score when present but their
	// absence only degrades to a sparser phrasing.
	Optional []string `json:"optional"`
}

// Placeholders extracts the {field} tokens of a candidate string, in order
// of appearance. A deliberate non-regex scan: unterminated braces are
// treated as literal text rather than silently matched.
func Placeholders(s string) []string {
	var fields []string
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			return fields
		}
		close := strings.IndexByte(s[open:], '}')
		if close < 0 {
			return fields
		}
		fields = append(fields, s[open+1:open+close])
		s = s[open+close+1:]
	}
}

// Render fills every resolvable placeholder of a candidate from data and
// replaces the rest with the Unavailable marker.
func Render(candidate string, data map[string]string) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(candidate, '{')
		if open < 0 {
			b.WriteString(candidate)
			return b.String()
		}
		close := strings.IndexByte(candidate[open:], '}')
		if close < 0 {
			b.WriteString(candidate)
			return b.String()
		}

		b.WriteString(candidate[:open])
		field := candidate[open+1 : open+close]
		if v, ok := data[field]; ok && v != "" {
			b.WriteString(v)
		} else {
			b.WriteString(Unavailable)
		}
		candidate = candidate[open+close+1:]
	}
}

// coverage scores a candidate by the fraction of its placeholders
// resolvable from data. A candidate without placeholders scores 1.
func coverage(candidate string, data map[string]string) float64 {
	fields := Placeholders(candidate)
	if len(fields) == 0 {
		return 1
	}
	resolved := 0
	for _, f := range fields {
		if v, ok := data[f]; ok && v != "" {
			resolved++
		}
	}
	return float64(resolved) / float64(len(fields))
}

// pick selects the best-covered candidate; ties break by declaration order.
func (t Template) pick(data map[string]string) (string, float64) {
	best := ""
	bestScore := -1.0
	for _, c := range t.Candidates {
		if score := coverage(c, data); score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best, bestScore
}
