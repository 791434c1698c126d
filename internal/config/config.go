// Package config holds the rule and template registries plus engine
// settings. Configuration errors are fatal: a process with a broken
// registry must refuse to start rather than silently skip rules.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkuiper/daylight/internal/correlation"
	"github.com/mkuiper/daylight/internal/narrative"
)

// Registry is the full fusion configuration: correlation rules, narrative
// templates, and tuning knobs.
type Registry struct {
	Rules     []correlation.Rule   `json:"rules"`
	Templates []narrative.Template `json:"templates"`

	// BucketWidthMs overrides the 15-minute default slot width when > 0.
	BucketWidthMs int64 `json:"bucket_width_ms,omitempty"`
}

// DataDir returns the application data directory.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".daylight")
}

// DefaultDBPath returns the default SQLite database location.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "daylight.db")
}

// Default returns the built-in registry. Every rule's narrative key
// resolves to a template, which Validate re-checks for loaded registries.
func Default() *Registry {
	return &Registry{
		Rules: []correlation.Rule{
			{
				ID:             "workout_location",
				RequiredTypes:  []string{"workout", "location_gym"},
				WindowMs:       30 * 60 * 1000,
				BaseConfidence: 0.90,
				NarrativeKey:   "workout_at_gym",
			},
			{
				ID:             "outdoor_run",
				RequiredTypes:  []string{"workout", "location_outdoor", "steps_burst"},
				WindowMs:       45 * 60 * 1000,
				BaseConfidence: 0.85,
				NarrativeKey:   "outdoor_activity",
			},
			{
				ID:             "bedtime_preparation",
				RequiredTypes:  []string{"app_usage_decrease", "location_home", "sleep_start"},
				WindowMs:       60 * 60 * 1000,
				BaseConfidence: 0.80,
				NarrativeKey:   "bedtime_routine",
			},
			{
				ID:             "morning_routine",
				RequiredTypes:  []string{"sleep_end", "steps"},
				WindowMs:       45 * 60 * 1000,
				BaseConfidence: 0.75,
				NarrativeKey:   "morning_start",
			},
			{
				ID:             "intense_effort",
				RequiredTypes:  []string{"workout_intense", "heart_rate"},
				WindowMs:       30 * 60 * 1000,
				BaseConfidence: 0.85,
				NarrativeKey:   "hard_session",
			},
		},
		Templates: []narrative.Template{
			{
				Key: "workout_at_gym",
				Candidates: []string{
					"You did a {duration_min}-minute {activity} session at {place}, burning {calories} calories.",
					"You did a {duration_min}-minute {activity} session at {place}.",
					"You worked out at {place}.",
				},
				Required: []string{"place"},
				Optional: []string{"activity", "duration_min", "calories"},
			},
			{
				Key: "outdoor_activity",
				Candidates: []string{
					"A {duration_min}-minute {activity} outdoors, {steps} steps along the way.",
					"You were active outdoors for {duration_min} minutes.",
				},
				Required: []string{"duration_min"},
				Optional: []string{"activity", "steps"},
			},
			{
				Key: "bedtime_routine",
				Candidates: []string{
					"Screen time wound down at {place} before you fell asleep.",
					"You settled in at home and went to sleep.",
				},
				Optional: []string{"place"},
			},
			{
				Key: "morning_start",
				Candidates: []string{
					"Up after {sleep_hours} hours of sleep and straight into {steps} steps.",
					"You got moving shortly after waking up.",
				},
				Optional: []string{"sleep_hours", "steps"},
			},
			{
				Key: "hard_session",
				Candidates: []string{
					"A high-intensity {activity} pushed your heart rate to {heart_rate}.",
					"You pushed hard: heart rate hit {heart_rate}.",
				},
				Required: []string{"heart_rate"},
				Optional: []string{"activity"},
			},
		},
	}
}

// Load reads a registry from a JSON file. Unlike preference files there is
// no lenient fallback here: any read, parse, or validation failure is
// returned and should abort startup.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &reg, nil
}

// Save writes the registry as indented JSON, creating the directory.
func (r *Registry) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate cross-checks the registry. Rule and template internals are
// validated again by the engine and composer constructors; this catches
// what only the registry can see, a rule pointing at a missing template.
func (r *Registry) Validate() error {
	templates := make(map[string]bool, len(r.Templates))
	for _, t := range r.Templates {
		templates[t.Key] = true
	}
	for _, rule := range r.Rules {
		if rule.NarrativeKey != "" && !templates[rule.NarrativeKey] {
			return fmt.Errorf("rule %q references missing template %q", rule.ID, rule.NarrativeKey)
		}
	}
	if r.BucketWidthMs < 0 {
		return fmt.Errorf("bucket width %d is negative", r.BucketWidthMs)
	}
	return nil
}
