package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkuiper/daylight/internal/event"
	"github.com/mkuiper/daylight/internal/logging"
	"github.com/mkuiper/daylight/internal/shadow"
)

// rawEvent is the JSON wire shape of one collector event.
type rawEvent struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Timestamp      int64          `json:"timestamp"`
	Value          float64        `json:"value"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	SourceName     string         `json:"source_name"`
	ConfidenceHint float64        `json:"confidence_hint,omitempty"`
}

// seedFile is the accepted input: events plus optional shadow readings.
type seedFile struct {
	Events  []rawEvent `json:"events"`
	Shadows []struct {
		Type      string  `json:"type"`
		Source    string  `json:"source"`
		Timestamp int64   `json:"timestamp"`
		Value     float64 `json:"value"`
	} `json:"shadows,omitempty"`
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <events.json>",
		Short: "Load raw events (and optional shadow readings) into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var seed seedFile
			if err := json.Unmarshal(data, &seed); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			events := make([]event.Raw, 0, len(seed.Events))
			for _, r := range seed.Events {
				events = append(events, event.Raw{
					ID:             r.ID,
					Type:           event.Type(r.Type),
					Timestamp:      r.Timestamp,
					Value:          r.Value,
					Attributes:     r.Attributes,
					SourceName:     r.SourceName,
					ConfidenceHint: r.ConfidenceHint,
				})
			}
			// Corrupt events are dropped here, at the boundary, with a
			// warning each; the rest of the file still loads.
			events = event.Sanitize(events)

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			n, err := s.SaveEvents(ctx, events)
			if err != nil {
				return err
			}

			for _, ev := range events {
				if err := s.ObserveHistorical(ctx, ev.Type, ev.Timestamp, ev.Value); err != nil {
					logging.Warn("Failed to fold event into historical pattern",
						"id", ev.ID, "error", err)
				}
			}

			for _, sh := range seed.Shadows {
				if err := s.SaveShadowReading(ctx, event.Type(sh.Type), sh.Timestamp,
					shadow.Reading{Source: sh.Source, Value: sh.Value}); err != nil {
					return fmt.Errorf("save shadow reading: %w", err)
				}
			}

			fmt.Printf("Seeded %d events (%d new), %d shadow readings\n",
				len(events), n, len(seed.Shadows))
			return nil
		},
	}
}
