package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkuiper/daylight/internal/fusion"
	"github.com/mkuiper/daylight/internal/store"
)

// runAnalysis wires store, registry, and engine, and runs one pass.
func runAnalysis(ctx context.Context, date string) (*fusion.DayResult, *fusion.Engine, *store.Store, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, nil, nil, err
	}
	reg, err := loadRegistry()
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := openStore()
	if err != nil {
		return nil, nil, nil, err
	}

	engine, err := fusion.New(s, s, reg.Rules, reg.Templates, reg.BucketWidthMs)
	if err != nil {
		s.Close()
		return nil, nil, nil, err
	}

	res, err := engine.AnalyzeDay(ctx, day)
	if err != nil {
		s.Close()
		return nil, nil, nil, err
	}
	return res, engine, s, nil
}

func fuseCmd() *cobra.Command {
	var date string
	var save bool

	cmd := &cobra.Command{
		Use:   "fuse",
		Short: "Run a fusion pass over one day and print the fused datapoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			res, engine, s, err := runAnalysis(ctx, date)
			if err != nil {
				return err
			}
			defer s.Close()

			if save {
				if err := s.SaveRun(ctx, res); err != nil {
					return fmt.Errorf("save run: %w", err)
				}
				if err := s.SaveLineage(ctx, engine.Tracker().All()); err != nil {
					return fmt.Errorf("save lineage: %w", err)
				}
			}

			fmt.Printf("Run %s (%s): %d points, %d narratives, %d anomalies, health %s\n\n",
				res.RunID, res.Date, len(res.Points), len(res.Narratives),
				len(res.Anomalies), res.Health)
			for _, p := range res.Points {
				fmt.Printf("  %-10s %s  value=%.1f  source=%s  confidence=%.2f\n",
					p.Type, fmtTS(p.Timestamp), p.Value, p.SourceName, p.Confidence)
				for _, r := range p.BoostReasons {
					fmt.Printf("             + %s\n", r)
				}
			}

			if n := engine.Validator().AnomalyCount(); n > 0 {
				fmt.Printf("\nValidation log (%d this run):\n", n)
				for _, a := range engine.Validator().RecentAnomalies(10) {
					fmt.Printf("  %s  %-10s %s=%.1f vs %s=%.1f  deviation=%.0f%%  [%s]\n",
						fmtTS(a.Timestamp), a.Type,
						a.PrimarySource, a.PrimaryValue,
						a.ShadowSource, a.ShadowValue,
						a.Deviation*100, a.Severity)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to analyze (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&save, "save", true, "persist fused points, lineage, and anomalies")
	return cmd
}

func narrateCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "narrate",
		Short: "Print the day's ranked narratives",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, s, err := runAnalysis(context.Background(), date)
			if err != nil {
				return err
			}
			defer s.Close()

			if len(res.Narratives) == 0 {
				fmt.Println("Nothing noteworthy found for", res.Date)
				return nil
			}
			for i, n := range res.Narratives {
				fmt.Printf("%2d. [%.2f] %s\n", i+1, n.Confidence, n.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to narrate (YYYY-MM-DD, default today)")
	return cmd
}

func reportCmd() *cobra.Command {
	var date string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the day's lineage and data quality report",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, s, err := runAnalysis(context.Background(), date)
			if err != nil {
				return err
			}
			defer s.Close()

			rep := res.Lineage
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}

			fmt.Printf("Lineage report for %s\n", rep.Date)
			fmt.Printf("  datapoints: %d  quality: %s\n", rep.Total, rep.DataQuality)
			fmt.Printf("  confidence: %d high / %d medium / %d low\n",
				rep.Confidence.High, rep.Confidence.Medium, rep.Confidence.Low)
			for source, n := range rep.BySource {
				fmt.Printf("  source %-14s %d\n", source, n)
			}
			for tr, n := range rep.Transformations {
				fmt.Printf("  transform %-11s %d\n", tr, n)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to report on (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON")
	return cmd
}
