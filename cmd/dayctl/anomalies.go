package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func anomaliesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Show recent cross-validation anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			anomalies, err := s.RecentAnomalies(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(anomalies) == 0 {
				fmt.Println("No anomalies recorded")
				return nil
			}

			for _, a := range anomalies {
				fmt.Printf("%s  %-10s %s=%.1f vs %s=%.1f  deviation=%.0f%%  [%s]\n",
					fmtTS(a.Timestamp), a.Type,
					a.PrimarySource, a.PrimaryValue,
					a.ShadowSource, a.ShadowValue,
					a.Deviation*100, a.Severity)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum anomalies to show")
	return cmd
}

func fmtTS(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
