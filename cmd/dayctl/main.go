// dayctl is the operator CLI for the daylight fusion engine: seed raw
// events, run a fusion pass, inspect narratives, lineage, and anomalies.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkuiper/daylight/internal/config"
	"github.com/mkuiper/daylight/internal/logging"
	"github.com/mkuiper/daylight/internal/store"
)

var (
	dbPath     string
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "dayctl",
		Short:         "Fuse multi-source activity data into scored datapoints and narratives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "info"
			if verbose {
				level = "debug"
			}
			logging.Setup(level)
		},
	}

	root.PersistentFlags().StringVar(&dbPath, "db", config.DefaultDBPath(), "SQLite database path")
	root.PersistentFlags().StringVar(&configPath, "config", "", "registry JSON (defaults to the built-in rules)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(seedCmd())
	root.AddCommand(fuseCmd())
	root.AddCommand(narrateCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(anomaliesCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openStore opens the configured database, creating its directory first.
func openStore() (*store.Store, error) {
	if dbPath == config.DefaultDBPath() {
		if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

// loadRegistry returns the configured registry, or the built-in default.
// A broken registry file aborts the command.
func loadRegistry() (*config.Registry, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// parseDate parses a --date flag; empty means today. Days follow the local
// timezone, matching how people think about "yesterday's workout".
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}
