package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/claudewatch/claudewatch/internal/watcher"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Watch sessions headless and expose Prometheus metrics",
	Long: `Runs the session watcher without terminal output, serving /metrics,
/health, /api/sessions, and /ws on the configured listen address.`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

func init() {
	f := metricsCmd.Flags()
	f.StringVarP(&watchFlags.configPath, "config", "c", "", "Path to YAML config file")
	f.StringVar(&watchFlags.basePath, "base-path", "", "Assistant data directory (default ~/.claude)")
	f.StringVar(&watchFlags.stateFile, "state-file", "", "Persist tail positions to this file")
	f.StringVar(&watchFlags.listen, "listen", "", "HTTP listen address (default 0.0.0.0:9090)")
	f.BoolVar(&watchFlags.trackProcesses, "track-processes", false, "Attach host assistant processes to sessions")

	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The server is the whole point here.
	cfg.Server.Enabled = true

	w, err := watcher.New(cfg.WatcherConfig())
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	ctx, cancel := signalContext(0)
	defer cancel()

	teardown := wireOutputs(ctx, w, cfg)
	defer teardown()

	return w.Start(ctx)
}
