package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/format"
	"github.com/claudewatch/claudewatch/internal/mock"
	"github.com/claudewatch/claudewatch/internal/watcher"
)

var demoFlags struct {
	dir      string
	sessions int
	interval time.Duration
	runFor   time.Duration
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Generate synthetic sessions and watch them",
	Long: `Writes scripted transcripts into a scratch directory and watches them,
so the event stream can be tried without a live assistant.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func init() {
	f := demoCmd.Flags()
	f.StringVar(&demoFlags.dir, "dir", "", "Scratch base path (default: a temp directory)")
	f.IntVar(&demoFlags.sessions, "sessions", 3, "Concurrent synthetic sessions")
	f.DurationVar(&demoFlags.interval, "interval", 500*time.Millisecond, "Delay between synthetic entries")
	f.DurationVar(&demoFlags.runFor, "run-for", 0, "Stop after this duration (0 = run until signal)")

	rootCmd.AddCommand(demoCmd)
}

func runDemo(_ *cobra.Command, _ []string) error {
	dir := demoFlags.dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "claudewatch-demo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}
	fmt.Fprintf(os.Stderr, "claudewatch: demo transcripts under %s\n", dir)

	w, err := watcher.New(watcher.Config{
		BasePath:     dir,
		PollInterval: 200 * time.Millisecond,
		IdleTimeout:  5 * time.Second,
		EndTimeout:   10 * time.Second,
		LiveSessions: true,
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	formatter := format.Text{}
	w.OnAny(func(ev event.Event) error {
		line, err := formatter.Format(ev)
		if err != nil {
			return err
		}
		fmt.Println(line)
		return nil
	})

	ctx, cancel := signalContext(demoFlags.runFor)
	defer cancel()

	gen := mock.New(mock.Config{
		Dir:      dir,
		Sessions: demoFlags.sessions,
		Interval: demoFlags.interval,
	})
	go gen.Run(ctx)

	return w.Start(ctx)
}
