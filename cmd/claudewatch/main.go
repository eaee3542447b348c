// Command claudewatch tails Claude Code session transcripts and turns
// them into a live event stream: terminal output, Prometheus metrics,
// webhooks, and a websocket feed.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// errUsage marks argument errors so main can exit 2 instead of 1.
var errUsage = errors.New("invalid arguments")

var rootCmd = &cobra.Command{
	Use:   "claudewatch",
	Short: "Realtime event pipeline over Claude Code session transcripts",
	Long: `claudewatch watches ~/.claude/projects for append-only JSONL session
transcripts, parses new entries as they land, and emits message, tool,
and session-lifecycle events to the terminal, Prometheus, webhooks, and
websocket clients.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "claudewatch: %v\n", err)
		if errors.Is(err, errUsage) || strings.HasPrefix(err.Error(), "unknown command") {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
