package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudewatch/claudewatch/internal/config"
	"github.com/claudewatch/claudewatch/internal/event"
	"github.com/claudewatch/claudewatch/internal/filter"
	"github.com/claudewatch/claudewatch/internal/format"
	"github.com/claudewatch/claudewatch/internal/metrics"
	"github.com/claudewatch/claudewatch/internal/server"
	"github.com/claudewatch/claudewatch/internal/watcher"
	"github.com/claudewatch/claudewatch/internal/webhook"
)

var watchFlags struct {
	configPath string

	basePath        string
	pollInterval    time.Duration
	idleTimeout     time.Duration
	endTimeout      time.Duration
	processExisting bool
	stateFile       string
	trackProcesses  bool

	output     string
	runFor     time.Duration
	listen     string
	noServer   bool
	webhookURL []string

	projects   []string
	sessions   []string
	tools      []string
	categories []string
	types      []string
	errorsOnly bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch sessions and print events to the terminal",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&watchFlags.configPath, "config", "c", "", "Path to YAML config file")
	f.StringVar(&watchFlags.basePath, "base-path", "", "Assistant data directory (default ~/.claude)")
	f.DurationVar(&watchFlags.pollInterval, "poll-interval", 0, "Poll interval (default 500ms)")
	f.DurationVar(&watchFlags.idleTimeout, "idle-timeout", 0, "Inactivity before a session goes idle (default 2m)")
	f.DurationVar(&watchFlags.endTimeout, "end-timeout", 0, "Idle time before a session ends (default 5m)")
	f.BoolVar(&watchFlags.processExisting, "process-existing", true, "Read pre-existing transcript content on startup")
	f.StringVar(&watchFlags.stateFile, "state-file", "", "Persist tail positions to this file")
	f.BoolVar(&watchFlags.trackProcesses, "track-processes", false, "Attach host assistant processes to sessions")
	f.StringVarP(&watchFlags.output, "output", "o", "text", "Output format: text or json")
	f.DurationVar(&watchFlags.runFor, "run-for", 0, "Stop after this duration (0 = run until signal)")
	f.StringVar(&watchFlags.listen, "listen", "", "HTTP listen address (default 0.0.0.0:9090)")
	f.BoolVar(&watchFlags.noServer, "no-server", false, "Disable the HTTP/websocket server")
	f.StringArrayVar(&watchFlags.webhookURL, "webhook", nil, "Deliver events to this URL (repeatable)")

	f.StringSliceVar(&watchFlags.projects, "project", nil, "Only sessions of these project slugs")
	f.StringSliceVar(&watchFlags.sessions, "session", nil, "Only these session id prefixes")
	f.StringSliceVar(&watchFlags.tools, "tool", nil, "Only these tool names")
	f.StringSliceVar(&watchFlags.categories, "category", nil, "Only these tool categories")
	f.StringSliceVar(&watchFlags.types, "type", nil, "Only these event types")
	f.BoolVar(&watchFlags.errorsOnly, "errors-only", false, "Only error events and failed tool calls")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	var formatter format.Formatter
	switch watchFlags.output {
	case "text":
		formatter = format.Text{}
	case "json":
		formatter = format.JSON{}
	default:
		return fmt.Errorf("%w: unknown output format %q", errUsage, watchFlags.output)
	}

	pred, err := buildFilter()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	w, err := watcher.New(cfg.WatcherConfig())
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	pipeline := filter.NewPipeline(pred)
	pipeline.OnAny(func(ev event.Event) error {
		line, err := formatter.Format(ev)
		if err != nil {
			return err
		}
		fmt.Println(line)
		return nil
	})
	w.OnAny(pipeline.Handler())

	ctx, cancel := signalContext(watchFlags.runFor)
	defer cancel()

	teardown := wireOutputs(ctx, w, cfg)
	defer teardown()

	return w.Start(ctx)
}

// loadConfig reads the config file when given, then lays explicitly set
// flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if watchFlags.configPath != "" {
		loaded, err := config.Load(watchFlags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("base-path") {
		cfg.Watcher.BasePath = watchFlags.basePath
	}
	if f.Changed("poll-interval") {
		cfg.Watcher.PollInterval = watchFlags.pollInterval
	}
	if f.Changed("idle-timeout") {
		cfg.Watcher.IdleTimeout = watchFlags.idleTimeout
	}
	if f.Changed("end-timeout") {
		cfg.Watcher.EndTimeout = watchFlags.endTimeout
	}
	if f.Changed("process-existing") {
		cfg.Watcher.ProcessExisting = watchFlags.processExisting
	}
	if f.Changed("state-file") {
		cfg.Watcher.StateFile = watchFlags.stateFile
	}
	if f.Changed("track-processes") {
		cfg.Watcher.TrackProcesses = watchFlags.trackProcesses
	}
	if f.Changed("listen") {
		cfg.Server.MetricsListen = watchFlags.listen
	}
	if f.Changed("no-server") {
		cfg.Server.Enabled = !watchFlags.noServer
	}
	for _, url := range watchFlags.webhookURL {
		cfg.Webhook = append(cfg.Webhook, webhook.Config{URL: url})
	}
	return cfg, nil
}

func buildFilter() (filter.Predicate, error) {
	var preds []filter.Predicate
	if len(watchFlags.projects) > 0 {
		var ps []filter.Predicate
		for _, slug := range watchFlags.projects {
			ps = append(ps, filter.Project(slug))
		}
		preds = append(preds, filter.Or(ps...))
	}
	if len(watchFlags.sessions) > 0 {
		var ps []filter.Predicate
		for _, prefix := range watchFlags.sessions {
			ps = append(ps, filter.SessionPrefix(prefix))
		}
		preds = append(preds, filter.Or(ps...))
	}
	if len(watchFlags.tools) > 0 {
		preds = append(preds, filter.ToolName(watchFlags.tools...))
	}
	if len(watchFlags.categories) > 0 {
		preds = append(preds, filter.ToolCategory(watchFlags.categories...))
	}
	if len(watchFlags.types) > 0 {
		types := make([]event.Type, 0, len(watchFlags.types))
		for _, t := range watchFlags.types {
			switch et := event.Type(t); et {
			case event.TypeMessage, event.TypeToolUse, event.TypeToolResult,
				event.TypeToolCallCompleted, event.TypeError,
				event.TypeSessionStart, event.TypeSessionIdle,
				event.TypeSessionResume, event.TypeSessionEnd:
				types = append(types, et)
			default:
				return nil, fmt.Errorf("%w: unknown event type %q", errUsage, t)
			}
		}
		preds = append(preds, filter.EventType(types...))
	}
	if watchFlags.errorsOnly {
		preds = append(preds, filter.HasError())
	}
	return filter.And(preds...), nil
}

// wireOutputs attaches metrics, webhooks, and the HTTP server to the
// watcher, returning a teardown that drains the webhooks.
func wireOutputs(ctx context.Context, w *watcher.Watcher, cfg *config.Config) func() {
	m := metrics.New()
	m.TrackDroppedEvents(w.DroppedEvents)
	if cfg.Watcher.TrackProcesses {
		m.TrackHostProcesses(w.HostProcessCount)
	}
	w.OnAny(m.HandleEvent)

	var dispatchers []*webhook.Dispatcher
	var unsubscribes []func()
	for _, whCfg := range cfg.Webhook {
		whCfg.OnDrop = m.RecordWebhookDrop
		d := webhook.New(whCfg)
		dispatchers = append(dispatchers, d)
		unsubscribes = append(unsubscribes, w.OnAny(d.HandleEvent))
	}

	if cfg.Server.Enabled {
		srv := server.New(w, m, cfg.Server.MetricsListen)
		w.OnAny(srv.Hub().HandleEvent)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "claudewatch: server: %v\n", err)
			}
		}()
	}

	return func() {
		for _, off := range unsubscribes {
			off()
		}
		for _, d := range dispatchers {
			d.Close()
		}
	}
}

// signalContext cancels on SIGINT/SIGTERM, and after d when d > 0.
func signalContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if d <= 0 {
		return ctx, cancel
	}
	timed, timedCancel := context.WithTimeout(ctx, d)
	return timed, func() {
		timedCancel()
		cancel()
	}
}
