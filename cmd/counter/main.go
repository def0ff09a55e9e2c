// cmd/counter/main.go
//
// This is the entry point for the counter.
// Run `counter` from any directory: that directory becomes the project and
// its .counter folder holds the config and logs.
//
// Flow:
// 1. Load .counter/config.yaml and apply flag overrides
// 2. Build the session (counter + watchdog) around a presentation sink
// 3. Run the TUI, or the plain console sink with --headless

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/reactive-counter/internal/bridge"
	"github.com/kingrea/reactive-counter/internal/config"
	"github.com/kingrea/reactive-counter/internal/logbook"
	"github.com/kingrea/reactive-counter/internal/logging"
	"github.com/kingrea/reactive-counter/internal/metrics"
	"github.com/kingrea/reactive-counter/internal/session"
	"github.com/kingrea/reactive-counter/internal/tui"
)

type options struct {
	projectDir string
	tick       time.Duration
	deadline   time.Duration
	poll       time.Duration
	noWatchdog bool
	headless   bool
	noColor    bool
	bridge     bool
}

func main() {
	opts := options{}
	flag.StringVar(&opts.projectDir, "project", "", "path to the project directory (defaults to cwd)")
	flag.DurationVar(&opts.tick, "tick", 0, "pause between counter steps (overrides config)")
	flag.DurationVar(&opts.deadline, "deadline", 0, "watchdog deadline (overrides config)")
	flag.DurationVar(&opts.poll, "poll", 0, "watchdog poll interval (overrides config)")
	flag.BoolVar(&opts.noWatchdog, "no-watchdog", false, "run without the watchdog")
	flag.BoolVar(&opts.headless, "headless", false, "print values to stdout instead of the TUI")
	flag.BoolVar(&opts.noColor, "no-color", false, "disable colored console output")
	flag.BoolVar(&opts.bridge, "bridge", false, "serve the HTTP command bridge")
	flag.Parse()

	if err := run(opts); err != nil {
		die("%v", err)
	}
}

func run(opts options) error {
	project := opts.projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}
	project, err := filepath.Abs(project)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.InitDir(project); err != nil {
		return fmt.Errorf("init %s: %w", config.Dir, err)
	}
	cfg, err := config.NewConfig(project)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(project)
	if err != nil {
		return err
	}
	defer logger.Close()
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.New()
	sessionOpts := sessionOptions(cfg, opts, logger, journal, recorder)

	if opts.headless {
		return runHeadless(ctx, cfg, opts, sessionOpts, logger, recorder)
	}
	return runTUI(ctx, cfg, opts, sessionOpts, logger, journal, recorder)
}

func sessionOptions(cfg *config.Config, opts options, logger *logging.Logger, journal *logbook.Logbook, recorder *metrics.Recorder) []session.Option {
	tick := cfg.TickInterval()
	if opts.tick > 0 {
		tick = opts.tick
	}
	deadline := cfg.WatchdogDeadline()
	if opts.deadline > 0 {
		deadline = opts.deadline
	}
	poll := cfg.WatchdogPollInterval()
	if opts.poll > 0 {
		poll = opts.poll
	}
	return []session.Option{
		session.WithTick(tick),
		session.WithInitialValue(cfg.InitialValue()),
		session.WithWatchdog(cfg.WatchdogEnabled() && !opts.noWatchdog),
		session.WithDeadline(deadline),
		session.WithPollInterval(poll),
		session.WithLogger(logger),
		session.WithJournal(journal),
		session.WithMetrics(recorder),
	}
}

func runTUI(ctx context.Context, cfg *config.Config, opts options, sessionOpts []session.Option, logger *logging.Logger, journal *logbook.Logbook, recorder *metrics.Recorder) error {
	// The session never publishes before Run, and Run starts after program is set.
	var program *tea.Program
	out := tui.NewProgramSink(func(msg tea.Msg) { program.Send(msg) })
	sess := session.New(out, sessionOpts...)

	app := tui.NewApp(sess, tui.WithJournal(journal), tui.WithDeadline(sess.Deadline()))
	program = tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

	srv, err := startBridge(ctx, cfg, opts, sess, logger, recorder)
	if err != nil {
		return err
	}
	defer shutdownBridge(srv)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(sessionCtx) }()

	_, runErr := program.Run()
	out.Close()
	cancel()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("counter: session ended with error: %v", err)
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("run TUI: %w", runErr)
	}
	return nil
}

func startBridge(ctx context.Context, cfg *config.Config, opts options, sess *session.Session, logger *logging.Logger, recorder *metrics.Recorder) (*bridge.Server, error) {
	settings := bridge.SettingsFromConfig(cfg)
	if opts.bridge {
		settings.Enabled = true
	}
	if !settings.Enabled {
		return nil, nil
	}
	srv := bridge.NewServer(settings, sess,
		bridge.WithLogger(logger),
		bridge.WithMetricsHandler(recorder.Handler()),
	)
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("start bridge: %w", err)
	}
	return srv, nil
}

func shutdownBridge(srv *bridge.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
