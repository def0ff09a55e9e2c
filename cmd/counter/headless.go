package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kingrea/reactive-counter/internal/config"
	"github.com/kingrea/reactive-counter/internal/logging"
	"github.com/kingrea/reactive-counter/internal/metrics"
	"github.com/kingrea/reactive-counter/internal/session"
	"github.com/kingrea/reactive-counter/internal/sink"
)

const headlessHelp = "commands: + count up, - count down, s stop, q quit"

// runHeadless prints every value on stdout and reads commands from stdin,
// one per line. It returns once the session ends or on quit.
func runHeadless(ctx context.Context, cfg *config.Config, opts options, sessionOpts []session.Option, logger *logging.Logger, recorder *metrics.Recorder) error {
	console := sink.NewConsole(os.Stdout)
	if opts.noColor {
		console = console.WithoutColor()
	}
	out := sink.NewSerial(console)
	sess := session.New(out, sessionOpts...)

	srv, err := startBridge(ctx, cfg, opts, sess, logger, recorder)
	if err != nil {
		return err
	}
	defer shutdownBridge(srv)

	fmt.Fprintln(os.Stderr, headlessHelp)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sinkCtx, stopSink := context.WithCancel(context.Background())
	defer stopSink()
	sinkDone := make(chan error, 1)
	go func() { sinkDone <- out.Run(sinkCtx) }()

	quit := make(chan struct{})
	go readCommands(os.Stdin, sess, quit)

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- sess.Run(runCtx) }()
	select {
	case <-quit:
		cancel()
		err = <-sessionDone
	case err = <-sessionDone:
	}
	stopSink()
	<-sinkDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// readCommands applies stdin commands until "q". EOF leaves the session running.
func readCommands(in io.Reader, sess *session.Session, quit chan<- struct{}) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var err error
		switch strings.TrimSpace(scanner.Text()) {
		case "+", "up", "increase":
			err = sess.Increase()
		case "-", "down", "decrease":
			err = sess.Decrease()
		case "s", "stop":
			err = sess.Stop()
		case "q", "quit":
			close(quit)
			return
		case "":
			continue
		default:
			fmt.Fprintln(os.Stderr, headlessHelp)
		}
		if errors.Is(err, session.ErrLockedOut) {
			fmt.Fprintln(os.Stderr, "controls are locked")
		}
	}
}
