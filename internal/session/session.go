// Package session wires one counting agent, at most one watchdog and one
// presentation sink together, and owns the control lockout.
//
// The lockout is issued at most once per session, by whichever of the
// explicit stop or the watchdog expiry wins the watchdog latch, and only after
// the counting loop has exited, so no publication can follow it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/reactive-counter/internal/counter"
	"github.com/kingrea/reactive-counter/internal/logbook"
	"github.com/kingrea/reactive-counter/internal/metrics"
	"github.com/kingrea/reactive-counter/internal/sink"
	"github.com/kingrea/reactive-counter/internal/watchdog"
)

// ErrLockedOut is returned by commands issued after the controls were locked.
var ErrLockedOut = errors.New("session: controls are locked")

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("session: already started")

// Cause identifies which trigger locked the controls.
type Cause string

const (
	CauseNone            Cause = ""
	CauseExplicitStop    Cause = "explicit-stop"
	CauseWatchdogTimeout Cause = "watchdog-timeout"
)

// Logger records anomalies. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type settings struct {
	tick            time.Duration
	initialValue    int64
	watchdogEnabled bool
	deadline        time.Duration
	poll            time.Duration
	logger          Logger
	journal         *logbook.Logbook
	metrics         *metrics.Recorder
}

// Option customizes session construction.
type Option func(*settings)

// WithTick overrides the counter tick interval.
func WithTick(d time.Duration) Option {
	return func(s *settings) { s.tick = d }
}

// WithInitialValue sets the counter's first published value.
func WithInitialValue(v int64) Option {
	return func(s *settings) { s.initialValue = v }
}

// WithWatchdog enables or disables the watchdog.
func WithWatchdog(enabled bool) Option {
	return func(s *settings) { s.watchdogEnabled = enabled }
}

// WithDeadline overrides the watchdog deadline.
func WithDeadline(d time.Duration) Option {
	return func(s *settings) { s.deadline = d }
}

// WithPollInterval overrides the watchdog poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) { s.poll = d }
}

// WithLogger overrides the default no-op logger for the session and its agents.
func WithLogger(l Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJournal records session milestones.
func WithJournal(j *logbook.Logbook) Option {
	return func(s *settings) { s.journal = j }
}

// WithMetrics records session metrics.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *settings) { s.metrics = m }
}

// Session is one run of the counter.
type Session struct {
	id       string
	sink     sink.Sink
	counter  *counter.Agent
	watchdog *watchdog.Watchdog
	logger   Logger
	journal  *logbook.Logbook
	metrics  *metrics.Recorder

	lockedOut  atomic.Bool
	lockIssued atomic.Bool
	cause      atomic.Value
	started    atomic.Bool
	stopOnce   sync.Once
	stopCh     chan struct{}
	lockedCh   chan struct{}
}

// New builds a session publishing to out.
func New(out sink.Sink, opts ...Option) *Session {
	cfg := settings{
		tick:            counter.DefaultTick,
		watchdogEnabled: true,
		deadline:        watchdog.DefaultDeadline,
		poll:            watchdog.DefaultPollInterval,
		logger:          nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	id := uuid.NewString()
	s := &Session{
		id:       id,
		sink:     out,
		logger:   cfg.logger,
		journal:  cfg.journal.WithSession(id),
		metrics:  cfg.metrics,
		stopCh:   make(chan struct{}),
		lockedCh: make(chan struct{}),
	}
	s.cause.Store(CauseNone)
	s.counter = counter.New(out,
		counter.WithTick(cfg.tick),
		counter.WithInitialValue(cfg.initialValue),
		counter.WithLogger(cfg.logger),
		counter.WithMetrics(cfg.metrics),
	)
	if cfg.watchdogEnabled {
		s.watchdog = watchdog.New(s.forceStop,
			func(ctx context.Context) error { return s.lockAfterDrain(ctx, CauseWatchdogTimeout) },
			watchdog.WithDeadline(cfg.deadline),
			watchdog.WithPollInterval(cfg.poll),
			watchdog.WithLogger(cfg.logger),
		)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// LockedOut reports whether the controls are locked. Once true it stays true.
func (s *Session) LockedOut() bool {
	return s.lockedOut.Load()
}

// LockoutCause reports which trigger locked the controls.
func (s *Session) LockoutCause() Cause {
	return s.cause.Load().(Cause)
}

// Locked is closed once the sink applied the lockout.
func (s *Session) Locked() <-chan struct{} {
	return s.lockedCh
}

// Direction reports the direction of the next counter step.
func (s *Session) Direction() counter.Direction {
	return s.counter.Direction()
}

// HasWatchdog reports whether a watchdog runs with this session.
func (s *Session) HasWatchdog() bool {
	return s.watchdog != nil
}

// Deadline returns the watchdog deadline, or zero without a watchdog.
func (s *Session) Deadline() time.Duration {
	if s.watchdog == nil {
		return 0
	}
	return s.watchdog.Deadline()
}

// Increase makes the counter count up.
func (s *Session) Increase() error {
	return s.command("increase", s.counter.Increase)
}

// Decrease makes the counter count down.
func (s *Session) Decrease() error {
	return s.command("decrease", s.counter.Decrease)
}

func (s *Session) command(name string, apply func()) error {
	if s.lockedOut.Load() {
		s.metrics.Command(name, false)
		return ErrLockedOut
	}
	apply()
	s.metrics.Command(name, true)
	s.journal.Info("Direction · %s", name)
	return nil
}

// Stop is the explicit stop command. It cancels the watchdog, stops the
// counter and schedules the lockout once the counting loop has exited. If the
// watchdog already expired, the watchdog owns the lockout and Stop does
// nothing. Repeated calls are no-ops and never fail.
func (s *Session) Stop() error {
	if !s.lockedOut.CompareAndSwap(false, true) {
		s.metrics.Command("stop", false)
		return nil
	}
	if s.watchdog != nil && !s.watchdog.Cancel() {
		s.metrics.Command("stop", false)
		return nil
	}
	// stopCh closes before the counter can exit, so the coordinator in Run
	// always sees the request once it observes the loop has finished.
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.counter.StopCounting()
	s.metrics.Command("stop", true)
	s.journal.Info("Explicit stop requested")
	return nil
}

// forceStop is the watchdog's handle on the counter: it locks commands out
// before stopping the agent so no command lands after expiry.
func (s *Session) forceStop() {
	s.lockedOut.Store(true)
	s.counter.StopCounting()
	s.metrics.WatchdogExpired()
	s.journal.Warn("Watchdog deadline reached · forcing stop")
}

// lockAfterDrain waits for the counting loop to exit and then applies the
// single lockout through the sink.
func (s *Session) lockAfterDrain(ctx context.Context, cause Cause) error {
	select {
	case <-s.counter.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if !s.lockIssued.CompareAndSwap(false, true) {
		return nil
	}
	s.cause.Store(cause)
	if err := s.sink.LockControls(ctx); err != nil {
		s.logger.Printf("session: lock controls (%s) failed: %v", cause, err)
		s.journal.Error("Lockout hand-off failed: %v", err)
		return fmt.Errorf("session: lock controls: %w", err)
	}
	s.metrics.Lockout(string(cause))
	s.journal.Info("Controls locked · %s", cause)
	close(s.lockedCh)
	return nil
}

// Run starts the counter and the watchdog and blocks until both exited and
// any pending lockout was applied. Cancelling ctx stops everything without a
// lockout.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if s.watchdog != nil {
		s.journal.Info("Session opened · watchdog deadline %s", s.watchdog.Deadline())
	} else {
		s.journal.Info("Session opened · no watchdog")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.counter.Run(gctx)
	})
	if s.watchdog != nil {
		g.Go(func() error {
			return s.watchdog.Run(gctx)
		})
	}
	g.Go(func() error {
		select {
		case <-s.stopCh:
		case <-s.counter.Done():
			select {
			case <-s.stopCh:
			default:
				return nil
			}
		}
		// Failures are logged by lockAfterDrain; a failed render never aborts the session.
		_ = s.lockAfterDrain(gctx, CauseExplicitStop)
		return nil
	})
	err := g.Wait()
	s.journal.Info("Session closed")
	return err
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
