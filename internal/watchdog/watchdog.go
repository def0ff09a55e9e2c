// Package watchdog implements the deadline agent that forces a counter to stop
// and the controls to lock when nobody stopped it explicitly in time.
//
// The watchdog's latch has three states. It starts armed and moves exactly
// once, either to cancelled (Cancel, or the owner's context ending) or to
// expired (deadline reached). Both moves are compare-and-swap from armed, so
// when a Cancel races the deadline only one side wins, and a cancel that has
// already landed always wins.
package watchdog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

const (
	// DefaultDeadline is how long the watchdog waits before forcing a stop.
	DefaultDeadline = 10 * time.Second
	// DefaultPollInterval is the longest sleep between two latch checks.
	DefaultPollInterval = 100 * time.Millisecond
)

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("watchdog: already started")

const (
	stateArmed int32 = iota
	stateCancelled
	stateExpired
)

// StopFunc stops the counter. It must not block.
type StopFunc func()

// LockoutFunc disables the controls through the presentation sink. It is
// called at most once, after StopFunc, and may block until applied.
type LockoutFunc func(ctx context.Context) error

// Logger records watchdog activity. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes watchdog construction.
type Option func(*Watchdog)

// WithDeadline overrides the deadline.
func WithDeadline(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.deadline = d
		}
	}
}

// WithPollInterval overrides how often the latch is re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(w *Watchdog) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock allows tests to control elapsed time.
func WithClock(clock func() time.Time) Option {
	return func(w *Watchdog) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// Watchdog is the timer-driven agent.
type Watchdog struct {
	stop     StopFunc
	lockout  LockoutFunc
	deadline time.Duration
	poll     time.Duration
	logger   Logger
	clock    func() time.Time

	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}
}

// New builds a watchdog holding only the handles it needs: one to stop the
// counter and one to lock the controls.
func New(stop StopFunc, lockout LockoutFunc, opts ...Option) *Watchdog {
	w := &Watchdog{
		stop:     stop,
		lockout:  lockout,
		deadline: DefaultDeadline,
		poll:     DefaultPollInterval,
		logger:   nopLogger{},
		clock:    time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Cancel latches the watchdog into the quiet-exit path. It reports whether the
// watchdog is cancelled, which is false only if the deadline won first.
// Idempotent and non-blocking.
func (w *Watchdog) Cancel() bool {
	w.state.CompareAndSwap(stateArmed, stateCancelled)
	return w.state.Load() == stateCancelled
}

// Stopped reports whether the latch has moved (cancelled or expired).
func (w *Watchdog) Stopped() bool {
	return w.state.Load() != stateArmed
}

// Expired reports whether the deadline fired before any cancel.
func (w *Watchdog) Expired() bool {
	return w.state.Load() == stateExpired
}

// Deadline returns the configured deadline.
func (w *Watchdog) Deadline() time.Duration {
	return w.deadline
}

// Done is closed when Run has returned.
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Run measures elapsed time from its own start until the latch moves. On
// expiry it stops the counter and then issues the single lockout. Cancelling
// ctx counts as a cancel.
func (w *Watchdog) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(w.done)

	start := w.clock()
	for {
		if w.Stopped() {
			return nil
		}
		remaining := w.deadline - w.clock().Sub(start)
		if remaining <= 0 {
			w.expire(ctx)
			return nil
		}
		if err := w.sleep(ctx, min(w.poll, remaining)); err != nil {
			w.logger.Printf("watchdog: poll interrupted: %v; cancelling", err)
			w.Cancel()
		}
	}
}

func (w *Watchdog) expire(ctx context.Context) {
	if !w.state.CompareAndSwap(stateArmed, stateExpired) {
		// A cancel landed at the same observation point; it takes precedence.
		return
	}
	w.logger.Printf("watchdog: deadline of %s reached; forcing stop", w.deadline)
	if w.stop != nil {
		w.stop()
	}
	if w.lockout == nil {
		return
	}
	if err := w.lockout(ctx); err != nil {
		w.logger.Printf("watchdog: lockout hand-off failed: %v", err)
	}
}

func (w *Watchdog) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
