// Package counter implements the counting agent: a goroutine that owns an
// integer, publishes it to a sink once per tick and steps it up or down.
//
// Commands (Increase, Decrease, StopCounting) are atomic flag writes and never
// block. The loop reads the flags on every iteration, so a command is observed
// no later than the next tick.
package counter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kingrea/reactive-counter/internal/metrics"
	"github.com/kingrea/reactive-counter/internal/sink"
)

// DefaultTick is the pause between two publications.
const DefaultTick = 100 * time.Millisecond

// ErrAlreadyStarted is returned when Run is called more than once.
var ErrAlreadyStarted = errors.New("counter: agent already started")

// Direction selects the sign of each step.
type Direction int32

const (
	Increase Direction = iota
	Decrease
)

func (d Direction) String() string {
	switch d {
	case Increase:
		return "increase"
	case Decrease:
		return "decrease"
	default:
		return "unknown"
	}
}

// Logger records anomalies. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes agent construction.
type Option func(*Agent)

// WithTick overrides the pause between publications.
func WithTick(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.tick = d
		}
	}
}

// WithInitialValue sets the first value published.
func WithInitialValue(v int64) Option {
	return func(a *Agent) {
		a.value = v
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records publications and hand-off failures.
func WithMetrics(m *metrics.Recorder) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// Agent is the counting worker. Create it with New and start it with Run.
type Agent struct {
	publisher sink.Publisher
	tick      time.Duration
	logger    Logger
	metrics   *metrics.Recorder

	// owned by the Run goroutine
	value int64

	running   atomic.Bool
	direction atomic.Int32
	started   atomic.Bool
	done      chan struct{}
}

// New prepares an agent publishing to p. The agent is running from
// construction: stopping it before Run makes Run return without publishing.
func New(p sink.Publisher, opts ...Option) *Agent {
	a := &Agent{
		publisher: p,
		tick:      DefaultTick,
		logger:    nopLogger{},
		done:      make(chan struct{}),
	}
	a.running.Store(true)
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Increase makes every following step add one. No-op once stopped.
func (a *Agent) Increase() {
	a.setDirection(Increase)
}

// Decrease makes every following step subtract one. No-op once stopped.
func (a *Agent) Decrease() {
	a.setDirection(Decrease)
}

func (a *Agent) setDirection(d Direction) {
	if !a.running.Load() {
		return
	}
	a.direction.Store(int32(d))
}

// StopCounting latches the agent into the stopped state. Idempotent.
func (a *Agent) StopCounting() {
	a.running.Store(false)
}

// Running reports whether the stop latch is still open.
func (a *Agent) Running() bool {
	return a.running.Load()
}

// Direction returns the direction the next step will use.
func (a *Agent) Direction() Direction {
	return Direction(a.direction.Load())
}

// Done is closed when Run has returned.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Run drives the loop until StopCounting is called or ctx is cancelled.
// Each iteration publishes the current value and waits for the sink to apply
// it, then steps, then pauses one tick. Cancelling ctx latches the stop.
func (a *Agent) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(a.done)

	for a.running.Load() {
		snap := sink.Snapshot{Value: a.value}
		if err := a.publisher.Publish(ctx, snap); err != nil {
			// The value was not delivered; keep it so the next tick retries it.
			a.logger.Printf("counter: publish %d failed: %v", snap.Value, err)
			a.metrics.HandoffFailed()
		} else {
			a.metrics.Published(snap.Value)
			if a.Direction() == Decrease {
				a.value--
			} else {
				a.value++
			}
		}
		if err := a.pause(ctx); err != nil {
			a.logger.Printf("counter: pause interrupted: %v; stopping", err)
			a.StopCounting()
		}
	}
	return nil
}

func (a *Agent) pause(ctx context.Context) error {
	timer := time.NewTimer(a.tick)
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
