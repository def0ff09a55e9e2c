package sink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Renderer applies visible effects. Its methods are only ever called from the
// Serial loop, one at a time, so implementations need no locking of their own.
type Renderer interface {
	Render(snap Snapshot) error
	Lock() error
}

type request struct {
	apply func() error
	reply chan error
}

// Serial owns a single goroutine that applies requests strictly in submission
// order. Every submission blocks until its request was applied.
type Serial struct {
	renderer  Renderer
	requests  chan request
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	// touched only from Run
	locked bool
}

// NewSerial prepares a serialized sink around the given renderer. Call Run to
// start its execution context.
func NewSerial(r Renderer) *Serial {
	return &Serial{
		renderer: r,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Run processes requests until ctx is cancelled. Pending and later submissions
// fail with ErrClosed once Run returns.
func (s *Serial) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("sink: serial loop already started")
	}
	defer s.closeOnce.Do(func() { close(s.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.requests:
			req.reply <- req.apply()
		}
	}
}

// Done is closed when the execution context has stopped.
func (s *Serial) Done() <-chan struct{} {
	return s.done
}

// Publish renders snap and waits for the render to be applied.
func (s *Serial) Publish(ctx context.Context, snap Snapshot) error {
	return s.submit(ctx, func() error {
		return s.renderer.Render(snap)
	})
}

// LockControls disables the controls. Only the first call reaches the renderer.
func (s *Serial) LockControls(ctx context.Context) error {
	return s.submit(ctx, func() error {
		if s.locked {
			return nil
		}
		s.locked = true
		return s.renderer.Lock()
	})
}

func (s *Serial) submit(ctx context.Context, apply func() error) error {
	reply := make(chan error, 1)
	select {
	case s.requests <- request{apply: apply, reply: reply}:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// Run always answers an accepted request before looking at its context again.
	return <-reply
}
