package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/reactive-counter/internal/sink"
)

// ProgramSink hands counter publications and the lockout to a running
// bubbletea program and waits until Update has applied them.
type ProgramSink struct {
	send      func(tea.Msg)
	done      chan struct{}
	closeOnce sync.Once
}

var _ sink.Sink = (*ProgramSink)(nil)

// NewProgramSink delivers through send, normally a running program's Send.
// Close must be called once the program's Run returns.
func NewProgramSink(send func(tea.Msg)) *ProgramSink {
	return &ProgramSink{send: send, done: make(chan struct{})}
}

// Publish blocks until the model applied snap.
func (s *ProgramSink) Publish(ctx context.Context, snap sink.Snapshot) error {
	ack := make(chan struct{})
	return s.deliver(ctx, publishMsg{snap: snap, ack: ack}, ack)
}

// LockControls blocks until the model disabled its controls.
func (s *ProgramSink) LockControls(ctx context.Context) error {
	ack := make(chan struct{})
	return s.deliver(ctx, lockMsg{ack: ack}, ack)
}

// Close rejects further hand-offs and releases waiting callers.
func (s *ProgramSink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ProgramSink) deliver(ctx context.Context, msg tea.Msg, ack <-chan struct{}) error {
	select {
	case <-s.done:
		return sink.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Program.Send blocks until the event loop accepts the message, and
	// returns immediately once the program has exited.
	go s.send(msg)
	select {
	case <-ack:
		return nil
	case <-s.done:
		return sink.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
