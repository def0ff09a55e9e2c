// Package sink defines the presentation surface the counting agents publish
// to. A sink applies every visible effect inside one serialized execution
// context; callers always wait for an operation to be applied before moving on.
package sink

import (
	"context"
	"errors"
)

// ErrClosed is returned when the sink's execution context is no longer running.
var ErrClosed = errors.New("sink: closed")

// Snapshot is an immutable copy of the counter taken at a single instant.
type Snapshot struct {
	Value int64
}

// Publisher renders snapshots. Publish returns only after the render is applied.
type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Locker permanently disables the interactive controls. Idempotent.
type Locker interface {
	LockControls(ctx context.Context) error
}

// Sink is the full presentation contract consumed by a session.
type Sink interface {
	Publisher
	Locker
}

// PublisherFunc adapts a function into a Publisher.
type PublisherFunc func(ctx context.Context, snap Snapshot) error

// Publish executes f(ctx, snap).
func (f PublisherFunc) Publish(ctx context.Context, snap Snapshot) error {
	if f == nil {
		return nil
	}
	return f(ctx, snap)
}
