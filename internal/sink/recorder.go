package sink

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by a Recorder publish that was told to fail.
var ErrInjected = errors.New("sink: injected hand-off failure")

// EventKind labels a recorded sink operation.
type EventKind string

const (
	EventPublish EventKind = "publish"
	EventLock    EventKind = "lock"
)

// Event is one operation applied to a Recorder.
type Event struct {
	Kind  EventKind
	Value int64
}

// Recorder is an in-memory Sink that keeps the ordered stream of applied
// operations. Tests use it to assert publication order and lockout counts.
type Recorder struct {
	mu        sync.Mutex
	events    []Event
	failures  int
	onPublish func(Snapshot)
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailNext makes the next n publishes fail with ErrInjected without recording.
func (r *Recorder) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = n
}

// OnPublish registers a hook invoked after every successful publish, outside
// the recorder's lock.
func (r *Recorder) OnPublish(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPublish = fn
}

// Publish records snap.
func (r *Recorder) Publish(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return ErrInjected
	}
	r.events = append(r.events, Event{Kind: EventPublish, Value: snap.Value})
	hook := r.onPublish
	r.mu.Unlock()
	if hook != nil {
		hook(snap)
	}
	return nil
}

// LockControls records a lockout.
func (r *Recorder) LockControls(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: EventLock})
	return nil
}

// Events returns a copy of every recorded operation in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Values returns the published values in order.
func (r *Recorder) Values() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var values []int64
	for _, e := range r.events {
		if e.Kind == EventPublish {
			values = append(values, e.Value)
		}
	}
	return values
}

// Locks returns how many times LockControls was applied.
func (r *Recorder) Locks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == EventLock {
			n++
		}
	}
	return n
}
