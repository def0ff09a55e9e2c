package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "stop")
}

func (c *callLog) lockout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "lockout")
	return nil
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func waitDone(t *testing.T, w *Watchdog) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("watchdog loop did not exit")
	}
}

func TestExpiryStopsThenLocksOnce(t *testing.T) {
	calls := &callLog{}
	w := New(calls.stop, calls.lockout, WithDeadline(20*time.Millisecond), WithPollInterval(2*time.Millisecond))

	started := time.Now()
	require.NoError(t, w.Run(context.Background()))
	elapsed := time.Since(started)

	assert.Equal(t, []string{"stop", "lockout"}, calls.snapshot())
	assert.True(t, w.Expired())
	assert.True(t, w.Stopped())
	assert.False(t, w.Cancel(), "cancel after expiry cannot win")
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Less(t, elapsed, 20*time.Millisecond+2*time.Millisecond+50*time.Millisecond)
}

func TestCancelBeforeDeadlineExitsQuietly(t *testing.T) {
	calls := &callLog{}
	w := New(calls.stop, calls.lockout, WithDeadline(40*time.Millisecond), WithPollInterval(2*time.Millisecond))
	go func() { _ = w.Run(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	assert.True(t, w.Cancel())
	assert.True(t, w.Cancel(), "cancel is idempotent")
	waitDone(t, w)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, calls.snapshot())
	assert.False(t, w.Expired())
	assert.True(t, w.Stopped())
}

func TestCancelBeforeRun(t *testing.T) {
	calls := &callLog{}
	w := New(calls.stop, calls.lockout, WithDeadline(time.Millisecond))
	require.True(t, w.Cancel())
	require.NoError(t, w.Run(context.Background()))
	assert.Empty(t, calls.snapshot())
}

func TestContextCancelCountsAsCancel(t *testing.T) {
	calls := &callLog{}
	w := New(calls.stop, calls.lockout, WithDeadline(time.Second), WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	cancel()
	waitDone(t, w)

	assert.Empty(t, calls.snapshot())
	assert.False(t, w.Expired())
}

func TestCancelRacingDeadlineHasOneWinner(t *testing.T) {
	for i := 0; i < 200; i++ {
		calls := &callLog{}
		w := New(calls.stop, calls.lockout, WithDeadline(time.Millisecond), WithPollInterval(100*time.Microsecond))
		go func() { _ = w.Run(context.Background()) }()

		time.Sleep(time.Duration(i%20) * 100 * time.Microsecond)
		cancelled := w.Cancel()
		waitDone(t, w)

		got := calls.snapshot()
		if cancelled {
			require.Emptyf(t, got, "iteration %d: cancel won but side effects ran", i)
			require.False(t, w.Expired())
		} else {
			require.Equalf(t, []string{"stop", "lockout"}, got, "iteration %d", i)
			require.True(t, w.Expired())
		}
	}
}

func TestSimultaneousCancelAndDeadlinePrefersCancel(t *testing.T) {
	calls := &callLog{}
	base := time.Unix(1730000000, 0)
	var w *Watchdog
	var reads atomic.Int32
	clock := func() time.Time {
		if reads.Add(1) == 1 {
			return base
		}
		// Deadline observed as elapsed while the cancel lands at the same point.
		w.Cancel()
		return base.Add(time.Hour)
	}
	w = New(calls.stop, calls.lockout, WithDeadline(time.Minute), WithClock(clock))
	require.NoError(t, w.Run(context.Background()))

	assert.Empty(t, calls.snapshot())
	assert.False(t, w.Expired())
}

func TestLockoutErrorIsLogged(t *testing.T) {
	logs := &captureLogger{}
	stops := atomic.Int32{}
	w := New(func() { stops.Add(1) }, func(context.Context) error { return assert.AnError },
		WithDeadline(time.Millisecond), WithPollInterval(time.Millisecond), WithLogger(logs))
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, int32(1), stops.Load())
	assert.True(t, logs.contains("lockout hand-off failed"))
}

func TestRunTwiceFails(t *testing.T) {
	w := New(nil, nil, WithDeadline(time.Millisecond))
	require.NoError(t, w.Run(context.Background()))
	assert.ErrorIs(t, w.Run(context.Background()), ErrAlreadyStarted)
}
