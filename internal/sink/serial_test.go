package sink

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSerial(t *testing.T, r Renderer) (*Serial, context.CancelFunc) {
	t.Helper()
	s := NewSerial(r)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(cancel)
	return s, cancel
}

func TestSerialAppliesInOrderAndLocksOnce(t *testing.T) {
	var out bytes.Buffer
	s, cancel := startSerial(t, NewConsole(&out).WithoutColor())
	ctx := context.Background()

	for v := int64(0); v < 3; v++ {
		require.NoError(t, s.Publish(ctx, Snapshot{Value: v}))
	}
	require.NoError(t, s.Publish(ctx, Snapshot{Value: 1}))
	require.NoError(t, s.LockControls(ctx))
	require.NoError(t, s.LockControls(ctx))

	cancel()
	<-s.Done()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"0", "1", "2", "1", "controls locked"}, lines)
}

func TestSerialRejectsAfterShutdown(t *testing.T) {
	s, cancel := startSerial(t, NewConsole(&bytes.Buffer{}).WithoutColor())
	cancel()
	<-s.Done()

	err := s.Publish(context.Background(), Snapshot{Value: 1})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.LockControls(context.Background()), ErrClosed)
}

func TestSerialRunTwiceFails(t *testing.T) {
	s, _ := startSerial(t, NewConsole(&bytes.Buffer{}))
	require.Eventually(t, func() bool { return s.started.Load() }, time.Second, time.Millisecond)
	assert.Error(t, s.Run(context.Background()))
}

type overlapRenderer struct {
	inFlight atomic.Int32
	overlaps atomic.Int32
	renders  atomic.Int32
}

func (r *overlapRenderer) Render(Snapshot) error {
	if r.inFlight.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	time.Sleep(100 * time.Microsecond)
	r.inFlight.Add(-1)
	r.renders.Add(1)
	return nil
}

func (r *overlapRenderer) Lock() error { return nil }

func TestSerialNeverRendersConcurrently(t *testing.T) {
	r := &overlapRenderer{}
	s, _ := startSerial(t, r)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, s.Publish(context.Background(), Snapshot{Value: int64(w*100 + i)}))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(100), r.renders.Load())
	assert.Zero(t, r.overlaps.Load())
}

func TestConsoleHighlightsDecreasingValues(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	c.value.EnableColor()
	c.down.EnableColor()
	require.NoError(t, c.Render(Snapshot{Value: 2}))
	require.NoError(t, c.Render(Snapshot{Value: 1}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotEqual(t, lines[0][:5], lines[1][:5], "increase and decrease use different styles")
}

func TestRecorderFailureInjection(t *testing.T) {
	r := NewRecorder()
	r.FailNext(1)
	ctx := context.Background()
	assert.ErrorIs(t, r.Publish(ctx, Snapshot{Value: 1}), ErrInjected)
	require.NoError(t, r.Publish(ctx, Snapshot{Value: 1}))
	require.NoError(t, r.LockControls(ctx))

	assert.Equal(t, []int64{1}, r.Values())
	assert.Equal(t, 1, r.Locks())
	assert.Equal(t, []Event{{Kind: EventPublish, Value: 1}, {Kind: EventLock}}, r.Events())
}
