package evaluate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func wait(t *testing.T, f *Future) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	release := make(chan struct{})
	futures := make([]*Future, 5)
	for i := range futures {
		futures[i] = q.Enqueue(context.Background(), func(context.Context) (any, error) {
			<-release
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
	}
	close(release)

	for i, f := range futures {
		v, err := wait(t, f)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_ConcurrencyLimit(t *testing.T) {
	q := NewQueue(2)
	defer q.Close()

	var running, peak atomic.Int32
	release := make(chan struct{})
	futures := make([]*Future, 6)
	for i := range futures {
		futures[i] = q.Enqueue(context.Background(), func(context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil, nil
		})
	}

	require.Eventually(t, func() bool { return q.Stats().Running == 2 }, time.Second, 5*time.Millisecond)
	stats := q.Stats()
	assert.Equal(t, 4, stats.Queued)
	assert.Equal(t, 2, stats.Limit)

	close(release)
	for _, f := range futures {
		_, err := wait(t, f)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), peak.Load())

	require.Eventually(t, func() bool { return q.Stats().Completed == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Stats().Running)
	assert.Equal(t, 0, q.Stats().Queued)
}

func TestQueue_FailedTasks(t *testing.T) {
	q := NewQueue(3)
	defer q.Close()

	boom := errors.New("boom")
	_, err := wait(t, q.Enqueue(context.Background(), func(context.Context) (any, error) { return nil, boom }))
	assert.ErrorIs(t, err, boom)

	_, err = wait(t, q.Enqueue(context.Background(), func(context.Context) (any, error) { panic("bad graph") }))
	assert.ErrorContains(t, err, "panicked")

	require.Eventually(t, func() bool { return q.Stats().Failed == 2 }, time.Second, 5*time.Millisecond)
}

func TestQueue_CancelledBeforeStart(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	release := make(chan struct{})
	blocker := q.Enqueue(context.Background(), func(context.Context) (any, error) {
		<-release
		return "done", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	skipped := q.Enqueue(ctx, func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	cancel()
	close(release)

	_, err := wait(t, blocker)
	require.NoError(t, err)
	<-skipped.Done()
	_, err = skipped.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(1)

	release := make(chan struct{})
	running := q.Enqueue(context.Background(), func(context.Context) (any, error) {
		<-release
		return 1, nil
	})
	require.Eventually(t, func() bool { return q.Stats().Running == 1 }, time.Second, 5*time.Millisecond)
	pending := q.Enqueue(context.Background(), func(context.Context) (any, error) { return 2, nil })

	q.Close()
	_, err := wait(t, pending)
	assert.ErrorIs(t, err, ErrQueueClosed)

	close(release)
	v, err := wait(t, running)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = wait(t, q.Enqueue(context.Background(), func(context.Context) (any, error) { return 3, nil }))
	assert.ErrorIs(t, err, ErrQueueClosed)
	q.Close()
}

func TestQueue_PollRecoversSkippedPass(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(1, WithQueueClock(clock), WithPollInterval(100*time.Millisecond))
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	// Simulate a pass in progress so Enqueue's own pass is skipped.
	q.scheduling.Store(true)
	f := q.Enqueue(context.Background(), func(context.Context) (any, error) { return "polled", nil })
	assert.Equal(t, 1, q.Stats().Queued)
	q.scheduling.Store(false)

	clock.Advance(100 * time.Millisecond)
	v, err := wait(t, f)
	require.NoError(t, err)
	assert.Equal(t, "polled", v)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	release := make(chan struct{})
	defer close(release)
	f := q.Enqueue(context.Background(), func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	assert.NotEmpty(t, f.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
