package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/aoi-engine/internal/cache"
	"github.com/sells-group/aoi-engine/internal/observability"
	"github.com/sells-group/aoi-engine/pkg/platform"
)

// countingExecutor counts calls and delegates to fn.
type countingExecutor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req Request) (any, error)
}

func (c *countingExecutor) Execute(ctx context.Context, req Request) (any, error) {
	c.calls.Add(1)
	return c.fn(ctx, req)
}

func echo() *countingExecutor {
	return &countingExecutor{fn: func(_ context.Context, req Request) (any, error) {
		return map[string]any{"op": req.Operation}, nil
	}}
}

// hang blocks until ctx is done and records the context error it saw.
func hang(seen *atomic.Value) *countingExecutor {
	return &countingExecutor{fn: func(ctx context.Context, _ Request) (any, error) {
		<-ctx.Done()
		seen.Store(ctx.Err())
		return nil, ctx.Err()
	}}
}

func sizeGraph(table string) *platform.Node {
	return platform.Size(platform.LoadTable(table))
}

func TestEvaluate_CachesResult(t *testing.T) {
	exec := echo()
	e := NewEvaluator(exec)
	defer e.Close()

	req := Request{Operation: "count", Graph: sizeGraph("FAO/GAUL/2015/level0")}
	first, err := e.Evaluate(context.Background(), req, Options{})
	require.NoError(t, err)
	second, err := e.Evaluate(context.Background(), Request{Operation: "count", Graph: sizeGraph("FAO/GAUL/2015/level0")}, Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), exec.calls.Load(), "second call is a cache hit")

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, int64(1), stats.Queue.Completed, "cache hits never touch the queue")
}

func TestEvaluate_DistinctRequests(t *testing.T) {
	exec := echo()
	e := NewEvaluator(exec)
	defer e.Close()

	ctx := context.Background()
	_, err := e.Evaluate(ctx, Request{Operation: "count", Graph: sizeGraph("a")}, Options{})
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, Request{Operation: "count", Graph: sizeGraph("b")}, Options{})
	require.NoError(t, err)
	_, err = e.Evaluate(ctx, Request{Operation: "other", Graph: sizeGraph("a")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), exec.calls.Load())
}

func TestEvaluate_ConcurrentIdenticalShareOneCall(t *testing.T) {
	release := make(chan struct{})
	exec := &countingExecutor{fn: func(context.Context, Request) (any, error) {
		<-release
		return 7.0, nil
	}}
	e := NewEvaluator(exec)
	defer e.Close()

	req := Request{Operation: "count", Graph: sizeGraph("x")}
	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.Evaluate(context.Background(), req, Options{})
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), exec.calls.Load())
	for _, v := range results {
		assert.Equal(t, 7.0, v)
	}
}

func TestEvaluate_TimeoutReturnsPartial(t *testing.T) {
	var seen atomic.Value
	exec := hang(&seen)
	m := observability.NewMetricsForTesting()
	e := NewEvaluator(exec, WithMetrics(m))
	defer e.Close()

	req := Request{Operation: "reduce_region", Graph: sizeGraph("big")}
	opts := Options{Timeout: 20 * time.Millisecond}
	v, err := e.Evaluate(context.Background(), req, opts)
	require.NoError(t, err)

	p, ok := v.(*Partial)
	require.True(t, ok)
	assert.Equal(t, StatusPartial, p.Status)
	assert.Equal(t, "reduce_region", p.Operation)
	assert.Contains(t, p.Reason, "20ms")
	assert.GreaterOrEqual(t, p.ElapsedMs, int64(20))
	assert.True(t, IsPartial(v))

	require.Eventually(t, func() bool { return seen.Load() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, context.DeadlineExceeded, seen.Load(), "in-flight call is cancelled")

	again, err := e.Evaluate(context.Background(), req, opts)
	require.NoError(t, err)
	assert.Same(t, p, again, "partial marker is cached")
	assert.Equal(t, int32(1), exec.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues(OutcomePartial)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues(OutcomeCached)))
}

func TestEvaluate_StrictTimeout(t *testing.T) {
	var seen atomic.Value
	exec := hang(&seen)
	e := NewEvaluator(exec)
	defer e.Close()

	req := Request{Operation: "reduce_region", Graph: sizeGraph("big")}
	opts := Options{Timeout: 10 * time.Millisecond, StrictTimeout: true}
	_, err := e.Evaluate(context.Background(), req, opts)
	require.Error(t, err)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "reduce_region", te.Operation)
	assert.Equal(t, 10*time.Millisecond, te.Timeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = e.Evaluate(context.Background(), req, opts)
	require.Error(t, err)
	assert.Equal(t, int32(2), exec.calls.Load(), "timeouts are not cached in strict mode")
}

func TestEvaluate_PartialExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var seen atomic.Value
	exec := hang(&seen)
	e := NewEvaluator(exec,
		WithCache(cache.New[any](10, time.Hour, cache.WithClock(clock))),
		WithPartialTTL(time.Minute),
	)
	defer e.Close()

	req := Request{Operation: "op", Graph: sizeGraph("t")}
	opts := Options{Timeout: 5 * time.Millisecond}
	_, err := e.Evaluate(context.Background(), req, opts)
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	_, err = e.Evaluate(context.Background(), req, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestEvaluate_ErrorsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	exec := &countingExecutor{fn: func(context.Context, Request) (any, error) {
		if fail.Load() {
			return nil, errors.New("platform: 400 bad graph")
		}
		return "ok", nil
	}}
	e := NewEvaluator(exec)
	defer e.Close()

	req := Request{Operation: "op", Graph: sizeGraph("t")}
	_, err := e.Evaluate(context.Background(), req, Options{})
	assert.ErrorContains(t, err, "bad graph")

	fail.Store(false)
	v, err := e.Evaluate(context.Background(), req, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestEvaluate_CallerCancellation(t *testing.T) {
	var seen atomic.Value
	e := NewEvaluator(hang(&seen))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.Evaluate(ctx, Request{Operation: "op", Graph: sizeGraph("t")}, Options{Timeout: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, e.Stats().Cache.Entries)

	require.Eventually(t, func() bool { return seen.Load() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, context.Canceled, seen.Load(), "the only caller leaving cancels the remote call")
}

func waitersOn(e *Evaluator, key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sc, ok := e.inflight[key]; ok {
		return sc.waiters
	}
	return 0
}

func TestEvaluate_CancelledCallerDoesNotFailSharers(t *testing.T) {
	release := make(chan struct{})
	exec := &countingExecutor{fn: func(ctx context.Context, _ Request) (any, error) {
		select {
		case <-release:
			return 42.0, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	e := NewEvaluator(exec)
	defer e.Close()

	req := Request{Operation: "count", Graph: sizeGraph("shared")}
	opts := Options{Timeout: time.Second}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := e.Evaluate(ctxA, req, opts)
		errA <- err
	}()
	require.Eventually(t, func() bool { return exec.calls.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		v   any
		err error
	}
	resB := make(chan outcome, 1)
	go func() {
		v, err := e.Evaluate(context.Background(), req, opts)
		resB <- outcome{v, err}
	}()
	key, err := Key(req, opts)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return waitersOn(e, key) == 2 }, time.Second, time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)
	assert.Equal(t, 1, waitersOn(e, key))

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, 42.0, b.v)
	assert.Equal(t, int32(1), exec.calls.Load(), "both callers shared one remote call")
}

func TestEvaluate_SharedQueueBoundsConcurrency(t *testing.T) {
	q := NewQueue(1)
	defer q.Close()

	var running, peak atomic.Int32
	exec := &countingExecutor{fn: func(_ context.Context, req Request) (any, error) {
		if n := running.Add(1); n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return req.Operation, nil
	}}
	e := NewEvaluator(exec, WithQueue(q))
	e.Close() // leaves the shared queue running

	var wg sync.WaitGroup
	for _, op := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.Evaluate(context.Background(), Request{Operation: op, Graph: sizeGraph(op)}, Options{})
			assert.NoError(t, err)
			assert.Equal(t, op, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
	assert.Same(t, q, e.Queue())
}

func TestEvaluate_Clear(t *testing.T) {
	exec := echo()
	e := NewEvaluator(exec)
	defer e.Close()

	req := Request{Operation: "op", Graph: sizeGraph("t")}
	_, _ = e.Evaluate(context.Background(), req, Options{})
	e.Clear()
	_, _ = e.Evaluate(context.Background(), req, Options{})
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestKey(t *testing.T) {
	a, err := Key(Request{Operation: "op", Graph: map[string]any{"x": 1, "y": 2}}, Options{})
	require.NoError(t, err)
	b, err := Key(Request{Operation: "op", Graph: map[string]any{"y": 2, "x": 1}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, _ := Key(Request{Operation: "op2", Graph: map[string]any{"x": 1, "y": 2}}, Options{})
	d, _ := Key(Request{Operation: "op", Graph: map[string]any{"x": 1, "y": 2}}, Options{Timeout: time.Second})
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)

	_, err = Key(Request{Operation: "op", Graph: make(chan int)}, Options{})
	assert.Error(t, err)
}

type fakeClient struct {
	reply json.RawMessage
	err   error
	got   *platform.Node
}

func (f *fakeClient) Compute(_ context.Context, graph *platform.Node) (json.RawMessage, error) {
	f.got = graph
	return f.reply, f.err
}

func TestPlatformExecutor(t *testing.T) {
	fc := &fakeClient{reply: json.RawMessage(`{"NDVI": 0.61}`)}
	exec := NewPlatformExecutor(fc)

	v, err := exec.Execute(context.Background(), Request{Operation: "mean", Graph: sizeGraph("t")})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"NDVI": 0.61}, v)
	assert.Equal(t, "Collection.size", fc.got.Function)

	encoded, err := json.Marshal(sizeGraph("t"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	_, err = exec.Execute(context.Background(), Request{Operation: "mean", Graph: decoded})
	require.NoError(t, err)
	assert.Equal(t, "Collection.size", fc.got.Function)

	_, err = exec.Execute(context.Background(), Request{Operation: "mean"})
	assert.ErrorContains(t, err, "nil graph")

	fc.err = errors.New("quota")
	_, err = exec.Execute(context.Background(), Request{Operation: "mean", Graph: encoded})
	assert.ErrorContains(t, err, "quota")
}
