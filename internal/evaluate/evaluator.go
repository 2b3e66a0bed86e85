// Package evaluate fronts the remote platform's evaluation calls with a
// result cache, a bounded request queue and timeout handling that degrades
// to partial-result markers.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/aoi-engine/internal/cache"
	"github.com/sells-group/aoi-engine/internal/observability"
)

// Evaluator defaults.
const (
	DefaultCacheEntries = 500
	DefaultCacheTTL     = time.Hour
	DefaultPartialTTL   = time.Minute
	DefaultTimeout      = 30 * time.Second
)

// Evaluation outcomes, reported in metrics.
const (
	OutcomeCached   = "cached"
	OutcomeComputed = "computed"
	OutcomePartial  = "partial"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// Request is an operation name and the request graph it evaluates.
type Request struct {
	Operation string `json:"operation"`
	Graph     any    `json:"graph"`
}

// Options control a single evaluation.
type Options struct {
	// Timeout is the evaluation budget; zero means the evaluator default.
	Timeout time.Duration
	// StrictTimeout returns a *TimeoutError instead of a Partial.
	StrictTimeout bool
}

// Executor performs a request against the remote platform.
type Executor interface {
	Execute(ctx context.Context, req Request) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (any, error) { return f(ctx, req) }

// Stats reports cache and queue state.
type Stats struct {
	Cache cache.Stats `json:"cache"`
	Queue QueueStats  `json:"queue"`
}

// Evaluator caches evaluation results and routes misses through a Queue.
type Evaluator struct {
	exec           Executor
	queue          *Queue
	ownsQueue      bool
	cache          *cache.Cache[any]
	partialTTL     time.Duration
	defaultTimeout time.Duration
	clock          clockwork.Clock
	metrics        *observability.Metrics

	group    singleflight.Group
	mu       sync.Mutex
	inflight map[string]*sharedCall
}

// sharedCall is the context one in-flight evaluation runs under. It is
// detached from every caller and cancelled only when the last waiter leaves.
type sharedCall struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithQueue shares q instead of creating a private queue.
func WithQueue(q *Queue) Option {
	return func(e *Evaluator) { e.queue = q }
}

// WithCache sets the evaluation result cache.
func WithCache(c *cache.Cache[any]) Option {
	return func(e *Evaluator) { e.cache = c }
}

// WithPartialTTL sets how long partial markers stay cached.
func WithPartialTTL(d time.Duration) Option {
	return func(e *Evaluator) { e.partialTTL = d }
}

// WithDefaultTimeout sets the budget used when Options.Timeout is zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.defaultTimeout = d }
}

// WithClock sets the clock used to measure elapsed time.
func WithClock(c clockwork.Clock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// WithMetrics records evaluation outcomes and durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator creates an Evaluator. Without WithQueue it owns a queue with
// the default concurrency, released by Close.
func NewEvaluator(exec Executor, opts ...Option) *Evaluator {
	e := &Evaluator{
		exec:           exec,
		partialTTL:     DefaultPartialTTL,
		defaultTimeout: DefaultTimeout,
		clock:          clockwork.NewRealClock(),
		inflight:       make(map[string]*sharedCall),
	}
	for _, o := range opts {
		o(e)
	}
	if e.queue == nil {
		e.queue = NewQueue(DefaultConcurrency, WithQueueMetrics(e.metrics))
		e.ownsQueue = true
	}
	if e.cache == nil {
		e.cache = cache.New[any](DefaultCacheEntries, DefaultCacheTTL, cache.WithObserver("evaluation", e.metrics))
	}
	return e
}

// Queue returns the request queue evaluations run on.
func (e *Evaluator) Queue() *Queue { return e.queue }

// Evaluate returns the cached value for req or evaluates it through the
// queue. When the budget runs out the in-flight call is cancelled and a
// *Partial is cached and returned, or a *TimeoutError if opts.StrictTimeout
// is set. Errors from the executor are returned and not cached. Concurrent
// identical requests share one remote call; a caller that gives up does not
// affect the others.
func (e *Evaluator) Evaluate(ctx context.Context, req Request, opts Options) (any, error) {
	key, err := Key(req, opts)
	if err != nil {
		return nil, err
	}

	if entry, ok := e.cache.Get(key); ok {
		zap.L().Debug("evaluate: cache hit", zap.String("operation", req.Operation), zap.Int("hits", entry.Hits))
		e.metrics.Evaluation(OutcomeCached)
		return entry.Value, nil
	}

	sc := e.join(ctx, key)
	defer e.leave(key, sc)

	ch := e.group.DoChan(key, func() (any, error) {
		return e.evaluate(sc.ctx, key, req, opts)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// join registers a waiter on the shared call for key, starting one if none
// is in flight.
func (e *Evaluator) join(ctx context.Context, key string) *sharedCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	sc, ok := e.inflight[key]
	if !ok {
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sc = &sharedCall{ctx: callCtx, cancel: cancel}
		e.inflight[key] = sc
	}
	sc.waiters++
	return sc
}

// leave drops a waiter. The last one out cancels the shared call and lets
// the next caller start a fresh one.
func (e *Evaluator) leave(key string, sc *sharedCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sc.waiters--
	if sc.waiters > 0 {
		return
	}
	sc.cancel()
	if e.inflight[key] == sc {
		delete(e.inflight, key)
		e.group.Forget(key)
	}
}

func (e *Evaluator) evaluate(ctx context.Context, key string, req Request, opts Options) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	start := e.clock.Now()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fut := e.queue.Enqueue(callCtx, func(ctx context.Context) (any, error) {
		began := e.clock.Now()
		v, err := e.exec.Execute(ctx, req)
		e.metrics.ObserveEvaluation(req.Operation, e.clock.Since(began))
		return v, err
	})
	v, err := fut.Wait(callCtx)

	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		elapsed := e.clock.Since(start)
		if opts.StrictTimeout {
			e.metrics.Evaluation(OutcomeTimeout)
			return nil, &TimeoutError{Operation: req.Operation, Timeout: timeout}
		}
		p := &Partial{
			Status:    StatusPartial,
			Operation: req.Operation,
			Reason:    fmt.Sprintf("evaluation exceeded %s", timeout),
			ElapsedMs: elapsed.Milliseconds(),
		}
		zap.L().Warn("evaluate: timed out, returning partial result",
			zap.String("operation", req.Operation),
			zap.Duration("timeout", timeout),
		)
		e.cache.SetWithTTL(key, p, e.partialTTL)
		e.metrics.Evaluation(OutcomePartial)
		return p, nil
	}
	if err != nil {
		e.metrics.Evaluation(OutcomeError)
		return nil, err
	}

	e.cache.Set(key, v)
	e.metrics.Evaluation(OutcomeComputed)
	return v, nil
}

// Stats returns cache and queue statistics.
func (e *Evaluator) Stats() Stats {
	return Stats{Cache: e.cache.Stats(), Queue: e.queue.Stats()}
}

// Clear drops every cached result.
func (e *Evaluator) Clear() {
	e.cache.Clear()
}

// Close releases the evaluator's own queue. A queue passed with WithQueue is
// left to its owner.
func (e *Evaluator) Close() {
	if e.ownsQueue {
		e.queue.Close()
	}
}
