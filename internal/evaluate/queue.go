package evaluate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/observability"
)

// Queue defaults.
const (
	DefaultConcurrency  = 3
	DefaultPollInterval = 100 * time.Millisecond
)

// Op is a unit of remote work.
type Op func(ctx context.Context) (any, error)

// Task is a queued operation.
type Task struct {
	ID         string
	Op         Op
	EnqueuedAt time.Time

	ctx    context.Context
	future *Future
}

// Future is the caller's handle on a queued task.
type Future struct {
	id    string
	done  chan struct{}
	value any
	err   error
}

// ID returns the task id.
func (f *Future) ID() string { return f.id }

// Done is closed once the task has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) settle(v any, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Limit     int   `json:"limit"`
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue runs operations in arrival order with at most limit in flight.
// Completions trigger a scheduling pass; a poll loop re-checks capacity on
// a fixed interval in case a pass was skipped.
type Queue struct {
	limit   int
	poll    time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu        sync.Mutex
	pending   []*Task
	running   int
	completed int64
	failed    int64
	closed    bool

	scheduling atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithPollInterval sets the capacity re-check interval.
func WithPollInterval(d time.Duration) QueueOption {
	return func(q *Queue) { q.poll = d }
}

// WithQueueClock sets the clock driving the poll loop and enqueue times.
func WithQueueClock(c clockwork.Clock) QueueOption {
	return func(q *Queue) { q.clock = c }
}

// WithQueueMetrics records queue depth and task outcomes.
func WithQueueMetrics(m *observability.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// NewQueue creates a queue and starts its poll loop. Call Close to stop it.
func NewQueue(limit int, opts ...QueueOption) *Queue {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	q := &Queue{
		limit: limit,
		poll:  DefaultPollInterval,
		clock: clockwork.NewRealClock(),
		stop:  make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}

	q.wg.Add(1)
	go q.pollLoop()
	return q
}

// Enqueue adds op to the queue. ctx is passed to op and, if done before op
// starts, settles the task with ctx.Err() without running it.
func (q *Queue) Enqueue(ctx context.Context, op Op) *Future {
	t := &Task{
		ID:         uuid.NewString(),
		Op:         op,
		EnqueuedAt: q.clock.Now(),
		ctx:        ctx,
	}
	t.future = &Future{id: t.ID, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		t.future.settle(nil, ErrQueueClosed)
		return t.future
	}
	q.pending = append(q.pending, t)
	q.report()
	q.mu.Unlock()

	q.schedule()
	return t.future
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Limit:     q.limit,
		Queued:    len(q.pending),
		Running:   q.running,
		Completed: q.completed,
		Failed:    q.failed,
	}
}

// Close stops the poll loop and fails tasks that never started. Running
// tasks finish normally.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.stop)
		q.wg.Wait()

		q.mu.Lock()
		q.closed = true
		pending := q.pending
		q.pending = nil
		q.report()
		q.mu.Unlock()

		for _, t := range pending {
			t.future.settle(nil, ErrQueueClosed)
		}
	})
}

func (q *Queue) pollLoop() {
	defer q.wg.Done()
	ticker := q.clock.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.Chan():
			q.schedule()
		}
	}
}

// schedule starts pending tasks while capacity allows. Only one pass runs
// at a time; a caller that finds a pass in progress returns immediately.
func (q *Queue) schedule() {
	for {
		if !q.scheduling.CompareAndSwap(false, true) {
			return
		}
		q.mu.Lock()
		for q.running < q.limit && len(q.pending) > 0 {
			t := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.running++
			go q.run(t)
		}
		q.report()
		more := q.running < q.limit && len(q.pending) > 0
		q.mu.Unlock()
		q.scheduling.Store(false)

		if !more {
			return
		}
	}
}

func (q *Queue) run(t *Task) {
	var (
		v   any
		err error
	)
	if err = t.ctx.Err(); err == nil {
		v, err = q.invoke(t)
	}

	q.mu.Lock()
	q.running--
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.report()
	q.mu.Unlock()

	q.metrics.TaskSettled(err != nil)
	t.future.settle(v, err)
	q.schedule()
}

func (q *Queue) invoke(t *Task) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("evaluate: queued task panicked", zap.String("task", t.ID), zap.Any("panic", r))
			err = eris.Errorf("evaluate: task %s panicked: %v", t.ID, r)
		}
	}()
	return t.Op(t.ctx)
}

// report must be called with mu held.
func (q *Queue) report() {
	q.metrics.QueueState(len(q.pending), q.running)
}
