package evaluate

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of batch tasks run per wave.
const DefaultChunkSize = 5

type batchState int

const (
	batchIdle batchState = iota
	batchRunning
	batchDone
)

// Result is the outcome of one batch task.
type Result struct {
	Value any
	Err   error
	Wave  int // zero-based chunk the task ran in
}

type batchTask struct {
	id string
	op Op
}

// Batch runs named operations in fixed-size waves: every task of a wave
// settles before the next wave starts. A failing task never affects its
// siblings. A Batch processes once.
type Batch struct {
	chunkSize int

	mu    sync.Mutex
	state batchState
	tasks []batchTask
	ids   map[string]bool
}

// NewBatch creates a batch running chunkSize tasks per wave.
func NewBatch(chunkSize int) *Batch {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Batch{chunkSize: chunkSize, ids: make(map[string]bool)}
}

// Add registers op under id. Ids must be unique and the batch not yet processed.
func (b *Batch) Add(id string, op Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.stateErr(); err != nil {
		return err
	}
	if b.ids[id] {
		return eris.Errorf("evaluate: duplicate batch task %q", id)
	}
	b.ids[id] = true
	b.tasks = append(b.tasks, batchTask{id: id, op: op})
	return nil
}

// Len returns the number of registered tasks.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Process runs every task and returns results by id. A second call fails
// with ErrBatchInFlight or ErrBatchDone. If ctx ends between waves, the
// unstarted tasks report ctx.Err() and Process returns it alongside the
// results gathered so far.
func (b *Batch) Process(ctx context.Context) (map[string]Result, error) {
	b.mu.Lock()
	if err := b.stateErr(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	b.state = batchRunning
	tasks := b.tasks
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.state = batchDone
		b.mu.Unlock()
	}()

	var mu sync.Mutex
	results := make(map[string]Result, len(tasks))

	for wave, start := 0, 0; start < len(tasks); wave, start = wave+1, start+b.chunkSize {
		end := min(start+b.chunkSize, len(tasks))
		if err := ctx.Err(); err != nil {
			for _, t := range tasks[start:] {
				results[t.id] = Result{Err: err, Wave: wave}
			}
			return results, eris.Wrap(err, "evaluate: batch interrupted")
		}

		var g errgroup.Group
		for _, t := range tasks[start:end] {
			g.Go(func() error {
				v, err := runIsolated(ctx, t)
				if err != nil {
					zap.L().Debug("evaluate: batch task failed", zap.String("task", t.id), zap.Error(err))
				}
				mu.Lock()
				results[t.id] = Result{Value: v, Err: err, Wave: wave}
				mu.Unlock()
				return nil // don't fail the wave
			})
		}
		_ = g.Wait()
	}
	return results, nil
}

func (b *Batch) stateErr() error {
	switch b.state {
	case batchRunning:
		return ErrBatchInFlight
	case batchDone:
		return ErrBatchDone
	default:
		return nil
	}
}

func runIsolated(ctx context.Context, t batchTask) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("evaluate: batch task %s panicked: %v", t.id, r)
		}
	}()
	return t.op(ctx)
}
