package evaluate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Progressive loader defaults.
const (
	DefaultPrimaryTimeout  = 5 * time.Second
	DefaultFallbackTimeout = 10 * time.Second
)

// Loader produces a value, honoring ctx cancellation where it can.
type Loader func(ctx context.Context) (any, error)

// Progressive runs a primary loader under a short budget and falls back to
// progressively cheaper loaders.
type Progressive struct {
	queue           *Queue
	primaryTimeout  time.Duration
	fallbackTimeout time.Duration
}

// NewProgressive creates a loader. When q is non-nil every attempt runs
// through it. Non-positive timeouts take the defaults.
func NewProgressive(q *Queue, primaryTimeout, fallbackTimeout time.Duration) *Progressive {
	if primaryTimeout <= 0 {
		primaryTimeout = DefaultPrimaryTimeout
	}
	if fallbackTimeout <= 0 {
		fallbackTimeout = DefaultFallbackTimeout
	}
	return &Progressive{queue: q, primaryTimeout: primaryTimeout, fallbackTimeout: fallbackTimeout}
}

// Load returns the first successful result of primary and then each
// fallback in order. Fallbacks after a success are never invoked. When all
// fail, the primary's error is returned (a *TimeoutError if it timed out).
func (p *Progressive) Load(ctx context.Context, primary Loader, fallbacks ...Loader) (any, error) {
	v, primaryErr := p.attempt(ctx, "primary", primary, p.primaryTimeout)
	if primaryErr == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	last := primaryErr
	for i, fb := range fallbacks {
		name := fmt.Sprintf("fallback %d", i+1)
		zap.L().Warn("evaluate: progressive step failed, falling back",
			zap.String("next", name),
			zap.Error(last),
		)
		v, err := p.attempt(ctx, name, fb, p.fallbackTimeout)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = err
	}
	return nil, primaryErr
}

func (p *Progressive) attempt(ctx context.Context, name string, load Loader, timeout time.Duration) (any, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		v   any
		err error
	)
	if p.queue != nil {
		v, err = p.queue.Enqueue(actx, Op(load)).Wait(actx)
	} else {
		v, err = race(actx, load)
	}

	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, &TimeoutError{Operation: name, Timeout: timeout}
	}
	return v, err
}

// race runs load in its own goroutine so a loader that ignores ctx cannot
// hold the caller past its deadline.
func race(ctx context.Context, load Loader) (any, error) {
	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				zap.L().Error("evaluate: loader panicked", zap.Any("panic", p))
				r = result{err: eris.Errorf("evaluate: loader panicked: %v", p)}
			}
			ch <- r
		}()
		r.v, r.err = load(ctx)
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
