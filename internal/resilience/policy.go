package resilience

import "context"

// Policy combines a breaker and a retry loop around one downstream. Each
// attempt passes through the breaker, so an open circuit stops retries.
type Policy struct {
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Call runs fn under p. A nil breaker disables circuit breaking.
func Call[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := p.Retry
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = func(err error) bool {
			return !IsCircuitOpen(err) && IsTransient(err)
		}
	}
	return Retry(ctx, op, retry, func(ctx context.Context) (T, error) {
		if p.Breaker == nil {
			return fn(ctx)
		}
		return Execute(ctx, p.Breaker, fn)
	})
}
