package evaluate

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Sentinel errors.
var (
	ErrBatchInFlight = eris.New("evaluate: batch is already processing")
	ErrBatchDone     = eris.New("evaluate: batch was already processed")
	ErrQueueClosed   = eris.New("evaluate: queue closed")
)

// TimeoutError reports an operation that exceeded its time budget.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluate: %s timed out after %s", e.Operation, e.Timeout)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Partial is returned in place of a value when an evaluation times out and
// the caller accepts partial results.
type Partial struct {
	Status    string `json:"status"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// StatusPartial is the Status of every Partial.
const StatusPartial = "partial"

// IsPartial reports whether v is a partial-result marker.
func IsPartial(v any) bool {
	_, ok := v.(*Partial)
	return ok
}
