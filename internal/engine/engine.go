// Package engine abstracts the durable-execution backend behind capsule
// dispatch so the Ritual Runner can run in-process for tests and local
// development, or hand capsule invocations to Temporal for production
// durability, without the caller changing.
package engine

import (
	"context"
	"time"
)

// Activity is the unit of work an Engine executes on behalf of a capsule
// invocation: arbitrary bytes in, arbitrary bytes out, bounded by timeout.
type Activity func(ctx context.Context) ([]byte, error)

// Engine runs a single Activity to completion or timeout, returning its
// result or a wrapped context.DeadlineExceeded when timeout elapses first.
// Implementations must cancel the activity's context on timeout so
// well-behaved callers stop promptly; they are not required to force-kill an
// activity that ignores cancellation (the container-exec capsule runner is
// itself responsible for killing its subprocess on ctx.Done()).
type Engine interface {
	RunActivity(ctx context.Context, name string, timeout time.Duration, activity Activity) ([]byte, error)
}

// Inmem runs activities directly on the calling goroutine's process, bounded
// by a context.WithTimeout. This is the default engine: suitable for tests
// and single-process deployments, not durable across process restart.
type Inmem struct{}

// NewInmem constructs an Inmem engine.
func NewInmem() *Inmem { return &Inmem{} }

func (Inmem) RunActivity(ctx context.Context, _ string, timeout time.Duration, activity Activity) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := activity(ctx)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
