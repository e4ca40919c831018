// Package deadline races a call against a timeout.
package deadline

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when fn did not finish within the timeout.
var ErrTimeout = errors.New("deadline exceeded")

type result[T any] struct {
	v   T
	err error
}

// Do runs fn with a context that is canceled after timeout and returns whichever
// happens first: fn's result or ErrTimeout. A late result is dropped into a
// buffered channel, so the goroutine running fn always exits.
//
// A timeout <= 0 runs fn inline with the parent context.
func Do[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(cctx)
		done <- result[T]{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, ErrTimeout
	}
}
