package progs

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"arenaserver/internal/arena"
)

// Call runs fn with a deadline. A hook that overruns returns ErrProgTimeout;
// a hook that fails or panics returns ErrProgFailed. The hook goroutine is
// abandoned on timeout, so hooks must honour ctx to avoid leaking work.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: eris.Wrapf(arena.ErrProgFailed, "panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if eris.Is(r.err, arena.ErrProgFailed) {
				return zero, r.err
			}
			if ctx.Err() != nil {
				return zero, eris.Wrap(arena.ErrProgTimeout, r.err.Error())
			}
			return zero, eris.Wrap(arena.ErrProgFailed, r.err.Error())
		}
		return r.val, nil
	case <-ctx.Done():
		return zero, eris.Wrapf(arena.ErrProgTimeout, "after %s", timeout)
	}
}
