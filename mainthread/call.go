package mainthread

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type result[T any] struct {
	val T
	err error
}

// Call runs f on d's thread and blocks until its result arrives through a single slot channel.
// It never waits forever: it returns ErrDispatchUnavailable if the work cannot be queued or the
// loop stops before running it, and ctx's error once ctx is done. If f still completes after the
// caller gave up, its value is passed to discard (when non-nil) on the main thread so that
// whatever it created can be torn down. A panic in f is returned as an error.
func Call[T any](ctx context.Context, d *Dispatcher, f func() (T, error), discard func(T)) (T, error) {
	var zero T
	if d == nil {
		return zero, ErrDispatchUnavailable
	}

	var (
		mu        sync.Mutex
		abandoned bool
	)
	resCh := make(chan result[T], 1)

	work := func() {
		if ctx.Err() != nil {
			return
		}
		val, err := runRecovered(f)

		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if err == nil && discard != nil {
				discard(val)
			}
			return
		}
		resCh <- result[T]{val, err}
	}

	done := d.Done()
	if err := d.Submit(work); err != nil {
		return zero, err
	}

	giveUp := func(reason error) (T, error) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case res := <-resCh:
			return res.val, res.err
		default:
		}
		abandoned = true
		return zero, reason
	}

	select {
	case res := <-resCh:
		return res.val, res.err
	case <-done:
		return giveUp(ErrDispatchUnavailable)
	case <-ctx.Done():
		return giveUp(ctx.Err())
	}
}

func runRecovered[T any](f func() (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("main thread work panicked: %v", r)
		}
	}()
	return f()
}
