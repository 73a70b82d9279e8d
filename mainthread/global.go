package mainthread

import (
	"context"
	"sync"
)

var (
	defaultMu         sync.RWMutex
	defaultDispatcher *Dispatcher
)

// SetDefault installs the process wide dispatcher. Passing nil uninstalls it.
func SetDefault(d *Dispatcher) {
	defaultMu.Lock()
	defaultDispatcher = d
	defaultMu.Unlock()
}

// Default returns the process wide dispatcher, or ErrDispatchUnavailable if none is installed
// or its loop is not running.
func Default() (*Dispatcher, error) {
	defaultMu.RLock()
	d := defaultDispatcher
	defaultMu.RUnlock()
	if d == nil || !d.Running() {
		return nil, ErrDispatchUnavailable
	}
	return d, nil
}

// Main runs d on the calling goroutine, which should be the process's main thread, while f runs
// on its own goroutine. It returns f's error once f returns; d is stopped at that point.
func Main(d *Dispatcher, f func() error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		select {
		case <-ready:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}
		err := f()
		cancel()
		errCh <- err
	}()
	if err := d.run(ctx, ready); err != nil && ctx.Err() == nil {
		return err
	}
	return <-errCh
}
