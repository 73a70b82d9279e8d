// Package mainthread runs work on one designated OS thread, the thread that owns the host
// engine's API surface. Work is queued without blocking the submitter and executes in
// submission order.
package mainthread

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/texturebridge/logging"
)

// ErrDispatchUnavailable is returned when work is submitted while the main loop is not running.
var ErrDispatchUnavailable = errors.New("main thread dispatcher unavailable")

// Dispatcher is a FIFO work queue drained by a single locked OS thread.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}

	threadID int
	logger   logging.Logger
}

// New returns a dispatcher that is not yet running.
func New(logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// Run locks the calling goroutine to its OS thread and executes submitted work until ctx is
// done or Stop is called. Work still queued at that point is dropped. Run must be called from
// the thread that owns the engine; for a process's real main thread, call it from main after
// locking in an init function.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.run(ctx, nil)
}

func (d *Dispatcher) run(ctx context.Context, ready chan<- struct{}) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("main thread dispatcher already running")
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.threadID = currentThreadID()
	stop, done := d.stop, d.done
	d.mu.Unlock()

	d.logger.Debugw("main thread loop started", "thread_id", d.threadID)
	if ready != nil {
		close(ready)
	}
	defer func() {
		d.mu.Lock()
		d.running = false
		dropped := len(d.queue)
		d.queue = nil
		d.mu.Unlock()
		d.logger.Debugw("main thread loop stopped", "dropped", dropped)
		close(done)
	}()

	for {
		for {
			work, ok := d.next()
			if !ok {
				break
			}
			d.execute(work)
			select {
			case <-stop:
				return nil
			default:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-d.wake:
		}
	}
}

// Start runs the loop on a dedicated goroutine and returns once it accepts work.
func (d *Dispatcher) Start() error {
	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.run(context.Background(), ready)
	}()
	select {
	case <-ready:
		return nil
	case err := <-errCh:
		if err == nil {
			err = ErrDispatchUnavailable
		}
		return err
	}
}

// Stop ends the loop after the work item in progress, if any, and waits for Run to return.
// Called from work on the main thread, it only requests the stop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stop, done := d.stop, d.done
	select {
	case <-stop:
	default:
		close(stop)
	}
	d.mu.Unlock()
	if d.OnThread() {
		return
	}
	<-done
}

// Running reports whether the loop accepts work.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Submit queues work for the main thread. It never blocks.
func (d *Dispatcher) Submit(work func()) error {
	if work == nil {
		return errors.New("cannot submit nil work")
	}
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDispatchUnavailable
	}
	d.queue = append(d.queue, work)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Done returns a channel closed when the current run of the loop ends, or nil if it is not
// running.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	return d.done
}

// OnThread reports whether the caller is executing on the dispatcher's thread.
func (d *Dispatcher) OnThread() bool {
	d.mu.Lock()
	running, tid := d.running, d.threadID
	d.mu.Unlock()
	return running && currentThreadID() == tid
}

func (d *Dispatcher) next() (func(), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, false
	}
	work := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return work, true
}

func (d *Dispatcher) execute(work func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("main thread work panicked", "panic", r)
		}
	}()
	work()
}
