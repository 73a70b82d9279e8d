package frames

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/texturebridge/logging"
	"go.viam.com/texturebridge/utils"
)

// Handle controls a pipeline running in the background.
type Handle struct {
	pipeline *Pipeline
	workers  utils.StoppableWorkers
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// Start runs p on its own goroutine. The pipeline's termination reason is logged there, since
// nothing waits on it synchronously.
func Start(p *Pipeline, logger logging.Logger) *Handle {
	h := &Handle{pipeline: p, done: make(chan struct{})}
	h.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer close(h.done)
		err := p.Run(ctx)
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()

		frames := p.Stats().Snapshot().Frames
		switch {
		case errors.Is(err, context.Canceled):
			logger.Debugw("frame pipeline stopped", "pipeline", p.Name(), "frames", frames)
		case errors.Is(err, ErrImageSourceExhausted):
			logger.Infow("frame pipeline finished", "pipeline", p.Name(), "frames", frames)
		default:
			logger.Errorw("frame pipeline failed", "pipeline", p.Name(), "frames", frames, "error", err)
		}
	})
	return h
}

// Name returns the pipeline's name.
func (h *Handle) Name() string {
	return h.pipeline.Name()
}

// Stop cancels the pipeline and waits for it to return. It is safe to call more than once and
// after the pipeline ended on its own.
func (h *Handle) Stop() {
	h.workers.Stop()
}

// Done is closed once the pipeline has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns why the pipeline ended, or nil while it is running.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Stats returns the pipeline's counters.
func (h *Handle) Stats() StatsSnapshot {
	return h.pipeline.Stats().Snapshot()
}
