// Package texture keeps track of the streaming textures the bridge has handed to engines. Each
// entry owns one reference to the engine texture and the pipeline feeding it.
package texture

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/texturebridge/engine"
	"go.viam.com/texturebridge/frames"
	"go.viam.com/texturebridge/logging"
	"go.viam.com/texturebridge/utils"
)

var (
	// ErrNotFound is returned for an id that is not registered.
	ErrNotFound = errors.New("texture not found")

	// ErrRegistryClosed is returned by Insert after Close.
	ErrRegistryClosed = errors.New("texture registry closed")
)

// closeParallelism bounds how many pipelines Close tears down at once.
const closeParallelism = 8

// A Pipeline is whatever produces frames for a registered texture. frames.Handle is one.
type Pipeline interface {
	Name() string
	// Stop cancels the pipeline and waits for it to return.
	Stop()
	// Err returns why the pipeline ended.
	Err() error
}

type entry struct {
	texture  engine.SendableTexture
	pipeline Pipeline
}

// Registry maps texture ids to their handle and pipeline. The lock is only held for map
// operations. Unregistered entries are torn down on the registry's own workers, never on the
// caller's goroutine, so Insert and Detach are safe to call from the engine's main thread.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
	closed  bool

	// teardowns only gains workers while mu is held and closed is false.
	teardowns utils.StoppableWorkers
	logger    logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		entries:   map[int64]*entry{},
		teardowns: utils.NewStoppableWorkers(),
		logger:    logger,
	}
}

// Insert registers tex under tex.ID(), taking ownership of the reference and of pipeline, which
// may be nil. An entry already stored under that id is replaced and torn down in the
// background.
func (r *Registry) Insert(tex engine.SendableTexture, pipeline Pipeline) error {
	if tex == nil {
		return errors.New("cannot register a nil texture")
	}
	id := tex.ID()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if old, replaced := r.entries[id]; replaced {
		r.logger.Warnw("replacing registered texture", "texture_id", id)
		r.teardownLocked(id, old, "replaced")
	}
	r.entries[id] = &entry{texture: tex, pipeline: pipeline}
	return nil
}

// Acquire returns a new reference to the texture registered under id and the function that
// drops it.
func (r *Registry) Acquire(id int64) (engine.SendableTexture, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil, false
	}
	clone := e.texture.Clone()
	return clone, clone.Release, true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Remove unregisters id, then waits until its pipeline has stopped and the registry's reference
// is released, or until ctx is done. The id is unregistered either way; a teardown that outlives
// ctx finishes in the background and Close waits for it. A pipeline that had already failed is
// logged, not returned.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	done, err := r.detach(id)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for texture %d to stop", id)
	}
}

// Detach unregisters id and tears it down in the background without waiting.
func (r *Registry) Detach(id int64) error {
	_, err := r.detach(id)
	return err
}

func (r *Registry) detach(id int64) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "texture %d", id)
	}
	delete(r.entries, id)
	return r.teardownLocked(id, e, "removed"), nil
}

// teardownLocked starts tearing e down on the registry's workers. r.mu must be held and the
// registry open. The returned channel closes once the teardown is done.
func (r *Registry) teardownLocked(id int64, e *entry, reason string) <-chan struct{} {
	done := make(chan struct{})
	r.teardowns.AddWorkers(func(context.Context) {
		defer close(done)
		if err := r.teardown(id, e); err != nil {
			r.logger.Warnw(reason+" texture's pipeline had failed", "error", err)
		}
	})
	return done
}

// IDs returns every registered id in ascending order.
func (r *Registry) IDs() []int64 {
	r.mu.Lock()
	ids := lo.Keys(r.entries)
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered textures.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close tears down every entry, waits for background teardowns still in flight and makes
// further inserts fail. The returned error combines the failures of registered pipelines that
// had died on their own.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = map[int64]*entry{}
	r.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  error
	)
	var g errgroup.Group
	g.SetLimit(closeParallelism)
	for id, e := range entries {
		g.Go(func() error {
			if err := r.teardown(id, e); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	//nolint:errcheck
	g.Wait()
	r.teardowns.Stop()
	return errs
}

// teardown stops e's pipeline and releases its reference. It returns the pipeline's error when
// the pipeline failed rather than being stopped or running out of frames.
func (r *Registry) teardown(id int64, e *entry) error {
	defer e.texture.Release()
	if e.pipeline == nil {
		return nil
	}
	e.pipeline.Stop()
	err := e.pipeline.Err()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, frames.ErrImageSourceExhausted) {
		r.logger.Debugw("texture torn down", "texture_id", id, "pipeline", e.pipeline.Name())
		return nil
	}
	return errors.Wrapf(err, "texture %d", id)
}
