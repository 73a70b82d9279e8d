package fake

import (
	"context"
	"sync"

	"go.uber.org/atomic"

	"go.viam.com/texturebridge/engine"
)

// Texture is a fake engine texture. It records every payload its render goroutine pulls.
type Texture struct {
	id       int64
	owner    *Context
	provider engine.PayloadProvider

	refs           *atomic.Int32
	marks          *atomic.Int64
	renders        *atomic.Int64
	history        int
	frameAvailable chan struct{}
	released       chan struct{}
	releaseOnce    sync.Once

	mu       sync.Mutex
	rendered []*engine.PixelPayload
}

func newTexture(owner *Context, id int64, provider engine.PayloadProvider, history int) *Texture {
	return &Texture{
		id:             id,
		owner:          owner,
		provider:       provider,
		refs:           atomic.NewInt32(0),
		marks:          atomic.NewInt64(0),
		renders:        atomic.NewInt64(0),
		history:        history,
		frameAvailable: make(chan struct{}, 1),
		released:       make(chan struct{}),
	}
}

// ID implements engine.Texture.
func (t *Texture) ID() int64 {
	return t.id
}

// Sendable implements engine.Texture.
func (t *Texture) Sendable() engine.SendableTexture {
	t.refs.Inc()
	return &sendable{tex: t, released: atomic.NewBool(false)}
}

// Refs returns the number of outstanding sendable references.
func (t *Texture) Refs() int32 {
	return t.refs.Load()
}

// Released reports whether the last sendable reference was dropped.
func (t *Texture) Released() bool {
	select {
	case <-t.released:
		return true
	default:
		return false
	}
}

// MarkCount returns how many times a frame was marked available.
func (t *Texture) MarkCount() int64 {
	return t.marks.Load()
}

// RenderCount returns how many polls returned a payload.
func (t *Texture) RenderCount() int64 {
	return t.renders.Load()
}

// Rendered returns the retained payloads pulled from the provider, in order, skipping polls that
// returned nil.
func (t *Texture) Rendered() []*engine.PixelPayload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*engine.PixelPayload(nil), t.rendered...)
}

// LastRendered returns the most recent payload pulled, or nil.
func (t *Texture) LastRendered() *engine.PixelPayload {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rendered) == 0 {
		return nil
	}
	return t.rendered[len(t.rendered)-1]
}

// Poll pulls from the provider synchronously, as a vsync would.
func (t *Texture) Poll() *engine.PixelPayload {
	payload := t.provider.Payload()
	if payload != nil {
		t.renders.Inc()
		t.mu.Lock()
		t.rendered = append(t.rendered, payload)
		if t.history > 0 && len(t.rendered) > t.history {
			t.rendered = append(t.rendered[:0], t.rendered[len(t.rendered)-t.history:]...)
		}
		t.mu.Unlock()
	}
	return payload
}

func (t *Texture) markFrameAvailable() {
	t.marks.Inc()
	select {
	case t.frameAvailable <- struct{}{}:
	default:
	}
}

func (t *Texture) release() {
	if t.refs.Dec() > 0 {
		return
	}
	t.releaseOnce.Do(func() {
		close(t.released)
		t.owner.unregister(t)
	})
}

// renderLoop plays the part of the engine's render thread.
func (t *Texture) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.released:
			return
		case <-t.frameAvailable:
		}
		t.Poll()
	}
}

type sendable struct {
	tex      *Texture
	released *atomic.Bool
}

func (s *sendable) ID() int64 {
	return s.tex.id
}

func (s *sendable) MarkFrameAvailable() {
	if s.released.Load() {
		return
	}
	s.tex.markFrameAvailable()
}

func (s *sendable) Clone() engine.SendableTexture {
	return s.tex.Sendable()
}

func (s *sendable) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.tex.release()
	}
}
