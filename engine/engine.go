// Package engine describes the host rendering engine the texture bridge feeds: how an engine
// handle is resolved, how a texture backed by a payload provider is created and how a producer
// tells the engine that a new frame is ready.
//
// Calls on Resolver, Context and Texture must happen on the engine's main thread. A
// SendableTexture may be used from any goroutine.
package engine

import (
	"github.com/pkg/errors"
)

var (
	// ErrEngineResolutionFailed is returned when an engine handle is unknown or stale.
	ErrEngineResolutionFailed = errors.New("engine resolution failed")

	// ErrTextureCreationFailed is returned when the engine rejects a texture.
	ErrTextureCreationFailed = errors.New("texture creation failed")

	// ErrWrongThread is returned by engines that detect a texture API call off the main thread.
	ErrWrongThread = errors.New("engine texture api called off the main thread")
)

// A Resolver maps engine handles to running engine instances.
type Resolver interface {
	Resolve(handle int64) (Context, error)
}

// A ResolverFunc is a function satisfying Resolver.
type ResolverFunc func(handle int64) (Context, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(handle int64) (Context, error) {
	return f(handle)
}

// Context is one running engine instance.
type Context interface {
	Handle() int64
	// CreateTexture registers a texture whose pixels are pulled from provider. The engine
	// polls provider from its own render thread.
	CreateTexture(provider PayloadProvider) (Texture, error)
}

// Texture is a freshly created texture. It is only valid on the main thread.
type Texture interface {
	ID() int64
	// Sendable returns a reference counted handle that can cross goroutines. The caller owns
	// one reference.
	Sendable() SendableTexture
}

// SendableTexture is a reference counted, goroutine safe handle to a texture. The engine keeps
// the texture alive while at least one reference is outstanding.
type SendableTexture interface {
	ID() int64
	// MarkFrameAvailable tells the engine a new payload can be pulled.
	MarkFrameAvailable()
	// Clone takes an additional reference.
	Clone() SendableTexture
	// Release drops this reference. Releasing twice is a no-op.
	Release()
}

// PayloadProvider is the pull contract the engine uses to fetch the current frame. Payload is
// called from the engine's render thread and must not block indefinitely. It returns nil when
// no frame has ever been produced.
type PayloadProvider interface {
	Payload() *PixelPayload
}

// NativeContext creates textures whose pixels are produced directly by a native rendering
// context instead of a channel fed provider.
type NativeContext interface {
	CreateTexture(engineHandle int64) (int64, error)
}

// NewEngineResolutionError wraps ErrEngineResolutionFailed with the offending handle.
func NewEngineResolutionError(handle int64, cause error) error {
	if cause == nil {
		return errors.Wrapf(ErrEngineResolutionFailed, "engine handle %d", handle)
	}
	return errors.Wrapf(ErrEngineResolutionFailed, "engine handle %d: %v", handle, cause)
}

// NewTextureCreationError wraps ErrTextureCreationFailed with the engine's reason.
func NewTextureCreationError(handle int64, cause error) error {
	if cause == nil {
		return errors.Wrapf(ErrTextureCreationFailed, "engine handle %d", handle)
	}
	return errors.Wrapf(ErrTextureCreationFailed, "engine handle %d: %v", handle, cause)
}
