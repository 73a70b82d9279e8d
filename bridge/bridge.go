// Package bridge hands live frame sources to a host rendering engine. Textures are created on
// the engine's main thread through a mainthread.Dispatcher; the frames that fill them are
// produced on background goroutines and pulled by the engine.
package bridge

import (
	"context"
	"fmt"
	"image"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/texturebridge/engine"
	"go.viam.com/texturebridge/frames"
	"go.viam.com/texturebridge/logging"
	"go.viam.com/texturebridge/mainthread"
	"go.viam.com/texturebridge/texture"
	"go.viam.com/texturebridge/utils"
)

// ErrClosed is returned by a Bridge after Close.
var ErrClosed = errors.New("texture bridge closed")

// A SourceFactory opens the image source for a new streaming texture. It runs on the caller's
// goroutine, never on the main thread. ctx only bounds opening; the source outlives it.
type SourceFactory func(ctx context.Context, engineHandle int64) (frames.ImageSource, error)

// A NativeTextureRemover is a NativeContext that can drop a texture it created. The bridge uses
// it to clean up textures whose creator stopped waiting.
type NativeTextureRemover interface {
	RemoveTexture(id int64) error
}

// Bridge creates and tracks textures for one set of engines.
type Bridge struct {
	dispatcher *mainthread.Dispatcher
	resolver   engine.Resolver
	sources    SourceFactory
	native     engine.NativeContext
	registry   *texture.Registry

	config Config
	clk    clock.Clock
	closed *atomic.Bool
	logger logging.Logger
}

// An Option configures a Bridge.
type Option func(*Bridge)

// WithNativeContext enables CreateNativeContextTexture.
func WithNativeContext(native engine.NativeContext) Option {
	return func(b *Bridge) {
		b.native = native
	}
}

// WithClock replaces the wall clock used by providers and pipelines.
func WithClock(clk clock.Clock) Option {
	return func(b *Bridge) {
		b.clk = clk
	}
}

// New returns a bridge that runs engine calls on d, resolves engines through resolver and opens
// a frame source from sources for every streaming texture.
func New(
	d *mainthread.Dispatcher,
	resolver engine.Resolver,
	sources SourceFactory,
	config Config,
	logger logging.Logger,
	opts ...Option,
) (*Bridge, error) {
	if d == nil {
		return nil, mainthread.ErrDispatchUnavailable
	}
	if resolver == nil {
		return nil, errors.New("an engine resolver is required")
	}
	if sources == nil {
		return nil, errors.New("an image source factory is required")
	}
	if err := config.Validate("texture_bridge"); err != nil {
		return nil, err
	}
	b := &Bridge{
		dispatcher: d,
		resolver:   resolver,
		sources:    sources,
		registry:   texture.NewRegistry(logger.Sublogger("registry")),
		config:     config,
		clk:        clock.New(),
		closed:     atomic.NewBool(false),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Registry returns the bridge's texture registry.
func (b *Bridge) Registry() *texture.Registry {
	return b.registry
}

// sourceClaim hands an opened source to exactly one owner: the main thread work that builds the
// pipeline, or the caller cleaning up after giving up.
type sourceClaim struct {
	source  frames.ImageSource
	claimed *atomic.Bool
}

func (sc *sourceClaim) take() bool {
	return sc.claimed.CompareAndSwap(false, true)
}

// CreateStreamingTexture opens a frame source for engineHandle, creates a texture fed by it on
// the main thread and returns the texture's id. The texture is registered before the id is
// returned. A texture finished after ctx or the handshake timeout expired is removed again.
func (b *Bridge) CreateStreamingTexture(ctx context.Context, engineHandle int64) (int64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.HandshakeTimeout)
	defer cancel()

	source, err := b.sources(ctx, engineHandle)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open image source for engine %d", engineHandle)
	}
	claim := &sourceClaim{source: source, claimed: atomic.NewBool(false)}
	guard := utils.NewGuard(func() {
		if claim.take() {
			b.closeSource(source)
		}
	})
	defer guard.OnFail()

	stopSlowLog := utils.SlowLogger(ctx, b.clk, "waiting for the main thread to create a streaming texture", b.logger,
		"engine", engineHandle)
	id, err := mainthread.Call(ctx, b.dispatcher, func() (int64, error) {
		return b.createOnMain(engineHandle, claim)
	}, b.discardStreaming)
	stopSlowLog()
	if err != nil {
		return 0, err
	}
	guard.Success()
	b.logger.Infow("streaming texture created", "engine", engineHandle, "texture_id", id)
	return id, nil
}

// createOnMain runs on the main thread.
func (b *Bridge) createOnMain(engineHandle int64, claim *sourceClaim) (int64, error) {
	if !claim.take() {
		return 0, errors.New("texture request abandoned")
	}
	source := claim.source
	guard := utils.NewGuard(func() { b.closeSource(source) })
	defer guard.OnFail()

	engineCtx, err := b.resolver.Resolve(engineHandle)
	if err != nil {
		if !errors.Is(err, engine.ErrEngineResolutionFailed) {
			err = engine.NewEngineResolutionError(engineHandle, err)
		}
		return 0, err
	}

	fc, err := frames.NewFrameChannel(b.config.FrameChannelCapacity)
	if err != nil {
		return 0, err
	}
	provider := frames.NewProvider(fc.Receiver(), b.config.PollTimeout, b.clk)
	tex, err := engineCtx.CreateTexture(provider)
	if err != nil {
		if !errors.Is(err, engine.ErrTextureCreationFailed) {
			err = engine.NewTextureCreationError(engineHandle, err)
		}
		return 0, err
	}
	id := tex.ID()
	sendable := tex.Sendable()

	pipeline := frames.NewPipeline(source, fc.Sender(), sendable.Clone(), frames.PipelineConfig{
		Name:       fmt.Sprintf("texture-%d", id),
		TargetSize: image.Pt(b.config.TargetWidth, b.config.TargetHeight),
	}, b.clk, b.logger.Sublogger("frames"))
	handle := frames.Start(pipeline, b.logger.Sublogger("frames"))
	guard.Success()

	if err := b.registry.Insert(sendable, handle); err != nil {
		// The bridge is closing. Cancel the pipeline without waiting for it on the main thread;
		// it releases its own reference and closes the source when it returns.
		goutils.PanicCapturingGo(handle.Stop)
		sendable.Release()
		return 0, err
	}
	return id, nil
}

// discardStreaming unregisters a texture whose creator stopped waiting. It runs on the main
// thread, so the pipeline is stopped in the background.
func (b *Bridge) discardStreaming(id int64) {
	b.logger.Warnw("texture finished after its creator gave up, removing it", "texture_id", id)
	if err := b.registry.Detach(id); err != nil {
		b.logger.Debugw("late texture already gone", "texture_id", id, "error", err)
	}
}

func (b *Bridge) closeSource(source frames.ImageSource) {
	if err := source.Close(context.Background()); err != nil {
		b.logger.Warnw("error closing image source", "error", err)
	}
}

// CreateNativeContextTexture asks the native rendering context to create a texture for
// engineHandle on the main thread and returns its id.
func (b *Bridge) CreateNativeContextTexture(ctx context.Context, engineHandle int64) (int64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	if b.native == nil {
		return 0, errors.New("no native rendering context configured")
	}
	ctx, cancel := context.WithTimeout(ctx, b.config.HandshakeTimeout)
	defer cancel()

	stopSlowLog := utils.SlowLogger(ctx, b.clk, "waiting for the main thread to create a native texture", b.logger,
		"engine", engineHandle)
	defer stopSlowLog()
	id, err := mainthread.Call(ctx, b.dispatcher, func() (int64, error) {
		id, err := b.native.CreateTexture(engineHandle)
		if err != nil && !errors.Is(err, engine.ErrTextureCreationFailed) && !errors.Is(err, engine.ErrEngineResolutionFailed) {
			err = engine.NewTextureCreationError(engineHandle, err)
		}
		return id, err
	}, b.discardNative)
	if err != nil {
		return 0, err
	}
	b.logger.Infow("native texture created", "engine", engineHandle, "texture_id", id)
	return id, nil
}

func (b *Bridge) discardNative(id int64) {
	remover, ok := b.native.(NativeTextureRemover)
	if !ok {
		b.logger.Warnw("native texture finished after its creator gave up and cannot be removed", "texture_id", id)
		return
	}
	if err := remover.RemoveTexture(id); err != nil {
		b.logger.Warnw("failed to remove late native texture", "texture_id", id, "error", err)
	}
}

// RemoveTexture unregisters a streaming texture, then waits until the pipeline feeding it has
// stopped and the bridge's references are released. If ctx ends first the texture stays
// unregistered, the wait is abandoned and the teardown finishes in the background.
func (b *Bridge) RemoveTexture(ctx context.Context, id int64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.registry.Remove(ctx, id); err != nil {
		return err
	}
	b.logger.Infow("streaming texture removed", "texture_id", id)
	return nil
}

// Close removes every streaming texture. Later calls fail with ErrClosed.
func (b *Bridge) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.registry.Close()
}
