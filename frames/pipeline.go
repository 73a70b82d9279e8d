package frames

import (
	"context"
	"image"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/texturebridge/engine"
	"go.viam.com/texturebridge/logging"
)

var (
	// ErrImageSourceExhausted ends a pipeline whose source has no more frames.
	ErrImageSourceExhausted = errors.New("image source exhausted")

	// ErrImageSourceError ends a pipeline whose source failed. The source's error is wrapped.
	ErrImageSourceError = errors.New("image source error")
)

type imageSourceError struct {
	cause error
}

func (e *imageSourceError) Error() string {
	return ErrImageSourceError.Error() + ": " + e.cause.Error()
}

func (e *imageSourceError) Is(target error) bool {
	return target == ErrImageSourceError
}

func (e *imageSourceError) Unwrap() error {
	return e.cause
}

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	// Name identifies the pipeline in logs. A random one is picked when empty.
	Name string
	// TargetSize rescales every frame when both dimensions are positive.
	TargetSize image.Point
}

// A Pipeline reads frames from an ImageSource, converts them to RGBA payloads, pushes them into
// a frame channel and tells the engine a frame is ready. It owns the channel's send end, the
// source and one reference to the texture.
type Pipeline struct {
	name    string
	source  ImageSource
	out     chan<- *engine.PixelPayload
	texture engine.SendableTexture
	target  image.Point

	clk    clock.Clock
	stats  *Stats
	logger logging.Logger
}

// NewPipeline returns a pipeline that has not started.
func NewPipeline(
	source ImageSource,
	out chan<- *engine.PixelPayload,
	texture engine.SendableTexture,
	config PipelineConfig,
	clk clock.Clock,
	logger logging.Logger,
) *Pipeline {
	name := config.Name
	if name == "" {
		name = uuid.NewString()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Pipeline{
		name:    name,
		source:  source,
		out:     out,
		texture: texture,
		target:  config.TargetSize,
		clk:     clk,
		stats:   newStats(),
		logger:  logger.Sublogger(name),
	}
}

// Name returns the pipeline's name.
func (p *Pipeline) Name() string {
	return p.name
}

// Stats returns the pipeline's live counters.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Run delivers frames until the source is exhausted or fails, or ctx is done. On return the
// frame channel is closed, the source is closed and the texture reference released. The
// returned error says why the loop ended and is never nil.
//
// The source is also closed as soon as ctx is done, which unblocks sources whose Read ignores
// ctx but returns once closed.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.texture.Release()
	defer close(p.out)

	var closeOnce sync.Once
	closeSource := func() {
		closeOnce.Do(func() {
			if err := p.source.Close(context.Background()); err != nil {
				p.logger.Warnw("error closing image source", "error", err)
			}
		})
	}
	defer closeSource()
	stopWatching := context.AfterFunc(ctx, closeSource)
	defer stopWatching()

	var seq uint64
	for {
		img, release, err := p.source.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if isEndOfStream(err) {
				return errors.Wrapf(ErrImageSourceExhausted, "after %d frames", seq)
			}
			return &imageSourceError{cause: err}
		}
		if img == nil {
			if release != nil {
				release()
			}
			continue
		}

		payload := toRGBAPayload(img, p.target, seq)
		if release != nil {
			release()
		}

		start := p.clk.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.out <- payload:
		}
		p.stats.record(p.clk.Since(start))
		p.texture.MarkFrameAvailable()
		seq++
	}
}
