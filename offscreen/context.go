// Package offscreen is a native rendering context that draws its own textures instead of
// reading them from an image source. Each texture renders an animated dial with gg whenever it
// is polled and announces a new frame at a fixed rate.
package offscreen

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"

	"go.viam.com/texturebridge/engine"
	"go.viam.com/texturebridge/logging"
)

// ErrClosed is returned by CreateTexture after Close.
var ErrClosed = errors.New("offscreen context closed")

// Context creates offscreen textures. It satisfies engine.NativeContext.
type Context struct {
	props    prop.Video
	interval time.Duration
	engines  engine.Resolver
	clk      clock.Clock

	mu       sync.Mutex
	nextID   int64
	textures map[int64]*Texture
	closed   bool

	logger logging.Logger
}

// NewContext returns a context whose textures are props.Width x props.Height and tick at
// props.FrameRate. Textures are only created for engine handles that engines resolves.
func NewContext(props prop.Video, engines engine.Resolver, clk clock.Clock, logger logging.Logger) (*Context, error) {
	if engines == nil {
		return nil, errors.New("offscreen context needs an engine resolver")
	}
	if props.Width <= 0 || props.Height <= 0 {
		return nil, errors.Errorf("invalid texture size %dx%d", props.Width, props.Height)
	}
	if props.FrameRate <= 0 {
		return nil, errors.Errorf("frame rate must be positive, got %v", props.FrameRate)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Context{
		props:    props,
		interval: time.Duration(float64(time.Second) / float64(props.FrameRate)),
		engines:  engines,
		clk:      clk,
		nextID:   1,
		textures: map[int64]*Texture{},
		logger:   logger,
	}, nil
}

// CreateTexture implements engine.NativeContext. An engineHandle the resolver does not know
// fails with an engine resolution error.
func (c *Context) CreateTexture(engineHandle int64) (int64, error) {
	if _, err := c.engines.Resolve(engineHandle); err != nil {
		if !errors.Is(err, engine.ErrEngineResolutionFailed) {
			err = engine.NewEngineResolutionError(engineHandle, err)
		}
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, engine.NewTextureCreationError(engineHandle, ErrClosed)
	}
	tex := newTexture(c.nextID, engineHandle, c.props.Width, c.props.Height, c.clk.Ticker(c.interval))
	c.nextID++
	c.textures[tex.id] = tex
	c.logger.Debugw("offscreen texture created", "engine", engineHandle, "texture_id", tex.id, "name", tex.name)
	return tex.id, nil
}

// Texture returns a live texture by id.
func (c *Context) Texture(id int64) (*Texture, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tex, ok := c.textures[id]
	return tex, ok
}

// Len returns the number of live textures.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.textures)
}

// RemoveTexture stops a texture's ticker and forgets it.
func (c *Context) RemoveTexture(id int64) error {
	c.mu.Lock()
	tex, ok := c.textures[id]
	delete(c.textures, id)
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("no offscreen texture %d", id)
	}
	tex.stop()
	return nil
}

// Close stops every texture. Later CreateTexture calls fail.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	textures := c.textures
	c.textures = map[int64]*Texture{}
	c.mu.Unlock()

	for _, tex := range textures {
		tex.stop()
	}
	return nil
}
