// Package fake implements an in-memory host engine. Each texture gets a render goroutine that
// pulls from its payload provider whenever the texture is marked as having a new frame.
package fake

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/texturebridge/engine"
	"go.viam.com/texturebridge/logging"
	"go.viam.com/texturebridge/utils"
)

// Engine is a set of fake engine contexts keyed by handle.
type Engine struct {
	mu       sync.Mutex
	contexts map[int64]*Context
	onThread func() bool
	logger   logging.Logger
}

// NewEngine returns an engine with no contexts.
func NewEngine(logger logging.Logger) *Engine {
	return &Engine{contexts: map[int64]*Context{}, logger: logger}
}

// RequireThread makes Resolve and every CreateTexture fail with engine.ErrWrongThread when
// onThread reports false.
func (e *Engine) RequireThread(onThread func() bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onThread = onThread
	for _, c := range e.contexts {
		c.setThreadCheck(onThread)
	}
}

// NewContext adds a context reachable through handle, replacing any prior one.
func (e *Engine) NewContext(handle int64, opts ...Option) *Context {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := &Context{
		handle:   handle,
		nextID:   1,
		textures: map[int64]*Texture{},
		onThread: e.onThread,
		workers:  utils.NewStoppableWorkers(),
		logger:   e.logger.Sublogger("fake_engine"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if old, ok := e.contexts[handle]; ok {
		old.Close()
	}
	e.contexts[handle] = c
	return c
}

// Resolve implements engine.Resolver.
func (e *Engine) Resolve(handle int64) (engine.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.onThread != nil && !e.onThread() {
		return nil, engine.ErrWrongThread
	}
	c, ok := e.contexts[handle]
	if !ok {
		return nil, engine.NewEngineResolutionError(handle, errors.New("no such engine"))
	}
	return c, nil
}

// Context returns the context for handle.
func (e *Engine) Context(handle int64) (*Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.contexts[handle]
	return c, ok
}

// Close stops the render goroutines of every context.
func (e *Engine) Close() {
	e.mu.Lock()
	contexts := make([]*Context, 0, len(e.contexts))
	for _, c := range e.contexts {
		contexts = append(contexts, c)
	}
	e.contexts = map[int64]*Context{}
	e.mu.Unlock()

	for _, c := range contexts {
		c.Close()
	}
}

// Option configures a Context.
type Option func(*Context)

// WithFirstID makes the context mint texture ids starting at id.
func WithFirstID(id int64) Option {
	return func(c *Context) {
		c.nextID = id
	}
}

// WithCreateError makes every CreateTexture call fail with err.
func WithCreateError(err error) Option {
	return func(c *Context) {
		c.createErr = err
	}
}

// WithHistory bounds how many rendered payloads each texture retains. Zero keeps them all.
func WithHistory(n int) Option {
	return func(c *Context) {
		c.history = n
	}
}

// Context is one fake engine instance.
type Context struct {
	handle  int64
	history int

	mu        sync.Mutex
	nextID    int64
	textures  map[int64]*Texture
	onThread  func() bool
	createErr error
	closed    bool

	workers utils.StoppableWorkers
	logger  logging.Logger
}

func (c *Context) setThreadCheck(onThread func() bool) {
	c.mu.Lock()
	c.onThread = onThread
	c.mu.Unlock()
}

// Handle implements engine.Context.
func (c *Context) Handle() int64 {
	return c.handle
}

// CreateTexture implements engine.Context.
func (c *Context) CreateTexture(provider engine.PayloadProvider) (engine.Texture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onThread != nil && !c.onThread() {
		return nil, engine.ErrWrongThread
	}
	if c.closed {
		return nil, engine.NewTextureCreationError(c.handle, errors.New("engine context closed"))
	}
	if c.createErr != nil {
		return nil, engine.NewTextureCreationError(c.handle, c.createErr)
	}
	if provider == nil {
		return nil, engine.NewTextureCreationError(c.handle, errors.New("nil payload provider"))
	}

	tex := newTexture(c, c.nextID, provider, c.history)
	c.nextID++
	c.textures[tex.id] = tex
	c.workers.AddWorkers(tex.renderLoop)
	c.logger.Debugw("texture created", "engine", c.handle, "texture_id", tex.id)
	return tex, nil
}

// Texture returns a live texture by id.
func (c *Context) Texture(id int64) (*Texture, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tex, ok := c.textures[id]
	return tex, ok
}

// TextureIDs returns the ids of every live texture in ascending order.
func (c *Context) TextureIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.textures))
	for id := range c.textures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Context) unregister(tex *Texture) {
	c.mu.Lock()
	if c.textures[tex.id] == tex {
		delete(c.textures, tex.id)
	}
	c.mu.Unlock()
	c.logger.Debugw("texture released", "engine", c.handle, "texture_id", tex.id)
}

// Close stops all render goroutines. Textures stay readable for assertions.
func (c *Context) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.workers.Stop()
}
