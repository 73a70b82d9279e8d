package frames

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"go.viam.com/texturebridge/engine"
)

// Provider satisfies engine.PayloadProvider from the receive end of a frame channel.
//
// Each poll takes the next queued payload, waiting at most the configured duration for one to
// arrive. When nothing arrives, or the producer has closed the channel, the previous payload is
// returned again. Polling never blocks longer than the wait, and a zero wait never blocks.
type Provider struct {
	rx   <-chan *engine.PixelPayload
	wait time.Duration
	clk  clock.Clock

	// pollMu serializes polls. mu guards the state below and is never held while waiting.
	pollMu sync.Mutex
	mu     sync.Mutex
	last   *engine.PixelPayload
	closed bool

	polls  *atomic.Int64
	fresh  *atomic.Int64
	reused *atomic.Int64
}

// NewProvider returns a provider reading from rx.
func NewProvider(rx <-chan *engine.PixelPayload, wait time.Duration, clk clock.Clock) *Provider {
	if clk == nil {
		clk = clock.New()
	}
	return &Provider{
		rx:     rx,
		wait:   wait,
		clk:    clk,
		polls:  atomic.NewInt64(0),
		fresh:  atomic.NewInt64(0),
		reused: atomic.NewInt64(0),
	}
}

// Payload implements engine.PayloadProvider.
func (p *Provider) Payload() *engine.PixelPayload {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()
	p.polls.Inc()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return p.reuse()
	}

	select {
	case payload, ok := <-p.rx:
		return p.take(payload, ok)
	default:
	}
	if p.wait <= 0 {
		return p.reuse()
	}

	timer := p.clk.Timer(p.wait)
	defer timer.Stop()
	select {
	case payload, ok := <-p.rx:
		return p.take(payload, ok)
	case <-timer.C:
		return p.reuse()
	}
}

func (p *Provider) take(payload *engine.PixelPayload, ok bool) *engine.PixelPayload {
	if !ok {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		return p.reuse()
	}
	p.fresh.Inc()
	p.mu.Lock()
	p.last = payload
	p.mu.Unlock()
	return payload
}

func (p *Provider) reuse() *engine.PixelPayload {
	p.reused.Inc()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Err returns ErrChannelClosed once a poll has observed that the producer went away.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrChannelClosed
	}
	return nil
}

// ProviderStats counts polls by outcome.
type ProviderStats struct {
	Polls  int64
	Fresh  int64
	Reused int64
}

// Stats returns the provider's counters.
func (p *Provider) Stats() ProviderStats {
	return ProviderStats{Polls: p.polls.Load(), Fresh: p.fresh.Load(), Reused: p.reused.Load()}
}
