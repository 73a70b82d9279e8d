// Package frames moves pixel payloads from an image source to a host engine texture: a
// Pipeline pushes converted frames into a bounded FrameChannel and a Provider hands them to
// the engine when it polls.
package frames

import (
	"github.com/pkg/errors"

	"go.viam.com/texturebridge/engine"
)

// DefaultFrameChannelCapacity bounds the number of in-flight frames per texture.
const DefaultFrameChannelCapacity = 2

// ErrChannelClosed is returned when one side of a frame channel has gone away.
var ErrChannelClosed = errors.New("frame channel closed")

// FrameChannel is a bounded single-producer queue of payloads. A full channel blocks the
// producer, which throttles capture to the render rate.
type FrameChannel struct {
	ch chan *engine.PixelPayload
}

// NewFrameChannel returns a channel holding at most capacity payloads.
func NewFrameChannel(capacity int) (*FrameChannel, error) {
	if capacity < 1 {
		return nil, errors.Errorf("frame channel capacity must be at least 1, got %d", capacity)
	}
	return &FrameChannel{ch: make(chan *engine.PixelPayload, capacity)}, nil
}

// Cap returns the channel's capacity.
func (fc *FrameChannel) Cap() int {
	return cap(fc.ch)
}

// Len returns the number of queued payloads.
func (fc *FrameChannel) Len() int {
	return len(fc.ch)
}

// Sender returns the producer end.
func (fc *FrameChannel) Sender() chan<- *engine.PixelPayload {
	return fc.ch
}

// Receiver returns the consumer end.
func (fc *FrameChannel) Receiver() <-chan *engine.PixelPayload {
	return fc.ch
}
