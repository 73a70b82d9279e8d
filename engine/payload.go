package engine

import (
	"fmt"
	"image"

	"github.com/pion/mediadevices/pkg/frame"
)

// PixelPayload is one frame of raw pixels. Payloads are immutable once handed to a provider;
// the same pointer may be returned to the engine more than once.
type PixelPayload struct {
	Width    int
	Height   int
	Stride   int
	Format   frame.Format
	Data     []byte
	Sequence uint64
}

// NewRGBAPayload wraps an RGBA image without copying its pixels.
func NewRGBAPayload(img *image.RGBA, seq uint64) *PixelPayload {
	bounds := img.Bounds()
	return &PixelPayload{
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Stride:   img.Stride,
		Format:   frame.FormatRGBA,
		Data:     img.Pix,
		Sequence: seq,
	}
}

// Bounds returns the payload's pixel rectangle anchored at the origin.
func (p *PixelPayload) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.Width, p.Height)
}

func (p *PixelPayload) String() string {
	return fmt.Sprintf("%s %dx%d #%d", p.Format, p.Width, p.Height, p.Sequence)
}
