package frames

import (
	"image"
	"image/color"

	"go.uber.org/atomic"

	"go.viam.com/texturebridge/engine"
)

type stubTexture struct {
	id       int64
	marks    *atomic.Int64
	refs     *atomic.Int32
	released *atomic.Bool
}

func newStubTexture(id int64) *stubTexture {
	return &stubTexture{id: id, marks: atomic.NewInt64(0), refs: atomic.NewInt32(1), released: atomic.NewBool(false)}
}

func (st *stubTexture) ID() int64 { return st.id }

func (st *stubTexture) MarkFrameAvailable() { st.marks.Inc() }

func (st *stubTexture) Clone() engine.SendableTexture {
	st.refs.Inc()
	return st
}

func (st *stubTexture) Release() {
	if st.refs.Dec() == 0 {
		st.released.Store(true)
	}
}

// solidImage returns a w x h image filled with c.
func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// firstPixel returns the RGBA bytes of a payload's top-left pixel.
func firstPixel(p *engine.PixelPayload) [4]byte {
	return [4]byte{p.Data[0], p.Data[1], p.Data[2], p.Data[3]}
}

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)
