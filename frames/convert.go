package frames

import (
	"image"

	"golang.org/x/image/draw"

	"go.viam.com/texturebridge/engine"
)

// toRGBAPayload copies img into a fresh RGBA buffer so the source frame can be released right
// away. A non-empty target rescales to that size.
func toRGBAPayload(img image.Image, target image.Point, seq uint64) *engine.PixelPayload {
	src := img.Bounds()
	size := src.Size()
	if target.X > 0 && target.Y > 0 {
		size = target
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	if size == src.Size() {
		draw.Copy(dst, image.Point{}, img, src, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}
	return engine.NewRGBAPayload(dst, seq)
}
