package offscreen

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/fogleman/gg"
	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/atomic"

	"go.viam.com/texturebridge/engine"
	"go.viam.com/texturebridge/utils"
)

const dialSteps = 60

var (
	dialBackgroundTop    = color.RGBA{R: 0x10, G: 0x20, B: 0x40, A: 0xff}
	dialBackgroundBottom = color.RGBA{R: 0x20, G: 0x60, B: 0x80, A: 0xff}
)

// Texture is one offscreen texture. Its frame counter advances on every tick and Payload
// renders the current frame.
type Texture struct {
	id           int64
	engineHandle int64
	name         string
	width        int
	height       int

	frame     *atomic.Uint64
	available chan struct{}
	ticker    *clock.Ticker
	workers   utils.StoppableWorkers

	mu       sync.Mutex
	rendered *engine.PixelPayload
}

func newTexture(id, engineHandle int64, width, height int, ticker *clock.Ticker) *Texture {
	tex := &Texture{
		id:           id,
		engineHandle: engineHandle,
		name:         uuid.NewString(),
		width:        width,
		height:       height,
		frame:        atomic.NewUint64(0),
		available:    make(chan struct{}, 1),
		ticker:       ticker,
	}
	tex.workers = utils.NewStoppableWorkers(tex.tick)
	return tex
}

// ID returns the texture's id.
func (t *Texture) ID() int64 {
	return t.id
}

// Name returns the texture's random name.
func (t *Texture) Name() string {
	return t.name
}

// Frame returns the current frame number.
func (t *Texture) Frame() uint64 {
	return t.frame.Load()
}

// FrameAvailable receives after at least one tick since the last receive.
func (t *Texture) FrameAvailable() <-chan struct{} {
	return t.available
}

// Payload implements engine.PayloadProvider. Polling twice within a frame returns the same
// payload.
func (t *Texture) Payload() *engine.PixelPayload {
	frame := t.frame.Load()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rendered != nil && t.rendered.Sequence == frame {
		return t.rendered
	}
	t.rendered = engine.NewRGBAPayload(t.render(frame), frame)
	return t.rendered
}

func (t *Texture) tick(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.ticker.C:
		}
		t.frame.Inc()
		select {
		case t.available <- struct{}{}:
		default:
		}
	}
}

func (t *Texture) stop() {
	t.ticker.Stop()
	t.workers.Stop()
}

// render draws a dial whose hand advances one step per frame.
func (t *Texture) render(frame uint64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
	dc := gg.NewContextForRGBA(img)
	w, h := float64(t.width), float64(t.height)

	grad := gg.NewLinearGradient(0, 0, w, h)
	grad.AddColorStop(0, dialBackgroundTop)
	grad.AddColorStop(1, dialBackgroundBottom)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()

	cx, cy := w/2, h/2
	radius := math.Min(w, h) * 0.4
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(math.Max(1, radius/20))
	dc.DrawCircle(cx, cy, radius)
	dc.Stroke()

	angle := float64(frame%dialSteps)/dialSteps*2*math.Pi - math.Pi/2
	// The hand also sweeps the hue wheel once per revolution.
	dc.SetColor(colorful.Hsv(float64(frame%dialSteps)*360/dialSteps, 0.8, 1))
	dc.DrawLine(cx, cy, cx+radius*math.Cos(angle), cy+radius*math.Sin(angle))
	dc.Stroke()

	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored(fmt.Sprintf("%d:%d", t.id, frame), cx, h-radius/4, 0.5, 0.5)
	return img
}
