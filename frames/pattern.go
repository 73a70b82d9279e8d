package frames

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fogleman/gg"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
)

// PatternSource renders an animated color bar test card, paced to the requested frame rate. A
// zero frame rate produces frames as fast as they are read.
type PatternSource struct {
	props    prop.Video
	clk      clock.Clock
	interval time.Duration

	mu     sync.Mutex
	seq    uint64
	next   time.Time
	closed bool
}

// NewPatternSource returns a pattern source of props.Width x props.Height.
func NewPatternSource(props prop.Video, clk clock.Clock) (*PatternSource, error) {
	if props.Width <= 0 || props.Height <= 0 {
		return nil, errors.Errorf("invalid pattern size %dx%d", props.Width, props.Height)
	}
	if props.FrameRate < 0 {
		return nil, errors.Errorf("invalid frame rate %v", props.FrameRate)
	}
	if clk == nil {
		clk = clock.New()
	}
	ps := &PatternSource{props: props, clk: clk}
	if props.FrameRate > 0 {
		ps.interval = time.Duration(float64(time.Second) / float64(props.FrameRate))
	}
	return ps, nil
}

// Properties returns the video properties the source was built with.
func (ps *PatternSource) Properties() prop.Video {
	return ps.props
}

// Read waits for the next frame slot and renders it.
func (ps *PatternSource) Read(ctx context.Context) (image.Image, func(), error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return nil, nil, ErrEndOfStream
	}

	if ps.interval > 0 {
		now := ps.clk.Now()
		if ps.next.IsZero() {
			ps.next = now
		}
		if wait := ps.next.Sub(now); wait > 0 {
			timer := ps.clk.Timer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			case <-timer.C:
			}
		}
		ps.next = ps.next.Add(ps.interval)
	} else if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	img := drawTestCard(ps.props.Width, ps.props.Height, ps.seq)
	ps.seq++
	return img, nil, nil
}

// Close ends the stream.
func (ps *PatternSource) Close(ctx context.Context) error {
	ps.mu.Lock()
	ps.closed = true
	ps.mu.Unlock()
	return nil
}

var testCardBars = [][3]float64{
	{0.75, 0.75, 0.75},
	{0.75, 0.75, 0},
	{0, 0.75, 0.75},
	{0, 0.75, 0},
	{0.75, 0, 0.75},
	{0.75, 0, 0},
	{0, 0, 0.75},
}

func drawTestCard(width, height int, seq uint64) image.Image {
	dc := gg.NewContext(width, height)
	barWidth := float64(width) / float64(len(testCardBars))
	for i, bar := range testCardBars {
		dc.SetRGB(bar[0], bar[1], bar[2])
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth+1, float64(height))
		dc.Fill()
	}

	// A square sweeping left to right makes dropped or repeated frames visible.
	side := math.Max(4, float64(height)/6)
	travel := math.Max(1, float64(width)-side)
	x := math.Mod(float64(seq)*side/4, travel)
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(x, float64(height)-side, side, side)
	dc.Fill()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(fmt.Sprintf("#%d", seq), float64(width)/2, float64(height)/2, 0.5, 0.5)
	return dc.Image()
}
