package offscreen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/mediadevices/pkg/prop"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/texturebridge/engine"
	"go.viam.com/texturebridge/engine/fake"
	"go.viam.com/texturebridge/logging"
)

// newTestContext returns a context serving engines 1 and 5.
func newTestContext(t *testing.T, clk clock.Clock) *Context {
	t.Helper()
	logger := logging.NewTestLogger(t)
	eng := fake.NewEngine(logger)
	eng.NewContext(1)
	eng.NewContext(5)
	t.Cleanup(eng.Close)
	c, err := NewContext(prop.Video{Width: 64, Height: 48, FrameRate: 10}, eng, clk, logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, c.Close(context.Background()), test.ShouldBeNil) })
	return c
}

func TestNewContextValidates(t *testing.T) {
	logger := logging.NewTestLogger(t)
	eng := fake.NewEngine(logger)
	t.Cleanup(eng.Close)
	_, err := NewContext(prop.Video{Width: 0, Height: 48, FrameRate: 10}, eng, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewContext(prop.Video{Width: 64, Height: 48}, eng, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewContext(prop.Video{Width: 64, Height: 48, FrameRate: 10}, nil, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCreateTextureUnknownEngine(t *testing.T) {
	c := newTestContext(t, clock.NewMock())
	_, err := c.CreateTexture(99)
	test.That(t, errors.Is(err, engine.ErrEngineResolutionFailed), test.ShouldBeTrue)
	test.That(t, c.Len(), test.ShouldEqual, 0)

	// No id was spent on the failed request.
	id, err := c.CreateTexture(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, int64(1))
}

func TestCreateTextureMintsIDs(t *testing.T) {
	c := newTestContext(t, clock.NewMock())
	var _ engine.NativeContext = c

	first, err := c.CreateTexture(5)
	test.That(t, err, test.ShouldBeNil)
	second, err := c.CreateTexture(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first, test.ShouldEqual, int64(1))
	test.That(t, second, test.ShouldEqual, int64(2))
	test.That(t, c.Len(), test.ShouldEqual, 2)

	a, _ := c.Texture(first)
	b, _ := c.Texture(second)
	test.That(t, a.Name(), test.ShouldNotEqual, b.Name())

	test.That(t, c.RemoveTexture(first), test.ShouldBeNil)
	test.That(t, c.RemoveTexture(first), test.ShouldNotBeNil)
	_, ok := c.Texture(first)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, c.Close(context.Background()), test.ShouldBeNil)
	test.That(t, c.Len(), test.ShouldEqual, 0)
	_, err = c.CreateTexture(5)
	test.That(t, errors.Is(err, engine.ErrTextureCreationFailed), test.ShouldBeTrue)
}

func TestTextureTicksAndRenders(t *testing.T) {
	mock := clock.NewMock()
	c := newTestContext(t, mock)
	id, err := c.CreateTexture(1)
	test.That(t, err, test.ShouldBeNil)
	tex, ok := c.Texture(id)
	test.That(t, ok, test.ShouldBeTrue)

	first := tex.Payload()
	test.That(t, first.Sequence, test.ShouldEqual, uint64(0))
	test.That(t, first.Width, test.ShouldEqual, 64)
	test.That(t, first.Height, test.ShouldEqual, 48)
	test.That(t, first.Data, test.ShouldHaveLength, 64*48*4)
	test.That(t, tex.Payload(), test.ShouldEqual, first)

	mock.Add(100 * time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, tex.Frame(), test.ShouldEqual, uint64(1))
	})
	select {
	case <-tex.FrameAvailable():
	case <-time.After(time.Second):
		t.Fatal("no frame announced")
	}

	next := tex.Payload()
	test.That(t, next, test.ShouldNotEqual, first)
	test.That(t, next.Sequence, test.ShouldEqual, uint64(1))
	test.That(t, next.Data, test.ShouldNotResemble, first.Data)

	// The top-left corner is the gradient background.
	test.That(t, next.Data[3], test.ShouldEqual, byte(0xff))
	test.That(t, next.Data[2], test.ShouldBeGreaterThan, next.Data[0])
}

func TestRemovedTextureStopsTicking(t *testing.T) {
	mock := clock.NewMock()
	c := newTestContext(t, mock)
	id, err := c.CreateTexture(1)
	test.That(t, err, test.ShouldBeNil)
	tex, _ := c.Texture(id)

	test.That(t, c.RemoveTexture(id), test.ShouldBeNil)
	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	test.That(t, tex.Frame(), test.ShouldEqual, uint64(0))
}
