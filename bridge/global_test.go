package bridge

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"go.viam.com/texturebridge/mainthread"
)

func TestPackageLevelEntryPoints(t *testing.T) {
	// Nothing installed yet.
	_, err := CreateStreamingTexture(1)
	test.That(t, errors.Is(err, mainthread.ErrDispatchUnavailable), test.ShouldBeTrue)
	_, err = CreateNativeContextTexture(1)
	test.That(t, errors.Is(err, mainthread.ErrDispatchUnavailable), test.ShouldBeTrue)
	test.That(t, errors.Is(RemoveTexture(1), mainthread.ErrDispatchUnavailable), test.ShouldBeTrue)
	test.That(t, Shutdown(context.Background()), test.ShouldBeNil)

	native := nativeFunc(func(engineHandle int64) (int64, error) { return 77, nil })
	h := newHarness(t, DefaultConfig(), []image.Image{solid(color.Black)}, WithNativeContext(native))
	h.engine.NewContext(42)
	Init(h.bridge)

	d, err := mainthread.Default()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, h.dispatcher)

	id, err := CreateStreamingTexture(42)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, int64(1))

	id, err = CreateNativeContextTexture(42)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, int64(77))

	test.That(t, RemoveTexture(1), test.ShouldBeNil)
	test.That(t, RemoveTexture(1), test.ShouldNotBeNil)

	test.That(t, Shutdown(context.Background()), test.ShouldBeNil)
	_, err = mainthread.Default()
	test.That(t, errors.Is(err, mainthread.ErrDispatchUnavailable), test.ShouldBeTrue)
	_, err = CreateStreamingTexture(42)
	test.That(t, errors.Is(err, mainthread.ErrDispatchUnavailable), test.ShouldBeTrue)

	// A bridge whose main loop died is unavailable too.
	Init(h.bridge)
	h.dispatcher.Stop()
	_, err = CreateStreamingTexture(42)
	test.That(t, errors.Is(err, mainthread.ErrDispatchUnavailable), test.ShouldBeTrue)
	Init(nil)
}
