package frames

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/pion/mediadevices/pkg/io/video"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/texturebridge/logging"
)

// countingSource yields tiny frames as fast as it is read and tracks reads and releases.
func countingSource(reads, releases *atomic.Int64) ImageSource {
	return ImageSourceFunc(func(ctx context.Context) (image.Image, func(), error) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		reads.Inc()
		return solidImage(2, 2, red), func() { releases.Inc() }, nil
	})
}

func TestBackpressureBoundsInFlightFrames(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fc, err := NewFrameChannel(DefaultFrameChannelCapacity)
	test.That(t, err, test.ShouldBeNil)

	reads, releases := atomic.NewInt64(0), atomic.NewInt64(0)
	tex := newStubTexture(1)
	pipeline := NewPipeline(countingSource(reads, releases), fc.Sender(), tex, PipelineConfig{}, nil, logger)
	handle := Start(pipeline, logger)

	// With nobody consuming, the producer fills the channel and then blocks holding one frame.
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, reads.Load(), test.ShouldEqual, int64(3))
	})
	time.Sleep(20 * time.Millisecond)
	test.That(t, reads.Load(), test.ShouldEqual, int64(3))
	test.That(t, handle.Stats().Frames, test.ShouldEqual, int64(2))
	test.That(t, fc.Len(), test.ShouldEqual, 2)

	// A slow consumer receives every frame, in order, and the channel never exceeds capacity.
	const want = 50
	for i := 0; i < want; i++ {
		test.That(t, fc.Len(), test.ShouldBeLessThanOrEqualTo, fc.Cap())
		select {
		case payload := <-fc.Receiver():
			test.That(t, payload.Sequence, test.ShouldEqual, uint64(i))
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
		produced := handle.Stats().Frames
		test.That(t, produced-int64(i+1), test.ShouldBeLessThanOrEqualTo, int64(fc.Cap()))
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	handle.Stop()
	<-handle.Done()
	test.That(t, errors.Is(handle.Err(), context.Canceled), test.ShouldBeTrue)
	test.That(t, releases.Load(), test.ShouldEqual, reads.Load())
	test.That(t, tex.released.Load(), test.ShouldBeTrue)
	test.That(t, tex.marks.Load(), test.ShouldEqual, handle.Stats().Frames)

	// The send end is closed once the pipeline returns.
	for range fc.Receiver() {
	}
}

func TestPipelineSourceError(t *testing.T) {
	logger, observed := logging.NewObservedTestLogger(t)
	fc, err := NewFrameChannel(2)
	test.That(t, err, test.ShouldBeNil)

	errCamera := errors.New("camera unplugged")
	source := ImageSourceFunc(func(ctx context.Context) (image.Image, func(), error) {
		return nil, nil, errCamera
	})
	tex := newStubTexture(1)
	handle := Start(NewPipeline(source, fc.Sender(), tex, PipelineConfig{Name: "cam"}, nil, logger), logger)
	<-handle.Done()
	handle.Stop()

	err = handle.Err()
	test.That(t, errors.Is(err, ErrImageSourceError), test.ShouldBeTrue)
	test.That(t, errors.Is(err, errCamera), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera unplugged")
	test.That(t, tex.released.Load(), test.ShouldBeTrue)
	test.That(t, tex.marks.Load(), test.ShouldEqual, int64(0))

	_, open := <-fc.Receiver()
	test.That(t, open, test.ShouldBeFalse)
	test.That(t, observed.FilterMessage("frame pipeline failed").Len(), test.ShouldEqual, 1)
}

func TestPipelineEOFIsExhaustion(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fc, err := NewFrameChannel(2)
	test.That(t, err, test.ShouldBeNil)

	calls := 0
	source := ImageSourceFunc(func(ctx context.Context) (image.Image, func(), error) {
		calls++
		switch calls {
		case 1:
			return nil, nil, nil
		case 2:
			return solidImage(1, 1, green), nil, nil
		default:
			return nil, nil, io.EOF
		}
	})
	pipeline := NewPipeline(source, fc.Sender(), newStubTexture(1), PipelineConfig{}, nil, logger)
	err = pipeline.Run(context.Background())
	test.That(t, errors.Is(err, ErrImageSourceExhausted), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "after 1 frames")

	// The nil frame was skipped.
	payload := <-fc.Receiver()
	test.That(t, payload.Sequence, test.ShouldEqual, uint64(0))
	test.That(t, firstPixel(payload), test.ShouldResemble, [4]byte{0, 255, 0, 255})
	test.That(t, len(pipeline.Name()), test.ShouldBeGreaterThan, 0)
}

func TestPipelineRescales(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fc, err := NewFrameChannel(2)
	test.That(t, err, test.ShouldBeNil)

	source := NewSliceSource(solidImage(8, 6, blue))
	config := PipelineConfig{TargetSize: image.Pt(4, 3)}
	err = NewPipeline(source, fc.Sender(), newStubTexture(1), config, nil, logger).Run(context.Background())
	test.That(t, errors.Is(err, ErrImageSourceExhausted), test.ShouldBeTrue)

	payload := <-fc.Receiver()
	test.That(t, payload.Width, test.ShouldEqual, 4)
	test.That(t, payload.Height, test.ShouldEqual, 3)
	test.That(t, payload.Stride, test.ShouldEqual, 16)
	test.That(t, payload.Data, test.ShouldHaveLength, 48)
	px := firstPixel(payload)
	test.That(t, px[0], test.ShouldBeLessThan, byte(5))
	test.That(t, px[2], test.ShouldBeGreaterThan, byte(250))
	test.That(t, payload.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 3))
}

func TestPipelineStopWhileBlocked(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fc, err := NewFrameChannel(1)
	test.That(t, err, test.ShouldBeNil)

	reads, releases := atomic.NewInt64(0), atomic.NewInt64(0)
	handle := Start(NewPipeline(countingSource(reads, releases), fc.Sender(), newStubTexture(1), PipelineConfig{}, nil, logger), logger)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, reads.Load(), test.ShouldEqual, int64(2))
	})

	handle.Stop()
	handle.Stop()
	<-handle.Done()
	test.That(t, errors.Is(handle.Err(), context.Canceled), test.ShouldBeTrue)
	test.That(t, handle.Stats().Frames, test.ShouldEqual, int64(1))
	test.That(t, handle.Stats().MaxBlocked, test.ShouldBeGreaterThanOrEqualTo, time.Duration(0))
}

func TestFromVideoReader(t *testing.T) {
	released := 0
	reader := video.ReaderFunc(func() (image.Image, func(), error) {
		return solidImage(3, 3, red), func() { released++ }, nil
	})
	closed := false
	source := FromVideoReader(reader, func() error {
		closed = true
		return nil
	})

	img, release, err := source.Read(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 3)
	release()
	test.That(t, released, test.ShouldEqual, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = source.Read(ctx)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	test.That(t, source.Close(context.Background()), test.ShouldBeNil)
	test.That(t, closed, test.ShouldBeTrue)
	test.That(t, FromVideoReader(reader, nil).Close(context.Background()), test.ShouldBeNil)
}


// stalledReader blocks in Read until unblock is closed, then yields a single frame.
func stalledReader(entered chan<- struct{}, unblock <-chan struct{}, releases *atomic.Int64) video.Reader {
	return video.ReaderFunc(func() (image.Image, func(), error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-unblock
		return solidImage(2, 2, green), func() { releases.Inc() }, nil
	})
}

func waitStopped(t *testing.T, handle *Handle) {
	t.Helper()
	stopped := make(chan struct{})
	go func() {
		handle.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while the camera read was stalled")
	}
}

func TestPipelineStopWhileReaderStalled(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fc, err := NewFrameChannel(1)
	test.That(t, err, test.ShouldBeNil)

	entered, unblock := make(chan struct{}, 1), make(chan struct{})
	releases := atomic.NewInt64(0)
	tex := newStubTexture(1)
	// The reader ignores Close, like a wedged device.
	source := FromVideoReader(stalledReader(entered, unblock, releases), nil)
	handle := Start(NewPipeline(source, fc.Sender(), tex, PipelineConfig{}, nil, logger), logger)
	<-entered

	waitStopped(t, handle)
	test.That(t, errors.Is(handle.Err(), context.Canceled), test.ShouldBeTrue)
	test.That(t, tex.released.Load(), test.ShouldBeTrue)
	_, ok := <-fc.Receiver()
	test.That(t, ok, test.ShouldBeFalse)

	// The frame the stalled read eventually returns is released rather than leaked.
	close(unblock)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, releases.Load(), test.ShouldEqual, int64(1))
	})
}

func TestPipelineStopClosesStalledSource(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fc, err := NewFrameChannel(1)
	test.That(t, err, test.ShouldBeNil)

	entered, unblock := make(chan struct{}, 1), make(chan struct{})
	releases, closes := atomic.NewInt64(0), atomic.NewInt64(0)
	// Closing the track is what ends a pending read.
	source := FromVideoReader(stalledReader(entered, unblock, releases), func() error {
		if closes.Inc() == 1 {
			close(unblock)
		}
		return nil
	})
	handle := Start(NewPipeline(source, fc.Sender(), newStubTexture(1), PipelineConfig{}, nil, logger), logger)
	<-entered

	waitStopped(t, handle)
	test.That(t, errors.Is(handle.Err(), context.Canceled), test.ShouldBeTrue)
	test.That(t, closes.Load(), test.ShouldEqual, int64(1))
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, releases.Load(), test.ShouldEqual, int64(1))
	})
}
