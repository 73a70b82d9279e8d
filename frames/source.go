package frames

import (
	"context"
	"image"
	"io"
	"sync"

	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// ErrEndOfStream is returned by an ImageSource that has no more frames. io.EOF is treated the
// same way.
var ErrEndOfStream = errors.New("end of image stream")

// An ImageSource produces frames on demand. Read blocks until the next frame is available. The
// returned release function, which may be nil, must be called once the frame's pixels are no
// longer needed.
type ImageSource interface {
	Read(ctx context.Context) (image.Image, func(), error)
	Close(ctx context.Context) error
}

// An ImageSourceFunc turns a read function into an ImageSource with a no-op Close.
type ImageSourceFunc func(ctx context.Context) (image.Image, func(), error)

// Read calls f.
func (f ImageSourceFunc) Read(ctx context.Context) (image.Image, func(), error) {
	return f(ctx)
}

// Close does nothing.
func (f ImageSourceFunc) Close(ctx context.Context) error {
	return nil
}

// isEndOfStream reports whether err means the source ran dry rather than failed.
func isEndOfStream(err error) bool {
	return errors.Is(err, ErrEndOfStream) || errors.Is(err, io.EOF)
}

type videoReaderSource struct {
	reader video.Reader
	closer func() error
}

// FromVideoReader adapts a mediadevices video reader, e.g. a camera track's reader, into an
// ImageSource. closer, when non-nil, runs on Close.
func FromVideoReader(reader video.Reader, closer func() error) ImageSource {
	return &videoReaderSource{reader: reader, closer: closer}
}

type readResult struct {
	img     image.Image
	release func()
	err     error
}

// Read waits for the reader in a separate goroutine so that ctx can end a stalled read. A frame
// that arrives after ctx is done is released right away.
func (vrs *videoReaderSource) Read(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	results := make(chan readResult, 1)
	goutils.PanicCapturingGo(func() {
		img, release, err := vrs.reader.Read()
		results <- readResult{img: img, release: release, err: err}
	})
	select {
	case res := <-results:
		return res.img, res.release, res.err
	case <-ctx.Done():
		goutils.PanicCapturingGo(func() {
			if res := <-results; res.release != nil {
				res.release()
			}
		})
		return nil, nil, ctx.Err()
	}
}

func (vrs *videoReaderSource) Close(ctx context.Context) error {
	if vrs.closer == nil {
		return nil
	}
	return vrs.closer()
}

// SliceSource replays a fixed list of images and then reports ErrEndOfStream.
type SliceSource struct {
	mu     sync.Mutex
	images []image.Image
	next   int
	closed bool
}

// NewSliceSource returns a source yielding imgs in order.
func NewSliceSource(imgs ...image.Image) *SliceSource {
	return &SliceSource{images: imgs}
}

// Read returns the next image.
func (ss *SliceSource) Read(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return nil, nil, errors.New("slice source closed")
	}
	if ss.next >= len(ss.images) {
		return nil, nil, ErrEndOfStream
	}
	img := ss.images[ss.next]
	ss.next++
	return img, nil, nil
}

// Close makes further reads fail.
func (ss *SliceSource) Close(ctx context.Context) error {
	ss.mu.Lock()
	ss.closed = true
	ss.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (ss *SliceSource) Closed() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.closed
}
