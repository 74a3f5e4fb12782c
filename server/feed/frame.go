package feed

import (
	"time"

	"github.com/bmharper/cimg/v2"
)

// Frame is one decoded picture, exactly Width*Height*3 bytes of packed BGR,
// the decoder's native output order. PTS is the wall-clock time we finished
// reading it (the raw pipe carries no timestamps). Seq is assigned by the
// handoff when the frame is published.
type Frame struct {
	Width  int
	Height int
	Pixels []byte
	PTS    time.Time
	Seq    int64
}

// Clone returns a deep copy. Everything downstream of the handoff works on
// clones, so no two goroutines ever share pixel memory.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Pixels = make([]byte, len(f.Pixels))
	copy(c.Pixels, f.Pixels)
	return &c
}

// Image wraps the pixels in a cimg image, without copying.
func (f *Frame) Image() *cimg.Image {
	return cimg.WrapImage(f.Width, f.Height, cimg.PixelFormatBGR, f.Pixels)
}

// JPEG compresses the frame. quality is 1..100.
func (f *Frame) JPEG(quality int) ([]byte, error) {
	return cimg.Compress(f.Image(), cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}
