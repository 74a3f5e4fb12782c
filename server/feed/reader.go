package feed

import (
	"context"
	"io"
	"time"
)

// frameReader pulls fixed-size frames off the decoder's stdout. The actual
// read happens in a goroutine that we own, so that a read which blocks
// forever (dead network, wedged decoder) costs us a timeout instead of a
// hung loop.
//
// One frameReader serves exactly one process generation. Once a read times
// out the reader is abandoned: the goroutine's late result is thrown away,
// and a fresh process gets a fresh reader. Results never cross generations.
type frameReader struct {
	width     int
	height    int
	frameSize int
	src       io.Reader
	results   chan readResult
	quit      chan struct{}
	abandoned bool
}

type readResult struct {
	frame *Frame
	err   error
}

func newFrameReader(src io.Reader, width, height int) *frameReader {
	r := &frameReader{
		width:     width,
		height:    height,
		frameSize: width * height * 3,
		src:       src,
		results:   make(chan readResult, 1),
		quit:      make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *frameReader) run() {
	for {
		// A fresh buffer every frame. The consumer owns it outright the
		// moment we deliver it, and we never write into it again.
		buf := make([]byte, r.frameSize)
		n, err := io.ReadFull(r.src, buf)
		var res readResult
		if err != nil {
			res = readResult{err: &IncompleteFrameError{Got: n, Want: r.frameSize}}
		} else {
			res = readResult{frame: &Frame{
				Width:  r.width,
				Height: r.height,
				Pixels: buf,
				PTS:    time.Now(),
			}}
		}
		// Once abandoned, late results must be dropped, not delivered
		select {
		case <-r.quit:
			return
		default:
		}
		select {
		case r.results <- res:
		case <-r.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

// ReadFrame waits up to timeout for the next frame. On timeout the reader is
// abandoned and must not be used again.
func (r *frameReader) ReadFrame(ctx context.Context, timeout time.Duration) (*Frame, error) {
	select {
	case res := <-r.results:
		return res.frame, res.err
	case <-time.After(timeout):
		r.Abandon()
		return nil, &TimeoutError{Elapsed: timeout}
	case <-ctx.Done():
		r.Abandon()
		return nil, ctx.Err()
	}
}

// Abandon detaches the reader goroutine. Any result it produces after this
// point is discarded. Idempotent.
func (r *frameReader) Abandon() {
	if !r.abandoned {
		r.abandoned = true
		close(r.quit)
	}
}
