package annotate

import (
	"fmt"
	"image"

	"github.com/cyclopcam/livefeed/server/feed"
	"github.com/fogleman/gg"
)

// Draw renders detection boxes (and optionally labels) into the frame,
// in place. Boxes are clamped to the frame bounds first.
func Draw(frame *feed.Frame, dets []Detection, opts *Options) {
	if len(dets) == 0 {
		return
	}
	rgba := bgrToRGBA(frame)
	dc := gg.NewContextForRGBA(rgba)
	dc.SetLineWidth(2)

	for _, det := range dets {
		b := det.Box.Clamp(frame.Width, frame.Height)
		if b.Area() == 0 {
			continue
		}
		dc.SetColor(opts.BoxColor)
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()

		if opts.DrawLabels {
			drawLabel(dc, det, b, opts)
		}
	}
	rgbaToBGR(rgba, frame)
}

func drawLabel(dc *gg.Context, det Detection, b Rect, opts *Options) {
	label := fmt.Sprintf("%v %.2f", det.Class, det.Confidence)
	tw, th := dc.MeasureString(label)
	tx := float64(b.X)
	ty := float64(b.Y) - 4
	if ty-th < 0 {
		// No room above the box, so the label goes inside the top edge
		ty = float64(b.Y) + th + 2
	}
	dc.SetColor(opts.BoxColor)
	dc.DrawRectangle(tx-1, ty-th-1, tw+4, th+4)
	dc.Fill()
	dc.SetRGB(0, 0, 0)
	dc.DrawString(label, tx+1, ty)
}

// The frame pipeline is bgr24 end to end, but gg only draws onto RGBA.

func bgrToRGBA(frame *feed.Frame) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	src := frame.Pixels
	dst := rgba.Pix
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		dst[j] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i]
		dst[j+3] = 255
	}
	return rgba
}

func rgbaToBGR(rgba *image.RGBA, frame *feed.Frame) {
	src := rgba.Pix
	dst := frame.Pixels
	for i, j := 0, 0; i+2 < len(dst); i, j = i+3, j+4 {
		dst[i] = src[j+2]
		dst[i+1] = src[j+1]
		dst[i+2] = src[j]
	}
}
