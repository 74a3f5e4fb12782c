// Package annotate runs object detection over the live frame stream and
// burns the results into the frames.
package annotate

import (
	"context"
	"image/color"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/livefeed/server/feed"
	"github.com/cyclopcam/logs"
)

type Options struct {
	TargetClasses       []string   // Classes we care about. Empty = all of them
	BoxColor            color.RGBA // Box and label background color
	DrawLabels          bool       // Draw "class 0.87" labels above boxes
	ConfidenceThreshold float32    // Discard detections below this
	EveryNth            int        // Run the detector on every Nth frame, reuse boxes in between
	JPEGQuality         int        // Quality of the JPEG we send to the detector
}

func DefaultOptions() Options {
	return Options{
		TargetClasses:       []string{"person"},
		BoxColor:            color.RGBA{R: 0, G: 255, B: 0, A: 255},
		DrawLabels:          true,
		ConfidenceThreshold: 0.3,
		EveryNth:            3,
		JPEGQuality:         85,
	}
}

// Annotator runs detection on a thinned subset of frames and draws the most
// recent detections onto every frame. Detection is much more expensive than
// drawing, and boxes from a frame or two ago are still where the objects are.
type Annotator struct {
	log      logs.Log
	opts     Options
	detector Detector

	lock           sync.Mutex
	lastDetections []Detection
	lastDetectAt   time.Time
	frameCount     int64
	lastErrLogTime time.Time
}

func NewAnnotator(logger logs.Log, detector Detector, opts Options) *Annotator {
	if opts.EveryNth < 1 {
		opts.EveryNth = 1
	}
	return &Annotator{
		log:      logs.NewPrefixLogger(logger, "Annotate"),
		opts:     opts,
		detector: detector,
	}
}

// Annotate draws into the frame, in place. Every Nth frame is sent to the
// detector first; the frames in between reuse the previous detections.
// A detector failure is not the frame's problem: we log it (throttled) and
// carry on with the boxes we have.
func (a *Annotator) Annotate(ctx context.Context, frame *feed.Frame) []Detection {
	a.lock.Lock()
	count := a.frameCount
	a.frameCount++
	a.lock.Unlock()

	if a.detector != nil && count%int64(a.opts.EveryNth) == 0 {
		a.detect(ctx, frame)
	}

	dets := a.Detections()
	Draw(frame, dets, &a.opts)
	return dets
}

func (a *Annotator) detect(ctx context.Context, frame *feed.Frame) {
	jpg, err := frame.JPEG(a.opts.JPEGQuality)
	if err != nil {
		a.logThrottled("Failed to encode frame for detector: %v", err)
		return
	}
	objects, err := a.detector.DetectJPEG(ctx, jpg)
	if err != nil {
		a.logThrottled("Detector failed: %v", err)
		return
	}
	kept := a.filter(objects)

	a.lock.Lock()
	a.lastDetections = kept
	a.lastDetectAt = time.Now()
	a.lock.Unlock()
}

func (a *Annotator) filter(objects []Detection) []Detection {
	kept := []Detection{}
	for _, obj := range objects {
		if obj.Confidence < a.opts.ConfidenceThreshold {
			continue
		}
		if len(a.opts.TargetClasses) != 0 && !containsClass(a.opts.TargetClasses, obj.Class) {
			continue
		}
		kept = append(kept, obj)
	}
	return kept
}

// Detections returns a copy of the most recent detector output.
func (a *Annotator) Detections() []Detection {
	a.lock.Lock()
	defer a.lock.Unlock()
	dets := make([]Detection, len(a.lastDetections))
	copy(dets, a.lastDetections)
	return dets
}

// LastDetectAt is when the detector last answered successfully.
func (a *Annotator) LastDetectAt() time.Time {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.lastDetectAt
}

func (a *Annotator) logThrottled(format string, args ...any) {
	a.lock.Lock()
	defer a.lock.Unlock()
	now := time.Now()
	if now.Sub(a.lastErrLogTime) > 15*time.Second {
		a.log.Warnf(format, args...)
		a.lastErrLogTime = now
	}
}

func containsClass(classes []string, class string) bool {
	for _, c := range classes {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}
