package server

import (
	"context"
	"errors"
	"time"

	"github.com/cyclopcam/livefeed/server/annotate"
	"github.com/cyclopcam/livefeed/server/feed"
	"github.com/cyclopcam/livefeed/server/framedir"
)

// runPump moves frames from the feed to the consumers: annotate in place,
// compress once, then fan out to the websocket hub, the frames directory,
// and the latest-frame cache. A single goroutine runs this.
func (s *Server) runPump(ctx context.Context) {
	defer close(s.pumpStopped)

	// Pace output at the configured display rate. The feed may deliver
	// faster; TakeLatestIfNewer skips us forward, so we never build a
	// backlog of stale frames.
	interval := time.Second / time.Duration(s.cfg.Feed.FPS)
	lastSeq := int64(0)
	nextAt := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		if wait := time.Until(nextAt); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}
		frame := s.feed.TakeLatestIfNewer(lastSeq)
		if frame == nil {
			// Nothing new yet. The feed may be down, or just between frames.
			select {
			case <-time.After(5 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		lastSeq = frame.Seq
		nextAt = time.Now().Add(interval)
		s.pumpFrame(ctx, frame)
	}
}

func (s *Server) pumpFrame(ctx context.Context, frame *feed.Frame) {
	// detections stays nil unless the detector ran on this very frame, so
	// websocket clients only get a detection message when there is news.
	var detections []annotate.Detection
	if s.annotator != nil {
		before := s.annotator.LastDetectAt()
		fresh := s.annotator.Annotate(ctx, frame)
		if !s.annotator.LastDetectAt().Equal(before) {
			detections = fresh
		}
	}

	jpg, err := frame.JPEG(s.cfg.Output.Quality)
	if err != nil {
		s.pumpLogThrottled("Failed to compress frame %v: %v", frame.Seq, err)
		return
	}

	s.setLatest(jpg, frame.Seq, frame.PTS)
	s.hub.Publish(jpg, frame.Seq, detections)

	if s.frameDir != nil {
		// The sink logs its own low-disk warning, so we stay quiet on that.
		if _, err := s.frameDir.WriteJPEG(jpg); err != nil && !errors.Is(err, framedir.ErrLowDiskSpace) {
			s.pumpLogThrottled("Failed to write frame to %v: %v", s.cfg.Output.FramesDir, err)
		}
	}
}

func (s *Server) pumpLogThrottled(format string, args ...any) {
	now := time.Now()
	if now.Sub(s.lastPumpLogTime) > 15*time.Second {
		s.Log.Warnf(format, args...)
		s.lastPumpLogTime = now
	}
}
