package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmharper/ringbuffer"
)

// Number of recent frame arrivals we keep for the rolling FPS estimate
const fpsWindowSize = 90

// feedStats are the running counters of one feed. The atomic counters are
// written from the acquisition loop and read from the API without locks; the
// arrival ring needs its own lock.
type feedStats struct {
	framesRead atomic.Int64
	bytesRead  atomic.Int64
	failures   atomic.Int64
	restarts   atomic.Int64
	rotations  atomic.Int64

	lock     sync.Mutex
	arrivals ringbuffer.WeightedRingT[time.Time]
}

func newFeedStats() *feedStats {
	return &feedStats{
		arrivals: ringbuffer.NewWeightedRingT[time.Time](fpsWindowSize),
	}
}

func (s *feedStats) onFrame(at time.Time, nbytes int) {
	s.framesRead.Add(1)
	s.bytesRead.Add(int64(nbytes))
	s.lock.Lock()
	s.arrivals.Add(1, &at)
	s.lock.Unlock()
}

// fps estimates the recent frame rate from the arrival ring. Returns 0 until
// we have at least two samples.
func (s *feedStats) fps() float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := s.arrivals.Len()
	if n < 2 {
		return 0
	}
	_, first, _ := s.arrivals.Peek(0)
	_, last, _ := s.arrivals.Peek(n - 1)
	elapsed := last.Sub(*first).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(n-1) / elapsed
}

// StatsSnapshot is the wire form of the counters, for /api/feed/stats.
type StatsSnapshot struct {
	FramesRead    int64   `json:"framesRead"`
	BytesRead     int64   `json:"bytesRead"`
	FramesDropped int64   `json:"framesDropped"`
	Failures      int64   `json:"failures"`
	Restarts      int64   `json:"restarts"`
	Rotations     int64   `json:"rotations"`
	FPS           float64 `json:"fps"`
}

func (s *feedStats) snapshot(dropped int64) StatsSnapshot {
	return StatsSnapshot{
		FramesRead:    s.framesRead.Load(),
		BytesRead:     s.bytesRead.Load(),
		FramesDropped: dropped,
		Failures:      s.failures.Load(),
		Restarts:      s.restarts.Load(),
		Rotations:     s.rotations.Load(),
		FPS:           s.fps(),
	}
}
