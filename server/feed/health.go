package feed

import (
	"crypto/md5"
	"sync"
	"time"
)

// health tracks whether frames are arriving, and whether their content is
// actually changing. The two are independent failure modes: a source can go
// quiet (stalled), or keep pumping out the identical picture (frozen).
//
// lastChangeAt can never be ahead of lastFrameAt: a change is only ever
// observed by the arrival of a frame.
//
// The acquisition loop writes, the API reads, so all state is behind a lock.
type health struct {
	frameTimeout  time.Duration
	freezeTimeout time.Duration
	hashEveryNth  int

	lock         sync.Mutex
	frameCount   int64
	lastHash     [md5.Size]byte
	hashValid    bool
	lastFrameAt  time.Time
	lastChangeAt time.Time
}

func newHealth(frameTimeout, freezeTimeout time.Duration, hashEveryNth int) *health {
	if hashEveryNth < 1 {
		hashEveryNth = 1
	}
	return &health{
		frameTimeout:  frameTimeout,
		freezeTimeout: freezeTimeout,
		hashEveryNth:  hashEveryNth,
	}
}

// OnFrame records the arrival of a frame. Hashing is the expensive part, so
// it can be sampled (hashEveryNth > 1); unsampled frames still count as
// arrivals. The first hashed frame counts as a change.
func (h *health) OnFrame(pixels []byte, now time.Time) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.frameCount++
	h.lastFrameAt = now
	if h.lastChangeAt.IsZero() {
		h.lastChangeAt = now
	}
	if (h.frameCount-1)%int64(h.hashEveryNth) != 0 {
		return
	}
	hash := md5.Sum(pixels)
	if !h.hashValid || hash != h.lastHash {
		h.lastChangeAt = now
	}
	h.lastHash = hash
	h.hashValid = true
}

// CheckStalled returns the quiet duration if no frame has arrived within the
// frame timeout.
func (h *health) CheckStalled(now time.Time) (time.Duration, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.checkStalledNoLock(now)
}

func (h *health) checkStalledNoLock(now time.Time) (time.Duration, bool) {
	if h.lastFrameAt.IsZero() {
		return 0, false
	}
	quiet := now.Sub(h.lastFrameAt)
	return quiet, quiet > h.frameTimeout
}

// CheckFrozen returns the unchanged duration if the content has not changed
// within the freeze timeout.
func (h *health) CheckFrozen(now time.Time) (time.Duration, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.checkFrozenNoLock(now)
}

func (h *health) checkFrozenNoLock(now time.Time) (time.Duration, bool) {
	if h.lastChangeAt.IsZero() {
		return 0, false
	}
	unchanged := now.Sub(h.lastChangeAt)
	return unchanged, unchanged > h.freezeTimeout
}

// Snapshot of health for the API.
type HealthState struct {
	LastFrameAt  time.Time `json:"lastFrameAt"`
	LastChangeAt time.Time `json:"lastChangeAt"`
	Stalled      bool      `json:"stalled"`
	Frozen       bool      `json:"frozen"`
}

func (h *health) State(now time.Time) HealthState {
	h.lock.Lock()
	defer h.lock.Unlock()
	_, stalled := h.checkStalledNoLock(now)
	_, frozen := h.checkFrozenNoLock(now)
	return HealthState{
		LastFrameAt:  h.lastFrameAt,
		LastChangeAt: h.lastChangeAt,
		Stalled:      stalled,
		Frozen:       frozen,
	}
}
