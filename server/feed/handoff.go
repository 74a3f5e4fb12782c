package feed

import (
	"sync"
)

// Handoff is the single-slot mailbox between the acquisition loop and
// everything that consumes frames. The producer overwrites, consumers clone.
// There is never more than one frame in it, so a slow consumer costs dropped
// frames, not memory.
type Handoff struct {
	lock    sync.Mutex
	slot    *Frame
	seq     int64 // Sequence number of the frame in slot
	taken   bool  // True if the current occupant has been taken at least once
	dropped int64 // Frames overwritten before anybody took them
}

// Publish takes ownership of frame and makes it the latest. The caller must
// not touch frame after publishing.
func (h *Handoff) Publish(frame *Frame) {
	h.lock.Lock()
	if h.slot != nil && !h.taken {
		h.dropped++
	}
	h.seq++
	frame.Seq = h.seq
	h.slot = frame
	h.taken = false
	h.lock.Unlock()
}

// TakeLatest returns a clone of the latest frame, or nil if nothing has been
// published yet. The clone is private to the caller.
func (h *Handoff) TakeLatest() *Frame {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.slot == nil {
		return nil
	}
	h.taken = true
	return h.slot.Clone()
}

// TakeLatestIfNewer is TakeLatest, but returns nil if the slot's sequence
// number is not greater than seen. Pollers use this to skip frames they have
// already processed.
func (h *Handoff) TakeLatestIfNewer(seen int64) *Frame {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.slot == nil || h.seq <= seen {
		return nil
	}
	h.taken = true
	return h.slot.Clone()
}

// Seq returns the sequence number of the latest published frame (0 = none).
func (h *Handoff) Seq() int64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.seq
}

// Dropped returns the number of frames that were overwritten before any
// consumer saw them.
func (h *Handoff) Dropped() int64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.dropped
}
