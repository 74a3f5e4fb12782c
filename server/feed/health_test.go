package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthHashSemantics(t *testing.T) {
	h := newHealth(5*time.Second, 10*time.Second, 1)
	t0 := time.Now()

	// First frame sets both timestamps
	h.OnFrame([]byte{1, 2, 3}, t0)
	require.Equal(t, t0, h.lastFrameAt)
	require.Equal(t, t0, h.lastChangeAt)

	// Identical content advances only lastFrameAt
	t1 := t0.Add(time.Second)
	h.OnFrame([]byte{1, 2, 3}, t1)
	require.Equal(t, t1, h.lastFrameAt)
	require.Equal(t, t0, h.lastChangeAt)

	// Changed content advances both
	t2 := t0.Add(2 * time.Second)
	h.OnFrame([]byte{9, 9, 9}, t2)
	require.Equal(t, t2, h.lastFrameAt)
	require.Equal(t, t2, h.lastChangeAt)

	// The invariant holds throughout: a change can only be observed by an
	// arrival, so lastChangeAt never leads lastFrameAt
	require.False(t, h.lastChangeAt.After(h.lastFrameAt))
}

func TestHealthStallAndFreezeAreIndependent(t *testing.T) {
	h := newHealth(5*time.Second, 10*time.Second, 1)
	t0 := time.Now()
	h.OnFrame([]byte{1}, t0)

	// Keep feeding the identical frame every second: never stalled, but
	// frozen once the freeze timeout passes
	now := t0
	for i := 0; i < 15; i++ {
		now = now.Add(time.Second)
		h.OnFrame([]byte{1}, now)
	}
	_, stalled := h.CheckStalled(now)
	_, frozen := h.CheckFrozen(now)
	require.False(t, stalled)
	require.True(t, frozen)

	// Conversely: fresh content, then silence. Stalled fires, frozen only
	// fires later (freezeTimeout > frameTimeout).
	h2 := newHealth(5*time.Second, 10*time.Second, 1)
	h2.OnFrame([]byte{42}, t0)
	quietTime := t0.Add(7 * time.Second)
	q, stalled2 := h2.CheckStalled(quietTime)
	_, frozen2 := h2.CheckFrozen(quietTime)
	require.True(t, stalled2)
	require.Equal(t, 7*time.Second, q)
	require.False(t, frozen2)
}

func TestHealthBeforeFirstFrame(t *testing.T) {
	h := newHealth(time.Second, 2*time.Second, 1)
	_, stalled := h.CheckStalled(time.Now().Add(time.Hour))
	_, frozen := h.CheckFrozen(time.Now().Add(time.Hour))
	require.False(t, stalled)
	require.False(t, frozen)
	st := h.State(time.Now())
	require.True(t, st.LastFrameAt.IsZero())
}

func TestHealthSampledHashing(t *testing.T) {
	h := newHealth(5*time.Second, 10*time.Second, 3)
	t0 := time.Now()

	// Frames 1..6: only frames 1 and 4 are hashed. The changed content on
	// frames 2 and 3 goes unnoticed; the change on frame 4 is seen.
	h.OnFrame([]byte{1}, t0)
	require.Equal(t, t0, h.lastChangeAt)

	h.OnFrame([]byte{2}, t0.Add(1*time.Second))
	h.OnFrame([]byte{3}, t0.Add(2*time.Second))
	require.Equal(t, t0, h.lastChangeAt)
	require.Equal(t, t0.Add(2*time.Second), h.lastFrameAt)

	h.OnFrame([]byte{4}, t0.Add(3*time.Second))
	require.Equal(t, t0.Add(3*time.Second), h.lastChangeAt)
}
