package feed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// The loop tests drive the real state machine against real child processes.
// Instead of ffmpeg we launch small shell scripts that emit 4x3 BGR frames
// (36 bytes) and misbehave in controlled ways. The scripts ignore the ffmpeg
// style arguments they receive.

const testFrameSize = 4 * 3 * 3
const frameSizeStr = "36"

func writeDecoderScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decoder.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

type eventLog struct {
	lock   sync.Mutex
	events []Event
}

func (e *eventLog) add(ev Event) {
	e.lock.Lock()
	e.events = append(e.events, ev)
	e.lock.Unlock()
}

func (e *eventLog) count(typ EventType) int {
	e.lock.Lock()
	defer e.lock.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %v", what)
}

func newTestFeed(t *testing.T, decoder string, tweak func(*Config)) (*Feed, *eventLog) {
	t.Helper()
	cfg := Config{
		URLs:          []string{"test://source"},
		Width:         4,
		Height:        3,
		FrameTimeout:  300 * time.Millisecond,
		FreezeTimeout: 10 * time.Second,
		MaxRetries:    20,
		RetryDelay:    30 * time.Millisecond,
		RetryDelayMax: 100 * time.Millisecond,
		FFmpeg:        decoder,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	f, err := NewFeed(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	ev := &eventLog{}
	f.OnEvent = ev.add
	return f, ev
}

func closeFeed(t *testing.T, f *Feed) {
	t.Helper()
	f.Close(nil)
	select {
	case <-f.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("Feed did not stop in time")
	}
}

// A source that delivers one frame and then goes quiet must cause exactly one
// restart, after which a healthy source recovers the feed.
func TestLoopStallCausesOneRestart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "second-run")
	script := writeDecoderScript(t, `
if [ -f `+marker+` ]; then
	while :; do head -c `+frameSizeStr+` /dev/urandom; sleep 0.02; done
else
	touch `+marker+`
	head -c `+frameSizeStr+` /dev/urandom
	sleep 60 2>/dev/null
fi`)

	f, ev := newTestFeed(t, script, nil)
	require.NoError(t, f.Start(context.Background()))
	defer closeFeed(t, f)

	waitFor(t, 5*time.Second, "restart and recovery", func() bool {
		return f.Stats().Restarts == 1 && f.State() == StateRunning && f.Stats().FramesRead > 3
	})
	require.Equal(t, 1, ev.count(EventTimeout))
	require.Equal(t, 1, ev.count(EventStarted))
	require.Equal(t, 1, ev.count(EventRecovered))
	require.Equal(t, int64(1), f.Stats().Restarts)
	// Recovery resets the retry counter
	require.Equal(t, int64(0), f.Info().Retries)
}

// A source that keeps delivering the identical frame trips the freeze check,
// and never the stall or timeout checks.
func TestLoopFreezeFiresWithoutStall(t *testing.T) {
	script := writeDecoderScript(t,
		`while :; do head -c `+frameSizeStr+` /dev/zero; sleep 0.02; done`)

	f, ev := newTestFeed(t, script, func(c *Config) {
		c.FrameTimeout = 2 * time.Second
		c.FreezeTimeout = 250 * time.Millisecond
	})
	require.NoError(t, f.Start(context.Background()))
	defer closeFeed(t, f)

	waitFor(t, 5*time.Second, "freeze detection", func() bool {
		return ev.count(EventFrozen) >= 1
	})
	require.Equal(t, 0, ev.count(EventStalled))
	require.Equal(t, 0, ev.count(EventTimeout))
}

// A decoder that cannot launch, with a retry ceiling of 2, terminates after
// exactly 2 attempts.
func TestLoopMaxRetriesTerminates(t *testing.T) {
	f, ev := newTestFeed(t, "/nonexistent-decoder-binary-xyz", func(c *Config) {
		c.MaxRetries = 2
	})
	require.NoError(t, f.Start(context.Background()))

	select {
	case <-f.Stopped():
	case <-time.After(5 * time.Second):
		t.Fatal("Loop did not terminate")
	}

	require.Equal(t, StateTerminated, f.State())
	var terminal *MaxRetriesExceeded
	require.ErrorAs(t, f.Err(), &terminal)
	require.Equal(t, 2, terminal.Attempts)
	var startErr *StartError
	require.ErrorAs(t, terminal.Last, &startErr)

	require.Equal(t, 2, ev.count(EventStartError))
	require.Equal(t, 1, ev.count(EventBackoff))
	require.Equal(t, 1, ev.count(EventTerminated))
}

// A healthy frame resets the retry counter: a source that always delivers one
// frame before dying never reaches the ceiling.
func TestLoopHealthyFrameResetsRetries(t *testing.T) {
	script := writeDecoderScript(t, `head -c `+frameSizeStr+` /dev/urandom`)

	f, _ := newTestFeed(t, script, func(c *Config) {
		c.MaxRetries = 2
	})
	require.NoError(t, f.Start(context.Background()))
	defer closeFeed(t, f)

	waitFor(t, 5*time.Second, "several failure cycles", func() bool {
		return f.Stats().Failures >= 4
	})
	require.NotEqual(t, StateTerminated, f.State())
	require.Nil(t, f.Err())
}

// Shutdown must complete quickly from inside a long backoff sleep.
func TestLoopShutdownFromBackoff(t *testing.T) {
	f, _ := newTestFeed(t, "/nonexistent-decoder-binary-xyz", func(c *Config) {
		c.RetryDelay = 30 * time.Second
		c.RetryDelayMax = 60 * time.Second
	})
	require.NoError(t, f.Start(context.Background()))

	waitFor(t, 3*time.Second, "backoff state", func() bool {
		return f.State() == StateBackoff
	})

	start := time.Now()
	var wg sync.WaitGroup
	f.Close(&wg)
	wg.Wait()
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, StateStopped, f.State())
	require.Nil(t, f.Err())
}

// With a cycle time configured, the loop rotates between URLs without
// counting failures or sleeping backoffs.
func TestLoopRotation(t *testing.T) {
	script := writeDecoderScript(t,
		`while :; do head -c `+frameSizeStr+` /dev/urandom; sleep 0.02; done`)

	f, ev := newTestFeed(t, script, func(c *Config) {
		c.URLs = []string{"test://one", "test://two"}
		c.CycleTime = 150 * time.Millisecond
	})
	require.NoError(t, f.Start(context.Background()))
	defer closeFeed(t, f)

	waitFor(t, 5*time.Second, "rotation", func() bool {
		return f.Stats().Rotations >= 1 && ev.count(EventRotated) >= 1
	})
	require.Equal(t, int64(0), f.Stats().Failures)
	require.Equal(t, int64(0), f.Info().Retries)
}

func TestFeedLatestFrame(t *testing.T) {
	script := writeDecoderScript(t,
		`while :; do head -c `+frameSizeStr+` /dev/urandom; sleep 0.02; done`)

	f, _ := newTestFeed(t, script, nil)
	require.NoError(t, f.Start(context.Background()))
	defer closeFeed(t, f)

	waitFor(t, 5*time.Second, "first frame", func() bool {
		return f.TakeLatest() != nil
	})
	frame := f.TakeLatest()
	require.Len(t, frame.Pixels, testFrameSize)
	require.Equal(t, 4, frame.Width)
	require.Equal(t, 3, frame.Height)

	// Newer frames keep arriving, so the sequence number advances
	seq := frame.Seq
	waitFor(t, 5*time.Second, "newer frame", func() bool {
		return f.TakeLatestIfNewer(seq) != nil
	})
}
