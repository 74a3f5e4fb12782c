package feed

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// errRotate is returned by runOnce when the cycle timer expires. It is a
// planned stop: no retry is counted and no backoff is slept.
var errRotate = errors.New("Rotating to next source URL")

// run is the acquisition state machine. It owns the decoder process for its
// whole life: Starting -> Running -> Failed -> Backoff -> Starting again,
// until the context is cancelled or the retry ceiling is reached
// (Terminated). There is never more than one decoder process alive.
func (f *Feed) run(ctx context.Context) {
	defer close(f.stopped)

	attempt := 0
	for {
		if ctx.Err() != nil {
			f.setState(StateStopped)
			return
		}
		f.setState(StateStarting)
		url := f.pickURL()
		err := f.runOnce(ctx, url, &attempt)

		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			f.setState(StateStopped)
			return
		}
		if errors.Is(err, errRotate) {
			f.stats.rotations.Add(1)
			f.emit(Event{Type: EventRotated, URL: url})
			continue
		}

		f.setState(StateFailed)
		f.stats.failures.Add(1)
		f.setLastErr(err)
		attempt++
		f.retries.Store(int64(attempt))
		f.Log.Errorf("Acquisition failed (attempt %v): %v", attempt, err)
		if tail := f.lastStderr(); tail != "" {
			f.Log.Infof("Decoder stderr: %v", tail)
		}
		f.emit(failureEvent(err, url, attempt))

		if f.cfg.MaxRetries > 0 && attempt >= f.cfg.MaxRetries {
			terminal := &MaxRetriesExceeded{Attempts: attempt, Last: err}
			f.setLastErr(terminal)
			f.setState(StateTerminated)
			f.Log.Criticalf("%v", terminal)
			f.emit(Event{Type: EventTerminated, URL: url, Attempt: attempt, Detail: terminal.Error()})
			return
		}

		delay := backoffDelay(attempt, f.cfg.RetryDelay, f.cfg.RetryDelayMax)
		f.setState(StateBackoff)
		f.Log.Infof("Restarting decoder in %v", delay)
		f.emit(Event{Type: EventBackoff, URL: url, Attempt: attempt, Delay: delay})
		if !sleepCtx(ctx, delay) {
			f.setState(StateStopped)
			return
		}
		f.stats.restarts.Add(1)
	}
}

// runOnce drives a single decoder generation from start until its first
// failure (or a planned rotation). The returned error says why it ended.
func (f *Feed) runOnce(ctx context.Context, url string, attempt *int) error {
	proc, err := startProcess(f.Log, f.cfg.FFmpeg, decoderArgs(url, f.cfg.Width, f.cfg.Height))
	if err != nil {
		f.setStderr("")
		return err
	}
	defer proc.Stop()
	defer func() { f.setStderr(proc.StderrTail()) }()

	reader := newFrameReader(proc.stdout, f.cfg.Width, f.cfg.Height)
	defer reader.Abandon()

	hl := newHealth(f.cfg.FrameTimeout, f.cfg.FreezeTimeout, f.cfg.HashEveryNth)
	f.setHealth(hl)
	f.setCurrentURL(url)
	f.Log.Infof("Decoder started (pid %v) on %v", proc.cmd.Process.Pid, url)

	var cycleDeadline time.Time
	if f.cfg.CycleTime > 0 && len(f.cfg.URLs) > 1 {
		cycleDeadline = time.Now().Add(f.cfg.CycleTime)
	}

	frames := 0
	for {
		frame, err := reader.ReadFrame(ctx, f.cfg.FrameTimeout)
		if err != nil {
			return err
		}
		now := frame.PTS
		frames++
		if frames == 1 {
			recovered := *attempt
			// A healthy frame is the only thing that resets the retry
			// counter. A decoder that starts fine but never delivers must
			// keep eating into the ceiling.
			*attempt = 0
			f.retries.Store(0)
			f.setState(StateRunning)
			f.Log.Infof("First frame after %.1fs", proc.Age().Seconds())
			ev := Event{Type: EventStarted, URL: url, Detail: proc.Age().Truncate(time.Millisecond).String()}
			if recovered > 0 {
				ev.Type = EventRecovered
				ev.Attempt = recovered
			}
			f.emit(ev)
		}
		hl.OnFrame(frame.Pixels, now)
		f.stats.onFrame(now, len(frame.Pixels))
		f.handoff.Publish(frame)

		if quiet, stalled := hl.CheckStalled(time.Now()); stalled {
			return &StalledError{Quiet: quiet}
		}
		if unchanged, frozen := hl.CheckFrozen(time.Now()); frozen {
			return &FrozenError{Unchanged: unchanged}
		}
		if !cycleDeadline.IsZero() && time.Now().After(cycleDeadline) {
			return errRotate
		}
	}
}

// pickURL chooses the source for the next decoder generation.
func (f *Feed) pickURL() string {
	if len(f.cfg.URLs) == 1 {
		return f.cfg.URLs[0]
	}
	if f.cfg.Shuffle {
		return f.cfg.URLs[rand.Intn(len(f.cfg.URLs))]
	}
	url := f.cfg.URLs[f.urlIdx%len(f.cfg.URLs)]
	f.urlIdx++
	return url
}

func failureEvent(err error, url string, attempt int) Event {
	ev := Event{URL: url, Attempt: attempt, Detail: err.Error()}
	var startErr *StartError
	var timeoutErr *TimeoutError
	var incompleteErr *IncompleteFrameError
	var stalledErr *StalledError
	var frozenErr *FrozenError
	switch {
	case errors.As(err, &startErr):
		ev.Type = EventStartError
	case errors.As(err, &timeoutErr):
		ev.Type = EventTimeout
	case errors.As(err, &incompleteErr):
		ev.Type = EventIncompleteFrame
	case errors.As(err, &stalledErr):
		ev.Type = EventStalled
	case errors.As(err, &frozenErr):
		ev.Type = EventFrozen
	default:
		ev.Type = EventStartError
	}
	return ev
}

// sleepCtx sleeps for d, but returns early (false) if the context is
// cancelled. This is what makes backoff interruptible.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
