package feed

import (
	"fmt"
	"time"
)

// The failure taxonomy of the acquisition loop. Every restart decision is made
// off one of these types, so they are all matchable with errors.As().

// StartError means the decoder process could not be launched, or died before
// producing its first byte. Output holds the tail of the decoder's stderr,
// which is usually the only useful diagnostic ffmpeg gives us.
type StartError struct {
	Cause  error
	Output string
}

func (e *StartError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("Failed to start decoder: %v. Stderr: %v", e.Cause, e.Output)
	}
	return fmt.Sprintf("Failed to start decoder: %v", e.Cause)
}

func (e *StartError) Unwrap() error {
	return e.Cause
}

// TimeoutError means a frame read was still blocked after the frame timeout
// expired. The reader goroutine that was waiting on the pipe is abandoned.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timed out after %v waiting for a frame", e.Elapsed)
}

// IncompleteFrameError means the decoder's stdout hit EOF (or a read error)
// in the middle of a frame.
type IncompleteFrameError struct {
	Got  int
	Want int
}

func (e *IncompleteFrameError) Error() string {
	return fmt.Sprintf("Incomplete frame: read %v of %v bytes", e.Got, e.Want)
}

// StalledError means frames stopped arriving for longer than the frame
// timeout, as judged by the health tracker rather than by a single read.
type StalledError struct {
	Quiet time.Duration
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("Stream stalled: no frame for %v", e.Quiet)
}

// FrozenError means frames kept arriving, but their content has not changed
// for longer than the freeze timeout. Some sources fail this way: the decoder
// happily re-emits the last picture it saw forever.
type FrozenError struct {
	Unchanged time.Duration
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("Stream frozen: content unchanged for %v", e.Unchanged)
}

// MaxRetriesExceeded is terminal: the loop gave up after Attempts failed
// acquisition cycles. Last is the failure that broke the camel's back.
type MaxRetriesExceeded struct {
	Attempts int
	Last     error
}

func (e *MaxRetriesExceeded) Error() string {
	return fmt.Sprintf("Giving up after %v failed attempts. Last error: %v", e.Attempts, e.Last)
}

func (e *MaxRetriesExceeded) Unwrap() error {
	return e.Last
}
