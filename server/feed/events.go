package feed

import "time"

// EventType classifies a lifecycle event of the acquisition loop.
type EventType string

const (
	EventStarted         EventType = "started"          // First frame of a decoder generation arrived
	EventRecovered       EventType = "recovered"        // First frame after one or more failures
	EventTimeout         EventType = "timeout"          // Blocked read exceeded the frame timeout
	EventIncompleteFrame EventType = "incompleteFrame"  // EOF in the middle of a frame
	EventStalled         EventType = "stalled"          // No frame within the frame timeout
	EventFrozen          EventType = "frozen"           // Content unchanged beyond the freeze timeout
	EventStartError      EventType = "startError"       // Decoder failed to launch
	EventBackoff         EventType = "backoff"          // Restart scheduled after a delay
	EventRotated         EventType = "rotated"          // Planned switch to the next source URL
	EventTerminated      EventType = "terminated"       // Retry ceiling reached, loop gave up
)

// Event is what the loop reports to whoever is listening (the server logs it
// and writes it to the event DB).
type Event struct {
	Time    time.Time
	Type    EventType
	URL     string
	Attempt int           // Consecutive failures so far
	Delay   time.Duration // Backoff delay, for EventBackoff
	Detail  string        // Error text or other human-readable detail
}
