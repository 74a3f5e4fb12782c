package eventdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type EventType string

const (
	EventTypeStarted         EventType = "started"         // Decoder delivered its first frame
	EventTypeRecovered       EventType = "recovered"       // First frame after one or more failures
	EventTypeTimeout         EventType = "timeout"         // Frame read timed out
	EventTypeIncompleteFrame EventType = "incompleteFrame" // Decoder output ended mid-frame
	EventTypeStalled         EventType = "stalled"         // Frames stopped arriving
	EventTypeFrozen          EventType = "frozen"          // Frames kept arriving but stopped changing
	EventTypeStartError      EventType = "startError"      // Decoder failed to launch
	EventTypeBackoff         EventType = "backoff"         // Waiting before the next attempt
	EventTypeRotated         EventType = "rotated"         // Planned switch to the next source URL
	EventTypeTerminated      EventType = "terminated"      // Retry ceiling reached, gave up
)

// Event is one entry in the acquisition lifecycle history.
type Event struct {
	BaseModel
	Time      dbh.IntTime                 `json:"time"`
	EventType EventType                   `json:"eventType"`
	Detail    *dbh.JSONField[EventDetail] `json:"detail"`
}

type EventDetail struct {
	URL     string `json:"url,omitempty"`     // Source URL the decoder was reading
	Attempt int    `json:"attempt,omitempty"` // Consecutive failure count at the time
	Message string `json:"message,omitempty"` // Error text, stderr tail, etc
	DelayMS int64  `json:"delayMS,omitempty"` // Backoff delay, for backoff events
}
