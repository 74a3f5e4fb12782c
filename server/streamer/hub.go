package streamer

import (
	"sync"

	"github.com/cyclopcam/livefeed/server/annotate"
	"github.com/cyclopcam/logs"
)

type FrameMsgType int

const (
	FrameMsgTypeFrame FrameMsgType = iota // A new annotated JPEG frame
	FrameMsgTypeClose                     // The feed is going away, streamers must exit
)

type FrameMsg struct {
	Type       FrameMsgType
	JPEG       []byte
	Seq        int64
	Detections []annotate.Detection // nil when the detector has not run since the last frame
}

// FrameSinkChan receives frames from the Hub.
type FrameSinkChan chan FrameMsg

const FrameSinkChanDefaultBufferSize = 4

// Hub fans annotated frames out to the connected websocket streamers.
// Publishing never blocks: a sink whose buffer is full just misses that
// frame, and the streamer has its own dropping logic on top of this.
type Hub struct {
	log logs.Log

	lock  sync.Mutex
	sinks []FrameSinkChan
}

func NewHub(logger logs.Log) *Hub {
	return &Hub{
		log: logs.NewPrefixLogger(logger, "Hub"),
	}
}

func (h *Hub) ConnectSink(sink FrameSinkChan) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.sinks = append(h.sinks, sink)
}

func (h *Hub) RemoveSink(sink FrameSinkChan) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for i, s := range h.sinks {
		if s == sink {
			h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
			return
		}
	}
}

// NumSinks is the number of connected streamers.
func (h *Hub) NumSinks() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.sinks)
}

// Publish offers the frame to every sink.
func (h *Hub) Publish(jpg []byte, seq int64, detections []annotate.Detection) {
	msg := FrameMsg{
		Type:       FrameMsgTypeFrame,
		JPEG:       jpg,
		Seq:        seq,
		Detections: detections,
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	for _, sink := range h.sinks {
		select {
		case sink <- msg:
		default:
		}
	}
}

// Close tells every sink to shut down. Sinks added after Close are not
// notified, so the owner must stop accepting connections first.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for _, sink := range h.sinks {
		select {
		case sink <- FrameMsg{Type: FrameMsgTypeClose}:
		default:
			// Sink buffer is full of frames it will never read. Drain one
			// and try again so the close message always lands.
			select {
			case <-sink:
			default:
			}
			select {
			case sink <- FrameMsg{Type: FrameMsgTypeClose}:
			default:
			}
		}
	}
}
