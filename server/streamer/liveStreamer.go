// Package streamer sends the live annotated frame stream to websocket
// clients.
package streamer

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/livefeed/server/annotate"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

type webSocketMsg int

const (
	webSocketMsgPause  webSocketMsg = iota // pause stream (eg browser tab deactivated)
	webSocketMsgResume                     // resume stream (eg browser tab reactivated)
)

// Sent by client over websocket
type webSocketJSON struct {
	Command string `json:"command"`
}

// Queued data that must be sent over the websocket.
// Either jpeg or detections is non-nil.
type webSocketSendPacket struct {
	jpeg       []byte
	seq        int64
	detections []annotate.Detection
}

// When we send a message on the websocket, it's either a BINARY frame, in
// which case it's a JPEG. Or it's a TEXT frame, in which case it's this.
type webSocketSendStringMessage struct {
	Type       string               `json:"type"` // Only type of message is "detection"
	Detections []annotate.Detection `json:"detections"`
}

// Number of frames that we will buffer on the send side, before dropping
// frames to the sender. JPEG frames are big, so this is much smaller than
// an equivalent packet queue would be.
const WebSocketSendBufferSize = 16

var nextLiveStreamerID int64

type LiveStreamer struct {
	log            logs.Log
	streamerID     int64 // Intended to aid in logging/debugging
	incoming       FrameSinkChan
	closed         atomic.Bool
	paused         atomic.Bool
	fromWebSocket  chan webSocketMsg
	sendQueue      chan webSocketSendPacket
	lastDropMsg    time.Time
	nFramesDropped int64
	nFramesSent    int64
	lastLogTime    time.Time
}

// RunLiveStreamer services one websocket client until either side closes.
func RunLiveStreamer(logger logs.Log, conn *websocket.Conn, hub *Hub) {
	streamerID := atomic.AddInt64(&nextLiveStreamerID, 1)

	streamer := &LiveStreamer{
		incoming:   make(FrameSinkChan, FrameSinkChanDefaultBufferSize),
		streamerID: streamerID,
		log:        logs.NewPrefixLogger(logger, fmt.Sprintf("WebSocket %v", streamerID)),
		sendQueue:  make(chan webSocketSendPacket, WebSocketSendBufferSize),
	}

	streamer.run(conn, hub)
}

func (s *LiveStreamer) onFrame(msg FrameMsg) {
	now := time.Now()
	if len(s.sendQueue) >= WebSocketSendBufferSize {
		s.nFramesDropped++
		if now.Sub(s.lastDropMsg) > 5*time.Second {
			s.log.Infof("Dropped %v/%v frames", s.nFramesDropped, s.nFramesDropped+s.nFramesSent)
			s.lastDropMsg = now
		}
		return
	}
	s.nFramesSent++
	if now.Sub(s.lastLogTime) > 60*time.Second {
		s.log.Infof("Sent %v/%v frames", s.nFramesSent, s.nFramesDropped+s.nFramesSent)
		s.lastLogTime = now
	}
	s.sendQueue <- webSocketSendPacket{
		jpeg: msg.JPEG,
		seq:  msg.Seq,
	}

	if msg.Detections != nil {
		// We really don't want to block here, so detections are best-effort
		// on top of the frames.
		if len(s.sendQueue) >= WebSocketSendBufferSize*3/4 {
			return
		}
		s.sendQueue <- webSocketSendPacket{
			detections: msg.Detections,
		}
	}
}

func (s *LiveStreamer) run(conn *websocket.Conn, hub *Hub) {
	hub.ConnectSink(s.incoming)
	defer hub.RemoveSink(s.incoming)
	defer conn.Close()

	s.fromWebSocket = make(chan webSocketMsg, 1)
	go s.webSocketReader(conn)
	go s.webSocketWriter(conn)

	s.closed.Store(false)
	s.paused.Store(false)
	webSocketClosed := false

	for !s.closed.Load() {
		select {
		case msg := <-s.incoming:
			switch msg.Type {
			case FrameMsgTypeClose:
				s.log.Infof("Run FrameMsgTypeClose")
				s.closed.Store(true)
			case FrameMsgTypeFrame:
				if !s.paused.Load() {
					s.onFrame(msg)
				}
			}
		case wsMsg, ok := <-s.fromWebSocket:
			if !ok {
				s.log.Infof("Run webSocket closed")
				webSocketClosed = true
				s.closed.Store(true)
				break
			}
			switch wsMsg {
			case webSocketMsgPause:
				s.paused.Store(true)
			case webSocketMsgResume:
				s.paused.Store(false)
			}
		}
	}
	close(s.sendQueue)
	if !webSocketClosed {
		conn.Close()
	}
}

// Read from the websocket and post to our own channel, so that we can
// run a single loop that handles reads from websocket and reads from the hub.
func (s *LiveStreamer) webSocketReader(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.TextMessage {
			msg := webSocketJSON{}
			if err := json.Unmarshal(data, &msg); err != nil {
				s.log.Infof("webSocketReader failed to decode JSON: %v", err)
			} else {
				switch msg.Command {
				case "pause":
					s.fromWebSocket <- webSocketMsgPause
				case "resume":
					s.fromWebSocket <- webSocketMsgResume
				default:
					s.log.Infof("Unknown websocket message from client: '%v'", msg.Command)
				}
			}
		}
	}
	close(s.fromWebSocket)
}

// Run a thread that is responsible for writing to the websocket.
// We run this on a separate thread so that if a client (aka browser) is slow,
// it doesn't end up blocking the pump, and we can detect the blockage.
func (s *LiveStreamer) webSocketWriter(conn *websocket.Conn) {
	for {
		pkt, more := <-s.sendQueue
		if !more || s.closed.Load() {
			break
		}
		if s.paused.Load() {
			// When paused, drop all queued frames.
			// This quickly drains the queue, whereafter we stop receiving
			// frames, because the main loop drops them while paused.
			continue
		}
		if pkt.jpeg != nil {
			buf := bytes.Buffer{}
			flags := uint32(0)
			binary.Write(&buf, binary.LittleEndian, flags)
			binary.Write(&buf, binary.LittleEndian, uint32(pkt.seq))
			buf.Write(pkt.jpeg)
			if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
				s.log.Infof("Error writing to websocket %v: %v", s.streamerID, err)
			}
		} else {
			out := webSocketSendStringMessage{
				Type:       "detection",
				Detections: pkt.detections,
			}
			j, err := json.Marshal(&out)
			if err != nil {
				s.log.Errorf("Failed to marshal websocket string message: %v", err)
			} else {
				conn.WriteMessage(websocket.TextMessage, j)
			}
		}
	}
}
