// Package media implements the duplex audio channel between the telephony
// gateway and a call session, speaking the Twilio Media Streams websocket
// protocol: inbound caller audio arrives as base64 media frames, outbound
// synthesized audio is written back the same way, and a clear frame flushes
// the provider's playback buffer on barge-in.
package media

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// EventType identifies an inbound stream event.
type EventType int

const (
	EventConnected EventType = iota
	EventStarted
	EventAudio
	EventStopped
	EventMark
	EventError
)

// Event is one inbound frame decoded from the websocket.
type Event struct {
	Type  EventType
	Audio []byte // decoded payload for EventAudio
	Mark  string // mark name for EventMark
	Err   error  // set for EventError
}

// ErrStreamClosed is returned by writes after the stream shuts down.
var ErrStreamClosed = errors.New("media: stream closed")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade upgrades an HTTP request from the gateway to a media stream.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Stream, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewStream(ws), nil
}

// Stream is one duplex media connection. Reads are delivered on Events;
// writes go through a single writer goroutine so the websocket only ever
// has one writer.
type Stream struct {
	ws     *websocket.Conn
	events chan Event
	out    chan outboundFrame

	mu        sync.RWMutex
	streamSID string
	callSID   string

	done      chan struct{}
	closeOnce sync.Once
}

type outboundFrame struct {
	payload any
}

// NewStream wraps an established websocket connection and starts its
// read/write loops.
func NewStream(ws *websocket.Conn) *Stream {
	s := &Stream{
		ws:     ws,
		events: make(chan Event, 64),
		out:    make(chan outboundFrame, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

// Events returns the inbound event channel. It is closed when the stream
// ends.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// StreamSID returns the provider stream identifier, available after the
// start frame.
func (s *Stream) StreamSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSID
}

// CallSID returns the provider call identifier, available after the start
// frame.
func (s *Stream) CallSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSID
}

// SendAudio queues one synthesized audio chunk for the far end.
func (s *Stream) SendAudio(chunk []byte) error {
	data := make([]byte, len(chunk))
	copy(data, chunk)

	frame := map[string]any{
		"event":     "media",
		"streamSid": s.StreamSID(),
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(data),
		},
	}
	return s.enqueue(frame)
}

// Clear asks the gateway to drop any buffered, not-yet-played audio. The
// session sends this the moment the caller starts speaking.
func (s *Stream) Clear() error {
	return s.enqueue(map[string]any{
		"event":     "clear",
		"streamSid": s.StreamSID(),
	})
}

// SendMark queues a named mark frame for playback synchronization.
func (s *Stream) SendMark(name string) error {
	return s.enqueue(map[string]any{
		"event":     "mark",
		"streamSid": s.StreamSID(),
		"mark":      map[string]string{"name": name},
	})
}

// Close tears down the connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
	return nil
}

func (s *Stream) enqueue(frame any) error {
	// Shutdown wins over a free buffer slot. Once done is closed the write
	// loop has exited, so a buffered frame would never reach the wire.
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case <-s.done:
		return ErrStreamClosed
	case s.out <- outboundFrame{payload: frame}:
		return nil
	}
}

// wireMessage mirrors the gateway's frame envelope.
type wireMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startFrame   `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markFrame    `json:"mark,omitempty"`
}

type startFrame struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64 encoded audio
}

type markFrame struct {
	Name string `json:"name"`
}

func (s *Stream) readLoop() {
	defer func() {
		_ = s.Close()
		close(s.events)
	}()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(Event{Type: EventError, Err: err})
			}
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.StreamSID != "" {
			s.mu.Lock()
			s.streamSID = msg.StreamSID
			s.mu.Unlock()
		}

		switch msg.Event {
		case "connected":
			s.emit(Event{Type: EventConnected})

		case "start":
			if msg.Start != nil {
				s.mu.Lock()
				s.streamSID = msg.Start.StreamSID
				s.callSID = msg.Start.CallSID
				s.mu.Unlock()
				s.emit(Event{Type: EventStarted})
			}

		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			s.emit(Event{Type: EventAudio, Audio: audio})

		case "mark":
			if msg.Mark != nil {
				s.emit(Event{Type: EventMark, Mark: msg.Mark.Name})
			}

		case "stop":
			s.emit(Event{Type: EventStopped})
			return
		}
	}
}

func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Stream) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if err := s.ws.WriteJSON(frame.payload); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}
