package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/solvencyai/voicecollect/pkg/logging"
)

// AssemblyAIClient opens realtime transcription sessions against the
// AssemblyAI websocket API.
type AssemblyAIClient struct {
	apiKey      string
	realtimeURL string
	sampleRate  int
	logger      *logging.Logger
}

// AssemblyAIConfig configures the realtime client.
type AssemblyAIConfig struct {
	APIKey      string
	RealtimeURL string
	SampleRate  int
	Logger      *logging.Logger
}

var _ Transcriber = (*AssemblyAIClient)(nil)

// NewAssemblyAIClient creates a realtime transcription client.
func NewAssemblyAIClient(cfg AssemblyAIConfig) (*AssemblyAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("asr: api key is required")
	}
	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = "wss://api.assemblyai.com/v2/realtime/ws"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AssemblyAIClient{
		apiKey:      cfg.APIKey,
		realtimeURL: cfg.RealtimeURL,
		sampleRate:  cfg.SampleRate,
		logger:      cfg.Logger,
	}, nil
}

// Start dials the realtime endpoint and begins a recognition session.
func (c *AssemblyAIClient) Start(ctx context.Context) (Session, error) {
	url := fmt.Sprintf("%s?sample_rate=%d&encoding=pcm_mulaw", c.realtimeURL, c.sampleRate)

	header := http.Header{}
	header.Set("Authorization", c.apiKey)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("asr: realtime dial failed: %w", err)
	}

	sess := &realtimeSession{
		ws:     ws,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go sess.readLoop()
	return sess, nil
}

type realtimeSession struct {
	ws     *websocket.Conn
	events chan Event
	logger *logging.Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// realtimeMessage mirrors the provider's result envelope.
type realtimeMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
}

func (s *realtimeSession) Write(audio []byte) error {
	select {
	case <-s.done:
		return errors.New("asr: session closed")
	default:
	}

	payload, err := json.Marshal(map[string]string{
		"audio_data": base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteMessage(websocket.TextMessage, payload)
}

func (s *realtimeSession) Events() <-chan Event {
	return s.events
}

func (s *realtimeSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.ws.WriteMessage(websocket.TextMessage, []byte(`{"terminate_session":true}`))
		s.writeMu.Unlock()
		_ = s.ws.Close()
	})
	return nil
}

func (s *realtimeSession) readLoop() {
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
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.emit(Event{Err: err})
				}
			}
			return
		}

		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.MessageType {
		case "PartialTranscript":
			if msg.Text != "" {
				s.emit(Event{Text: msg.Text, IsFinal: false})
			}
		case "FinalTranscript":
			if msg.Text != "" {
				s.emit(Event{Text: msg.Text, IsFinal: true})
			}
		case "SessionTerminated":
			return
		default:
			if msg.Error != "" {
				s.emit(Event{Err: errors.New(msg.Error)})
			}
		}
	}
}

func (s *realtimeSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
