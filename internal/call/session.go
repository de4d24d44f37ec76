package call

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/asr"
	"github.com/solvencyai/voicecollect/internal/livestate"
	"github.com/solvencyai/voicecollect/internal/media"
	"github.com/solvencyai/voicecollect/internal/observability/metrics"
	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/internal/telephony"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

// MediaChannel is the duplex audio stream a session owns for its lifetime.
type MediaChannel interface {
	Events() <-chan media.Event
	SendAudio(chunk []byte) error
	Clear() error
	Close() error
}

type transcriptAppender interface {
	AppendTranscript(ctx context.Context, id uuid.UUID, entries ...store.TranscriptEntry) error
}

// State is the session lifecycle. A session never re-enters an earlier
// state; a new call needs a new session.
type State int32

const (
	StateInitiating State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitiating:
		return "initiating"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

type eventKind int

const (
	evStarted eventKind = iota
	evTranscript
	evUtterance
	evReply
	evSpeechEnded
	evPaymentIntent
	evEndIntent
	evClosed
)

type event struct {
	kind      eventKind
	text      string
	isFinal   bool
	utterance string
	reply     string
	flag      bool
	err       error
	startedAt time.Time
}

// SessionConfig carries a session's immutable snapshot and collaborators.
type SessionConfig struct {
	ConversationID uuid.UUID
	Number         string
	Contact        ContactProfile
	Script         Script

	Gateway       telephony.Gateway
	Transcriber   asr.Transcriber
	Responder     *Responder
	Classifier    *Classifier
	Speaker       *Speaker
	Conversations transcriptAppender
	Live          *livestate.Store
	Metrics       *metrics.CallMetrics
	Logger        *logging.Logger

	DebounceWindow time.Duration

	// OnEnded runs exactly once when the session reaches StateEnded.
	OnEnded func(s *Session)
}

// Session owns one live call: the duplex audio channel, the recognition
// stream, the conversation context, and the termination timer. All mutable
// state is written from the session's own event loop.
type Session struct {
	ConversationID uuid.UUID
	Number         string
	Contact        ContactProfile
	Script         Script

	gateway       telephony.Gateway
	transcriber   asr.Transcriber
	responder     *Responder
	classifier    *Classifier
	speaker       *Speaker
	conversations transcriptAppender
	live          *livestate.Store
	metrics       *metrics.CallMetrics
	logger        *logging.Logger
	onEnded       func(s *Session)

	accumulator *Accumulator
	events      chan event
	done        chan struct{}
	endOnce     sync.Once

	state      atomic.Int32
	processing atomic.Bool
	speaking   atomic.Bool

	callSID atomic.Value // string

	// Loop-owned state. Only the event loop touches these.
	history      []Turn
	smsSent      bool
	shouldEnd    bool
	lastEstimate time.Duration
	termTimer    *time.Timer
	speechCancel context.CancelFunc
}

// NewSession builds a session in StateInitiating.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	s := &Session{
		ConversationID: cfg.ConversationID,
		Number:         cfg.Number,
		Contact:        cfg.Contact,
		Script:         cfg.Script,
		gateway:        cfg.Gateway,
		transcriber:    cfg.Transcriber,
		responder:      cfg.Responder,
		classifier:     cfg.Classifier,
		speaker:        cfg.Speaker,
		conversations:  cfg.Conversations,
		live:           cfg.Live,
		metrics:        cfg.Metrics,
		logger:         logger.With("conversation_id", cfg.ConversationID.String(), "number", cfg.Number),
		onEnded:        cfg.OnEnded,
		events:         make(chan event, 64),
		done:           make(chan struct{}),
	}
	s.callSID.Store("")
	s.accumulator = NewAccumulator(cfg.DebounceWindow,
		func() bool { return !s.processing.Load() },
		func(utterance string) {
			s.post(event{kind: evUtterance, utterance: utterance, startedAt: time.Now()})
		},
	)
	return s
}

// SetCallSID binds the provider call identifier once the call is created.
func (s *Session) SetCallSID(sid string) {
	s.callSID.Store(sid)
}

// CallSID returns the provider call identifier, if bound.
func (s *Session) CallSID() string {
	sid, _ := s.callSID.Load().(string)
	return sid
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed when the session reaches StateEnded.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session over an established media channel. It blocks until
// the channel closes or ctx is canceled, then runs the end-of-call hook.
func (s *Session) Run(ctx context.Context, stream MediaChannel) error {
	rec, err := s.transcriber.Start(ctx)
	if err != nil {
		s.logger.Error("recognition stream failed to start", "error", err)
		s.finish(ctx)
		return err
	}
	defer rec.Close()

	go s.pumpMedia(stream, rec)
	go s.pumpTranscripts(rec)

	s.loop(ctx, stream)
	return nil
}

// post delivers an event to the loop unless the session already ended.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) pumpMedia(stream MediaChannel, rec asr.Session) {
	for ev := range stream.Events() {
		switch ev.Type {
		case media.EventStarted:
			s.post(event{kind: evStarted})
		case media.EventAudio:
			if err := rec.Write(ev.Audio); err != nil {
				s.logger.Warn("recognition write failed", "error", err)
			}
		case media.EventError:
			s.logger.Warn("media stream error", "error", ev.Err)
		}
	}
	s.post(event{kind: evClosed})
}

func (s *Session) pumpTranscripts(rec asr.Session) {
	for ev := range rec.Events() {
		if ev.Err != nil {
			// Recognition errors never terminate the call.
			s.logger.Warn("recognition error", "error", ev.Err)
			continue
		}
		s.post(event{kind: evTranscript, text: ev.Text, isFinal: ev.IsFinal})
	}
}

func (s *Session) loop(ctx context.Context, stream MediaChannel) {
	for {
		select {
		case <-ctx.Done():
			// Closing the channel unblocks pumpMedia; its events drain into
			// the closed session harmlessly.
			if err := stream.Close(); err != nil {
				s.logger.Warn("media close failed", "error", err)
			}
			s.finish(context.Background())
			return
		case ev := <-s.events:
			switch ev.kind {
			case evStarted:
				s.handleStarted(ctx, stream)
			case evTranscript:
				s.handleTranscript(ctx, stream, ev)
			case evUtterance:
				s.handleUtterance(ctx, ev)
			case evReply:
				s.handleReply(ctx, stream, ev)
			case evSpeechEnded:
				s.handleSpeechEnded(ev)
			case evPaymentIntent:
				s.handlePaymentIntent(ctx, ev)
			case evEndIntent:
				s.handleEndIntent(ev)
			case evClosed:
				s.finish(ctx)
				return
			}
		}
	}
}

func (s *Session) handleStarted(ctx context.Context, stream MediaChannel) {
	s.state.Store(int32(StateActive))
	s.logger.Info("call active", "call_sid", s.CallSID())
	s.saveLive(ctx, livestate.StatusActive)

	if greeting := strings.TrimSpace(s.Script.Greeting); greeting != "" {
		s.appendTurn(ctx, SpeakerAssistant, greeting)
		s.startSpeaking(ctx, stream, greeting)
	}
}

func (s *Session) handleTranscript(ctx context.Context, stream MediaChannel, ev event) {
	if strings.TrimSpace(ev.text) == "" {
		return
	}
	// The caller is speaking. Flush any queued playback so they are never
	// made to wait to be heard.
	if s.speaking.Load() {
		if err := stream.Clear(); err != nil {
			s.logger.Warn("barge-in clear failed", "error", err)
		}
		s.cancelSpeech()
		s.metrics.ObserveBargeIn()
	}
	if ev.isFinal {
		s.accumulator.AddFinal(ev.text)
	}
}

func (s *Session) handleUtterance(ctx context.Context, ev event) {
	s.processing.Store(true)
	history := make([]Turn, len(s.history))
	copy(history, s.history)

	go func() {
		reply, err := s.responder.Respond(ctx, s.Script, s.Contact, history, ev.utterance)
		s.post(event{kind: evReply, utterance: ev.utterance, reply: reply, err: err, startedAt: ev.startedAt})
	}()
}

func (s *Session) handleReply(ctx context.Context, stream MediaChannel, ev event) {
	s.processing.Store(false)
	if ev.err != nil {
		// The turn is dropped; the session keeps listening.
		s.logger.Error("turn failed", "error", ev.err)
		s.accumulator.Flush()
		return
	}
	s.metrics.ObserveTurnLatency(time.Since(ev.startedAt).Seconds())

	s.appendTurn(ctx, SpeakerUser, ev.utterance)
	s.appendTurn(ctx, SpeakerAssistant, ev.reply)
	if s.live != nil {
		if err := s.live.IncrementTurn(ctx, s.Number); err != nil {
			s.logger.Warn("live turn count update failed", "error", err)
		}
	}

	s.startSpeaking(ctx, stream, ev.reply)

	// Intent classification never blocks playback. Results arrive as events
	// and may land after audio started streaming.
	go s.classify(ctx, ev.utterance, ev.reply)

	s.accumulator.Flush()
}

func (s *Session) handleSpeechEnded(ev event) {
	s.speaking.Store(false)
	s.cancelSpeech()
	if ev.err != nil && ev.err != context.Canceled {
		s.logger.Warn("playback ended with error", "error", ev.err)
	}
	if s.shouldEnd && s.termTimer == nil {
		s.armTermination(time.Second)
	}
}

func (s *Session) handlePaymentIntent(ctx context.Context, ev event) {
	if !ev.flag || s.smsSent {
		return
	}
	s.smsSent = true
	s.logger.Info("payment intent detected, sending sms")

	// Send failure is logged, not retried, and never fails the call.
	go func() {
		err := s.gateway.SendSMS(ctx, s.Script.FromNumber, s.Contact.PhoneNumber, s.Script.SMSTemplate)
		if err != nil {
			s.logger.Error("payment sms failed", "error", err)
			s.metrics.ObservePaymentSMS("failed")
			return
		}
		s.metrics.ObservePaymentSMS("sent")
	}()

	if s.live != nil {
		if state, err := s.live.Get(ctx, s.Number); err == nil && state != nil {
			state.PaymentSMSSent = true
			if err := s.live.Save(ctx, state); err != nil {
				s.logger.Warn("live sms flag update failed", "error", err)
			}
		}
	}
}

func (s *Session) handleEndIntent(ev event) {
	if !ev.flag {
		return
	}
	s.shouldEnd = true
	if s.speaking.Load() {
		// Speech is in flight. Arm for its estimated remaining playback so
		// the farewell is heard before the hangup.
		s.armTermination(s.lastEstimate)
	} else {
		s.armTermination(time.Second)
	}
}

func (s *Session) classify(ctx context.Context, utterance, reply string) {
	sendSMS, err := s.classifier.PaymentIntent(ctx, utterance, reply)
	if err != nil {
		s.logger.Warn("payment intent classification failed", "error", err)
	} else {
		s.post(event{kind: evPaymentIntent, flag: sendSMS})
	}

	endCall, err := s.classifier.ShouldEndCall(ctx, utterance, reply)
	if err != nil {
		s.logger.Warn("end-of-call classification failed", "error", err)
		return
	}
	s.post(event{kind: evEndIntent, flag: endCall})
}

// startSpeaking launches playback for text and computes the duration
// estimate used by termination scheduling. Called only from the loop.
func (s *Session) startSpeaking(ctx context.Context, stream MediaChannel, text string) {
	s.lastEstimate = s.speaker.Estimate(text)
	s.metrics.ObserveTerminationEstimate(s.lastEstimate.Seconds())
	if s.shouldEnd {
		s.armTermination(s.lastEstimate)
	}

	speechCtx, cancel := context.WithCancel(ctx)
	s.speechCancel = cancel
	s.speaking.Store(true)

	go func() {
		err := s.speaker.Stream(speechCtx, stream, text)
		s.post(event{kind: evSpeechEnded, err: err})
	}()
}

// cancelSpeech stops an in-flight playback goroutine. Called only from the
// loop.
func (s *Session) cancelSpeech() {
	if s.speechCancel != nil {
		s.speechCancel()
		s.speechCancel = nil
	}
	s.speaking.Store(false)
}

// armTermination schedules a graceful hangup, replacing any previously
// armed timer. Called only from the loop.
func (s *Session) armTermination(after time.Duration) {
	if s.termTimer != nil {
		s.termTimer.Stop()
	}
	s.logger.Info("termination scheduled", "after", after)
	s.termTimer = time.AfterFunc(after, func() {
		sid := s.CallSID()
		if sid == "" {
			return
		}
		if err := s.gateway.EndCall(context.Background(), sid); err != nil {
			s.logger.Error("graceful hangup failed", "call_sid", sid, "error", err)
		}
	})
}

// appendTurn persists one transcript line and mirrors it in memory. Store
// failures are logged and the call continues; losing a line is accepted
// over dropping the call.
func (s *Session) appendTurn(ctx context.Context, speaker, text string) {
	s.history = append(s.history, Turn{Speaker: speaker, Text: text})

	if s.conversations != nil {
		err := s.conversations.AppendTranscript(ctx, s.ConversationID,
			store.TranscriptEntry{Speaker: speaker, Content: text})
		if err != nil {
			s.logger.Error("transcript append failed", "speaker", speaker, "error", err)
		}
	}
	if s.live != nil {
		err := s.live.AppendTranscript(ctx, s.Number, livestate.TranscriptLine{
			Speaker:   speaker,
			Text:      text,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("live transcript append failed", "error", err)
		}
	}
}

func (s *Session) saveLive(ctx context.Context, status string) {
	if s.live == nil {
		return
	}
	err := s.live.Save(ctx, &livestate.CallState{
		ConversationID: s.ConversationID.String(),
		CallSID:        s.CallSID(),
		PhoneNumber:    s.Number,
		CampaignID:     s.Script.CampaignID.String(),
		Status:         status,
		StartedAt:      time.Now().UTC(),
		LastActivityAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("live state save failed", "error", err)
	}
}

// finish moves the session to StateEnded exactly once and runs the
// end-of-call hook.
func (s *Session) finish(ctx context.Context) {
	s.endOnce.Do(func() {
		s.state.Store(int32(StateEnded))
		s.accumulator.Stop()
		s.cancelSpeech()
		if s.termTimer != nil {
			s.termTimer.Stop()
			s.termTimer = nil
		}
		close(s.done)
		s.logger.Info("call ended", "call_sid", s.CallSID())

		if s.live != nil {
			if err := s.live.MarkEnded(ctx, s.Number); err != nil {
				s.logger.Warn("live state end failed", "error", err)
			}
		}
		if s.onEnded != nil {
			s.onEnded(s)
		}
	})
}
