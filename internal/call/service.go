package call

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/solvencyai/voicecollect/internal/asr"
	"github.com/solvencyai/voicecollect/internal/livestate"
	"github.com/solvencyai/voicecollect/internal/llm"
	"github.com/solvencyai/voicecollect/internal/observability/metrics"
	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/internal/telephony"
	"github.com/solvencyai/voicecollect/internal/tts"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

// ConversationStore is the persistence surface the orchestration service
// needs for per-call records.
type ConversationStore interface {
	Create(ctx context.Context, campaignID, contactID uuid.UUID, phoneNumber string) (uuid.UUID, error)
	MarkInProgress(ctx context.Context, id uuid.UUID, callSID string) error
	AppendTranscript(ctx context.Context, id uuid.UUID, entries ...store.TranscriptEntry) error
	Finalize(ctx context.Context, id uuid.UUID, status string, durationSeconds int) error
	GetByCallSID(ctx context.Context, callSID string) (store.ConversationRecord, error)
	CancelOpenByCampaign(ctx context.Context, campaignID uuid.UUID) ([]store.ConversationRecord, error)
	StatusesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]string, error)
}

// SubscriptionStore is the usage-account surface for pre-flight checks.
type SubscriptionStore interface {
	ActiveForUser(ctx context.Context, userID uuid.UUID) (store.SubscriptionRecord, error)
	AddUsage(ctx context.Context, id uuid.UUID, expectedUsedSeconds, deltaSeconds int) error
}

// CampaignStore is the campaign-status surface for stop and rollup.
type CampaignStore interface {
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) error
	ForceStatus(ctx context.Context, id uuid.UUID, to string) error
}

// ServiceConfig wires the orchestration service.
type ServiceConfig struct {
	Gateway     telephony.Gateway
	Transcriber asr.Transcriber
	Synthesizer tts.Synthesizer
	LLM         llm.Client

	Conversations ConversationStore
	Subscriptions SubscriptionStore
	Campaigns     CampaignStore
	Registry      *Registry
	Live          *livestate.Store
	Metrics       *metrics.CallMetrics
	Logger        *logging.Logger

	// PublicBaseURL is this service's externally reachable base, used to
	// build the media stream attach point handed to the gateway.
	PublicBaseURL string

	ResponseModel string
	IntentModel   string

	DebounceWindow       time.Duration
	SpeechCharsPerSecond int
	SpeechTrailingBuffer time.Duration

	BillingRetryAttempts  uint
	BillingRetryBaseDelay time.Duration
}

// Service is the orchestration entry point: it runs pre-flight, creates
// sessions, routes inbound media channels to them, and stops campaigns.
type Service struct {
	gateway       telephony.Gateway
	transcriber   asr.Transcriber
	conversations ConversationStore
	subscriptions SubscriptionStore
	campaigns     CampaignStore
	registry      *Registry
	reconciler    *Reconciler
	live          *livestate.Store
	metrics       *metrics.CallMetrics
	logger        *logging.Logger

	responder  *Responder
	classifier *Classifier
	speaker    *Speaker

	publicBaseURL  string
	debounceWindow time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		gateway:        cfg.Gateway,
		transcriber:    cfg.Transcriber,
		conversations:  cfg.Conversations,
		subscriptions:  cfg.Subscriptions,
		campaigns:      cfg.Campaigns,
		registry:       cfg.Registry,
		live:           cfg.Live,
		metrics:        cfg.Metrics,
		logger:         logger,
		responder:      NewResponder(cfg.LLM, cfg.ResponseModel),
		classifier:     NewClassifier(cfg.LLM, cfg.IntentModel),
		speaker:        NewSpeaker(cfg.Synthesizer, cfg.SpeechCharsPerSecond, cfg.SpeechTrailingBuffer),
		publicBaseURL:  cfg.PublicBaseURL,
		debounceWindow: cfg.DebounceWindow,
	}
	s.reconciler = NewReconciler(ReconcilerConfig{
		Gateway:        cfg.Gateway,
		Conversations:  cfg.Conversations,
		Subscriptions:  cfg.Subscriptions,
		Campaigns:      cfg.Campaigns,
		Registry:       cfg.Registry,
		Metrics:        cfg.Metrics,
		Logger:         logger,
		RetryAttempts:  cfg.BillingRetryAttempts,
		RetryBaseDelay: cfg.BillingRetryBaseDelay,
	})
	return s
}

// PlaceCallRequest is the snapshot a call is placed from.
type PlaceCallRequest struct {
	Contact ContactProfile
	Script  Script
}

// PlaceCallResult identifies an accepted call.
type PlaceCallResult struct {
	ConversationID uuid.UUID
	CallSID        string
}

// PlaceCall runs pre-flight, claims the destination number, and requests
// the outbound call from the gateway. Any failure before the gateway
// request returns a typed Rejection and consumes no provider resource.
func (s *Service) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if err := s.preflight(ctx, req); err != nil {
		if r, ok := AsRejection(err); ok {
			s.metrics.ObserveCallRejected(string(r.Kind))
		}
		return PlaceCallResult{}, err
	}

	// The record exists before the session so the session is born with its
	// conversation identity; every log line and transcript write carries it.
	conversationID, err := s.conversations.Create(ctx, req.Script.CampaignID, req.Contact.ID, req.Contact.PhoneNumber)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("create conversation record: %w", err)
	}

	session := NewSession(SessionConfig{
		ConversationID: conversationID,
		Number:         req.Contact.PhoneNumber,
		Contact:        req.Contact,
		Script:         req.Script,
		Gateway:        s.gateway,
		Transcriber:    s.transcriber,
		Responder:      s.responder,
		Classifier:     s.classifier,
		Speaker:        s.speaker,
		Conversations:  s.conversations,
		Live:           s.live,
		Metrics:        s.metrics,
		Logger:         s.logger,
		DebounceWindow: s.debounceWindow,
		OnEnded:        s.reconciler.SessionEnded,
	})
	if err := s.registry.Claim(session); err != nil {
		if finErr := s.conversations.Finalize(ctx, conversationID, store.ConversationFailed, 0); finErr != nil {
			s.logger.Error("failed conversation finalize failed", "error", finErr)
		}
		if r, ok := AsRejection(err); ok {
			s.metrics.ObserveCallRejected(string(r.Kind))
		}
		return PlaceCallResult{}, err
	}

	created, err := s.gateway.CreateCall(ctx, telephony.CreateCallParams{
		To:             req.Contact.PhoneNumber,
		From:           req.Script.FromNumber,
		StreamURL:      s.streamURL(req.Contact.PhoneNumber),
		StatusCallback: s.statusCallbackURL(),
	})
	if err != nil {
		s.registry.Release(req.Contact.PhoneNumber)
		if finErr := s.conversations.Finalize(ctx, conversationID, store.ConversationFailed, 0); finErr != nil {
			s.logger.Error("failed conversation finalize failed", "error", finErr)
		}
		if telephony.IsAuthError(err) {
			s.metrics.ObserveCallRejected(string(RejectAuth))
			return PlaceCallResult{}, reject(RejectAuth, "telephony provider rejected credentials")
		}
		return PlaceCallResult{}, fmt.Errorf("create call: %w", err)
	}

	session.SetCallSID(created.SID)
	if err := s.conversations.MarkInProgress(ctx, conversationID, created.SID); err != nil {
		s.logger.Error("mark in progress failed", "conversation_id", conversationID, "error", err)
	}
	if s.live != nil {
		err := s.live.Save(ctx, &livestate.CallState{
			ConversationID: conversationID.String(),
			CallSID:        created.SID,
			PhoneNumber:    req.Contact.PhoneNumber,
			CampaignID:     req.Script.CampaignID.String(),
			Status:         livestate.StatusInitiating,
			StartedAt:      time.Now().UTC(),
			LastActivityAt: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("live state save failed", "error", err)
		}
	}

	s.metrics.ObserveCallStarted("outbound")
	s.logger.Info("call placed",
		"conversation_id", conversationID,
		"call_sid", created.SID,
		"to", req.Contact.PhoneNumber,
	)
	return PlaceCallResult{ConversationID: conversationID, CallSID: created.SID}, nil
}

func (s *Service) preflight(ctx context.Context, req PlaceCallRequest) error {
	if req.Contact.PhoneNumber == "" {
		return reject(RejectValidation, "contact phone number is required")
	}
	if !ValidNumber(req.Contact.PhoneNumber) {
		return reject(RejectPhoneNumber, "destination %s is not E.164", req.Contact.PhoneNumber)
	}
	if req.Script.FromNumber == "" {
		return reject(RejectQuota, "no originating number configured")
	}
	if !ValidNumber(req.Script.FromNumber) {
		return reject(RejectPhoneNumber, "origin %s is not E.164", req.Script.FromNumber)
	}
	if req.Script.UserID == uuid.Nil {
		return reject(RejectValidation, "user id is required")
	}

	sub, err := s.subscriptions.ActiveForUser(ctx, req.Script.UserID)
	if err != nil {
		if err == store.ErrNotFound {
			return reject(RejectSubscription, "no active subscription")
		}
		return fmt.Errorf("subscription lookup: %w", err)
	}
	if sub.RemainingMinutes() <= 0 {
		return reject(RejectQuota, "no minutes remaining")
	}

	owns, err := s.gateway.OwnsNumber(ctx, req.Script.FromNumber)
	if err != nil {
		if telephony.IsAuthError(err) {
			return reject(RejectAuth, "telephony provider rejected credentials")
		}
		// Ownership lookup is advisory; a transient provider error does
		// not block the call.
		s.logger.Warn("number ownership check failed", "number", req.Script.FromNumber, "error", err)
		return nil
	}
	if !owns {
		return reject(RejectPhoneNumber, "origin %s is not owned by this account", req.Script.FromNumber)
	}
	return nil
}

// AttachStream routes an inbound media channel to the session claimed for
// the number and runs the session to completion.
func (s *Service) AttachStream(ctx context.Context, number string, stream MediaChannel) error {
	session, ok := s.registry.Lookup(number)
	if !ok {
		_ = stream.Close()
		return fmt.Errorf("no active session for %s", number)
	}
	return session.Run(ctx, stream)
}

// StopCampaign cancels every non-terminal conversation in a campaign and
// asks the gateway to end each underlying call. Provider-level stops are
// best effort; the data layer is authoritative and every record is marked
// canceled regardless.
func (s *Service) StopCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	canceled, err := s.conversations.CancelOpenByCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("cancel campaign conversations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, rec := range canceled {
		rec := rec
		if rec.CallSID == "" {
			continue
		}
		g.Go(func() error {
			if err := s.gateway.EndCall(gctx, rec.CallSID); err != nil {
				s.logger.Warn("provider stop failed",
					"call_sid", rec.CallSID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.campaigns.ForceStatus(ctx, campaignID, store.CampaignStopped); err != nil {
		return len(canceled), fmt.Errorf("mark campaign stopped: %w", err)
	}
	s.logger.Info("campaign stopped", "campaign_id", campaignID, "canceled", len(canceled))
	return len(canceled), nil
}

// HandleStatusCallback processes gateway call-status webhooks. Calls that
// never connected finalize here since no media channel ever opens for them.
func (s *Service) HandleStatusCallback(ctx context.Context, callSID, status string) error {
	var final string
	switch status {
	case "no-answer", "busy":
		final = store.ConversationNoAnswer
	case "failed":
		final = store.ConversationFailed
	case "canceled":
		final = store.ConversationCanceled
	default:
		return nil
	}

	rec, err := s.conversations.GetByCallSID(ctx, callSID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("lookup by call sid: %w", err)
	}
	if store.TerminalConversationStatus(rec.Status) {
		return nil
	}

	if err := s.conversations.Finalize(ctx, rec.ID, final, 0); err != nil && err != store.ErrStaleRead {
		return fmt.Errorf("finalize %s: %w", final, err)
	}
	s.registry.Release(rec.PhoneNumber)
	s.logger.Info("call finalized from status callback",
		"call_sid", callSID, "status", status, "final", final)

	if err := s.reconciler.rollUpCampaign(ctx, rec.CampaignID); err != nil {
		s.logger.Error("campaign rollup failed", "campaign_id", rec.CampaignID, "error", err)
	}
	return nil
}

func (s *Service) streamURL(number string) string {
	base := strings.TrimSuffix(s.publicBaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/media-stream/" + url.PathEscape(number)
}

func (s *Service) statusCallbackURL() string {
	return strings.TrimSuffix(s.publicBaseURL, "/") + "/webhooks/twilio/status"
}
