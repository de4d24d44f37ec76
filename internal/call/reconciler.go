package call

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/observability/metrics"
	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/internal/telephony"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

type reconcilerConversations interface {
	Finalize(ctx context.Context, id uuid.UUID, status string, durationSeconds int) error
	StatusesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]string, error)
}

type reconcilerSubscriptions interface {
	ActiveForUser(ctx context.Context, userID uuid.UUID) (store.SubscriptionRecord, error)
	AddUsage(ctx context.Context, id uuid.UUID, expectedUsedSeconds, deltaSeconds int) error
}

type reconcilerCampaigns interface {
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

// Reconciler finalizes a call after its channel closes: it stamps the
// conversation terminal, bills the provider's authoritative duration
// against the subscription, rolls the campaign status up once every member
// call has ended, and frees the session's number.
type Reconciler struct {
	gateway       telephony.Gateway
	conversations reconcilerConversations
	subscriptions reconcilerSubscriptions
	campaigns     reconcilerCampaigns
	registry      *Registry
	metrics       *metrics.CallMetrics
	logger        *logging.Logger

	retryAttempts  uint
	retryBaseDelay time.Duration
}

type ReconcilerConfig struct {
	Gateway        telephony.Gateway
	Conversations  reconcilerConversations
	Subscriptions  reconcilerSubscriptions
	Campaigns      reconcilerCampaigns
	Registry       *Registry
	Metrics        *metrics.CallMetrics
	Logger         *logging.Logger
	RetryAttempts  uint
	RetryBaseDelay time.Duration
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Reconciler{
		gateway:        cfg.Gateway,
		conversations:  cfg.Conversations,
		subscriptions:  cfg.Subscriptions,
		campaigns:      cfg.Campaigns,
		registry:       cfg.Registry,
		metrics:        cfg.Metrics,
		logger:         logger,
		retryAttempts:  attempts,
		retryBaseDelay: delay,
	}
}

// SessionEnded runs the full end-of-call reconciliation. It is invoked
// exactly once per session, after the media channel is confirmed closed.
func (r *Reconciler) SessionEnded(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer r.registry.Release(s.Number)

	logger := r.logger.With("conversation_id", s.ConversationID.String(), "call_sid", s.CallSID())

	duration := r.providerDuration(ctx, s.CallSID(), logger)

	if err := r.conversations.Finalize(ctx, s.ConversationID, store.ConversationCompleted, duration); err != nil {
		if errors.Is(err, store.ErrStaleRead) {
			// Already finalized, e.g. by a campaign stop. Billing and
			// rollup still run.
			logger.Info("conversation already terminal")
		} else {
			logger.Error("conversation finalize failed", "error", err)
		}
	}

	if err := r.billUsage(ctx, s.Script.UserID, duration); err != nil {
		logger.Error("usage billing failed", "duration_seconds", duration, "error", err)
		r.metrics.ObserveReconciliation("billing_failed")
	} else {
		r.metrics.ObserveReconciliation("billed")
	}

	if err := r.rollUpCampaign(ctx, s.Script.CampaignID); err != nil {
		logger.Error("campaign rollup failed", "error", err)
	}
}

// providerDuration fetches the call's realized duration from the gateway.
// The estimate used for hangup timing never reaches billing; this value is
// the only input.
func (r *Reconciler) providerDuration(ctx context.Context, callSID string, logger *logging.Logger) int {
	if callSID == "" {
		return 0
	}
	var duration int
	err := retry.Do(
		func() error {
			rec, err := r.gateway.GetCall(ctx, callSID)
			if err != nil {
				return err
			}
			duration = rec.DurationSeconds()
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.retryAttempts),
		retry.Delay(r.retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logger.Error("provider duration lookup failed", "error", err)
		return 0
	}
	return duration
}

// billUsage adds the realized duration to the subscription's used seconds.
// Each attempt re-reads the row, so a concurrent call finishing for the
// same account moves the expected value forward instead of losing the
// update.
func (r *Reconciler) billUsage(ctx context.Context, userID uuid.UUID, durationSeconds int) error {
	if durationSeconds <= 0 {
		return nil
	}
	return retry.Do(
		func() error {
			sub, err := r.subscriptions.ActiveForUser(ctx, userID)
			if err != nil {
				return err
			}
			return r.subscriptions.AddUsage(ctx, sub.ID, sub.UsedSeconds, durationSeconds)
		},
		retry.Context(ctx),
		retry.Attempts(r.retryAttempts),
		retry.Delay(r.retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, store.ErrStaleRead)
		}),
		retry.LastErrorOnly(true),
	)
}

// rollUpCampaign moves the campaign terminal once every member conversation
// is terminal: completed when all completed, failed otherwise.
func (r *Reconciler) rollUpCampaign(ctx context.Context, campaignID uuid.UUID) error {
	if campaignID == uuid.Nil {
		return nil
	}
	statuses, err := r.conversations.StatusesByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		return nil
	}

	allCompleted := true
	for _, status := range statuses {
		if !store.TerminalConversationStatus(status) {
			return nil
		}
		if status != store.ConversationCompleted {
			allCompleted = false
		}
	}

	final := store.CampaignCompleted
	if !allCompleted {
		final = store.CampaignFailed
	}
	err = r.campaigns.SetStatus(ctx, campaignID, store.CampaignInProgress, final)
	if errors.Is(err, store.ErrStaleRead) {
		// Another reconciler rolled the campaign up first.
		return nil
	}
	return err
}
