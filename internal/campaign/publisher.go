package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

type campaignStore interface {
	Get(ctx context.Context, id uuid.UUID) (store.CampaignRecord, error)
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) error
}

type contactStore interface {
	Get(ctx context.Context, id uuid.UUID) (store.ContactRecord, error)
	ListByList(ctx context.Context, listID uuid.UUID) ([]store.ContactRecord, error)
}

type subscriptionReader interface {
	ActiveForUser(ctx context.Context, userID uuid.UUID) (store.SubscriptionRecord, error)
}

// Publisher turns a launch request into queued dial jobs, one per contact.
type Publisher struct {
	queue         Queue
	campaigns     campaignStore
	contacts      contactStore
	subscriptions subscriptionReader
	logger        *logging.Logger
}

func NewPublisher(queue Queue, campaigns campaignStore, contacts contactStore, subscriptions subscriptionReader, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:         queue,
		campaigns:     campaigns,
		contacts:      contacts,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// Launch moves a campaign to pending and enqueues one dial job per contact.
// It returns the number of jobs enqueued.
func (p *Publisher) Launch(ctx context.Context, campaignID uuid.UUID) (int, error) {
	rec, err := p.campaigns.Get(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("campaign: load %s: %w", campaignID, err)
	}
	if rec.Status != store.CampaignNotStarted {
		return 0, fmt.Errorf("campaign: %s already launched (status %s)", campaignID, rec.Status)
	}

	contacts, err := p.contacts.ListByList(ctx, rec.ListID)
	if err != nil {
		return 0, fmt.Errorf("campaign: load contacts: %w", err)
	}
	if len(contacts) == 0 {
		return 0, fmt.Errorf("campaign: %s has no contacts", campaignID)
	}

	// Budget at least one minute per contact before committing the batch.
	// Individual calls still run their own pre-flight at dial time.
	if p.subscriptions != nil {
		sub, err := p.subscriptions.ActiveForUser(ctx, rec.UserID)
		if err != nil {
			return 0, fmt.Errorf("campaign: load subscription: %w", err)
		}
		if sub.RemainingMinutes() < len(contacts) {
			return 0, fmt.Errorf("campaign: %s needs %d minutes, %d remaining",
				campaignID, len(contacts), sub.RemainingMinutes())
		}
	}

	if err := p.campaigns.SetStatus(ctx, campaignID, store.CampaignNotStarted, store.CampaignPending); err != nil {
		return 0, fmt.Errorf("campaign: mark pending: %w", err)
	}

	enqueued := 0
	for _, contact := range contacts {
		body, err := DialJob{CampaignID: campaignID, ContactID: contact.ID}.encode()
		if err != nil {
			p.logger.Error("dial job encode failed", "contact_id", contact.ID, "error", err)
			continue
		}
		if err := p.queue.Send(ctx, body); err != nil {
			p.logger.Error("dial job enqueue failed", "contact_id", contact.ID, "error", err)
			continue
		}
		enqueued++
	}

	p.logger.Info("campaign launched",
		"campaign_id", campaignID,
		"contacts", len(contacts),
		"enqueued", enqueued,
	)
	return enqueued, nil
}
