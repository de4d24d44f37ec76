package campaign

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/call"
	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

type caller interface {
	PlaceCall(ctx context.Context, req call.PlaceCallRequest) (call.PlaceCallResult, error)
}

type conversationRecorder interface {
	Create(ctx context.Context, campaignID, contactID uuid.UUID, phoneNumber string) (uuid.UUID, error)
	Finalize(ctx context.Context, id uuid.UUID, status string, durationSeconds int) error
}

// Dialer works dial jobs off the queue: it loads the campaign and contact,
// places the call, and paces itself so the telephony account is not flooded.
type Dialer struct {
	queue         Queue
	caller        caller
	campaigns     campaignStore
	contacts      contactStore
	conversations conversationRecorder
	logger        *logging.Logger

	batchSize   int
	waitSeconds int
	stagger     time.Duration
}

type DialerConfig struct {
	Queue         Queue
	Caller        caller
	Campaigns     campaignStore
	Contacts      contactStore
	Conversations conversationRecorder
	Logger        *logging.Logger

	BatchSize   int
	WaitSeconds int
	Stagger     time.Duration
}

func NewDialer(cfg DialerConfig) *Dialer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 5
	}
	wait := cfg.WaitSeconds
	if wait <= 0 {
		wait = 10
	}
	return &Dialer{
		queue:         cfg.Queue,
		caller:        cfg.Caller,
		campaigns:     cfg.Campaigns,
		contacts:      cfg.Contacts,
		conversations: cfg.Conversations,
		logger:        logger,
		batchSize:     batch,
		waitSeconds:   wait,
		stagger:       cfg.Stagger,
	}
}

// Run consumes dial jobs until ctx is canceled.
func (d *Dialer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		messages, err := d.queue.Receive(ctx, d.batchSize, d.waitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			d.logger.Error("dial queue receive failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			d.handle(ctx, msg)
			if err := d.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
				d.logger.Warn("dial job delete failed", "message_id", msg.ID, "error", err)
			}
			if d.stagger > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d.stagger):
				}
			}
		}
	}
}

func (d *Dialer) handle(ctx context.Context, msg Message) {
	job, err := decodeDialJob(msg.Body)
	if err != nil {
		d.logger.Error("dial job decode failed", "message_id", msg.ID, "error", err)
		return
	}
	logger := d.logger.With("campaign_id", job.CampaignID.String(), "contact_id", job.ContactID.String())

	rec, err := d.campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		logger.Error("campaign load failed", "error", err)
		return
	}
	if store.TerminalCampaignStatus(rec.Status) {
		// The campaign was stopped after this job was queued.
		logger.Info("dropping dial job for terminal campaign", "status", rec.Status)
		return
	}
	if rec.Status == store.CampaignPending {
		err := d.campaigns.SetStatus(ctx, job.CampaignID, store.CampaignPending, store.CampaignInProgress)
		if err != nil && !errors.Is(err, store.ErrStaleRead) {
			logger.Error("campaign start transition failed", "error", err)
		}
	}

	contact, err := d.contacts.Get(ctx, job.ContactID)
	if err != nil {
		logger.Error("contact load failed", "error", err)
		return
	}

	result, err := d.caller.PlaceCall(ctx, call.PlaceCallRequest{
		Contact: call.ContactProfile{
			ID:          contact.ID,
			Name:        contact.FullName(),
			PhoneNumber: contact.PhoneNumber,
			AmountDue:   contact.AmountDue,
			Currency:    contact.Currency,
			DueDate:     contact.DueDate,
			Notes:       contact.Notes,
		},
		Script: call.Script{
			CampaignID:   rec.ID,
			UserID:       rec.UserID,
			AgentName:    rec.AgentName,
			Goal:         rec.Goal,
			Instructions: rec.Script,
			Greeting:     rec.Greeting,
			Tone:         rec.Tone,
			SMSTemplate:  rec.SMSTemplate,
			FromNumber:   rec.FromNumber,
		},
	})
	if err != nil {
		logger.Warn("dial failed", "error", err)
		d.recordRejectedDial(ctx, job, contact.PhoneNumber)
		return
	}
	logger.Info("dialed contact", "call_sid", result.CallSID, "conversation_id", result.ConversationID)
}

// recordRejectedDial writes a failed conversation for a dial that never
// reached the provider, so the campaign rollup still accounts for the
// contact.
func (d *Dialer) recordRejectedDial(ctx context.Context, job DialJob, phoneNumber string) {
	id, err := d.conversations.Create(ctx, job.CampaignID, job.ContactID, phoneNumber)
	if err != nil {
		d.logger.Error("rejected dial record failed", "contact_id", job.ContactID, "error", err)
		return
	}
	if err := d.conversations.Finalize(ctx, id, store.ConversationFailed, 0); err != nil {
		d.logger.Error("rejected dial finalize failed", "conversation_id", id, "error", err)
	}
}
