// Package campaign launches call campaigns: it fans a contact list out into
// dial jobs on a queue and works those jobs into placed calls at a staggered
// pace.
package campaign

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Queue carries dial jobs between the launch request and the dial workers.
// Development points it at the in-memory implementation, production at SQS,
// without touching the publisher or dialer.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one queued dial job envelope.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// DialJob is the unit of work: call one contact for one campaign.
type DialJob struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id"`
}

func (j DialJob) encode() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeDialJob(body string) (DialJob, error) {
	var job DialJob
	err := json.Unmarshal([]byte(body), &job)
	return job, err
}
