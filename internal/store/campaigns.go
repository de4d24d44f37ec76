package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Campaign statuses. A campaign is pending once queued for dialing,
// in_progress once the first call is placed, and terminal after every
// conversation has ended or the owner stops it.
const (
	CampaignNotStarted = "not_started"
	CampaignPending    = "pending"
	CampaignInProgress = "in_progress"
	CampaignCompleted  = "completed"
	CampaignFailed     = "failed"
	CampaignStopped    = "stopped"
)

// TerminalCampaignStatus reports whether a status ends the campaign.
func TerminalCampaignStatus(status string) bool {
	switch status {
	case CampaignCompleted, CampaignFailed, CampaignStopped:
		return true
	}
	return false
}

type CampaignRecord struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	ListID      uuid.UUID
	Title       string
	AgentName   string
	Goal        string
	Script      string
	Greeting    string
	Tone        string
	SMSTemplate string
	FromNumber  string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CampaignStore persists outbound call campaigns.
type CampaignStore struct {
	pool PgxPool
}

func NewCampaignStore(pool PgxPool) *CampaignStore {
	if pool == nil {
		return nil
	}
	return &CampaignStore{pool: pool}
}

func (s *CampaignStore) Get(ctx context.Context, id uuid.UUID) (CampaignRecord, error) {
	query := `
		SELECT id, user_id, list_id, title, agent_name, goal, script,
			COALESCE(greeting, ''), tone, COALESCE(sms_template, ''),
			from_number, status, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`
	var rec CampaignRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.UserID, &rec.ListID, &rec.Title, &rec.AgentName,
		&rec.Goal, &rec.Script, &rec.Greeting, &rec.Tone, &rec.SMSTemplate,
		&rec.FromNumber, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return CampaignRecord{}, ErrNotFound
	}
	if err != nil {
		return CampaignRecord{}, fmt.Errorf("store: get campaign: %w", err)
	}
	return rec, nil
}

// SetStatus moves a campaign between statuses. The expected status guards
// the transition so concurrent workers cannot double-apply it.
func (s *CampaignStore) SetStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	query := `
		UPDATE campaigns
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	tag, err := s.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("store: set campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRead
	}
	return nil
}

// ForceStatus sets a campaign status unconditionally. Used when stopping a
// campaign, which wins over whatever state the dialer left it in.
func (s *CampaignStore) ForceStatus(ctx context.Context, id uuid.UUID, to string) error {
	query := `
		UPDATE campaigns
		SET status = $2, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, to)
	if err != nil {
		return fmt.Errorf("store: force campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
