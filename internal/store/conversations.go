package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Conversation statuses. A conversation starts not_started, moves to
// in_progress when the provider call is created, and terminates exactly once.
const (
	ConversationNotStarted = "not_started"
	ConversationInProgress = "in_progress"
	ConversationCompleted  = "completed"
	ConversationFailed     = "failed"
	ConversationNoAnswer   = "no_answer"
	ConversationCanceled   = "canceled"
)

// TerminalConversationStatus reports whether a status ends the conversation.
func TerminalConversationStatus(status string) bool {
	switch status {
	case ConversationCompleted, ConversationFailed, ConversationNoAnswer, ConversationCanceled:
		return true
	}
	return false
}

type ConversationRecord struct {
	ID              uuid.UUID
	CampaignID      uuid.UUID
	ContactID       uuid.UUID
	PhoneNumber     string
	CallSID         string
	Status          string
	DurationSeconds int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TranscriptEntry is one attributed line of a conversation, ordered by Seq.
type TranscriptEntry struct {
	Seq     int
	Speaker string
	Content string
}

// ConversationStore persists per-call conversation records and transcripts.
type ConversationStore struct {
	pool PgxPool
}

func NewConversationStore(pool PgxPool) *ConversationStore {
	if pool == nil {
		return nil
	}
	return &ConversationStore{pool: pool}
}

// Create inserts a not_started conversation for a campaign contact and
// returns its id.
func (s *ConversationStore) Create(ctx context.Context, campaignID, contactID uuid.UUID, phoneNumber string) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO conversations (id, campaign_id, contact_id, phone_number, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.pool.Exec(ctx, query, id, campaignID, contactID, phoneNumber, ConversationNotStarted); err != nil {
		return uuid.Nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return id, nil
}

// Get returns a conversation by id.
func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (ConversationRecord, error) {
	query := `
		SELECT id, campaign_id, contact_id, phone_number,
			COALESCE(call_sid, ''), status, COALESCE(duration_seconds, 0),
			created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	var rec ConversationRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.PhoneNumber,
		&rec.CallSID, &rec.Status, &rec.DurationSeconds,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConversationRecord{}, ErrNotFound
	}
	if err != nil {
		return ConversationRecord{}, fmt.Errorf("store: get conversation: %w", err)
	}
	return rec, nil
}

// GetByCallSID returns the conversation bound to a provider call.
func (s *ConversationStore) GetByCallSID(ctx context.Context, callSID string) (ConversationRecord, error) {
	query := `
		SELECT id, campaign_id, contact_id, phone_number,
			COALESCE(call_sid, ''), status, COALESCE(duration_seconds, 0),
			created_at, updated_at
		FROM conversations
		WHERE call_sid = $1
	`
	var rec ConversationRecord
	err := s.pool.QueryRow(ctx, query, callSID).Scan(
		&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.PhoneNumber,
		&rec.CallSID, &rec.Status, &rec.DurationSeconds,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConversationRecord{}, ErrNotFound
	}
	if err != nil {
		return ConversationRecord{}, fmt.Errorf("store: get conversation by call sid: %w", err)
	}
	return rec, nil
}

// MarkInProgress binds the provider call SID and moves the conversation to
// in_progress. Only a not_started conversation transitions.
func (s *ConversationStore) MarkInProgress(ctx context.Context, id uuid.UUID, callSID string) error {
	query := `
		UPDATE conversations
		SET status = $2, call_sid = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, query, id, ConversationInProgress, callSID, ConversationNotStarted)
	if err != nil {
		return fmt.Errorf("store: mark conversation in progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRead
	}
	return nil
}

// AppendTranscript adds ordered lines to a conversation's transcript. Each
// entry's position is assigned from the current max sequence, so appends of
// two lines in one call keep their relative order.
func (s *ConversationStore) AppendTranscript(ctx context.Context, id uuid.UUID, entries ...TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := `
		INSERT INTO conversation_turns (conversation_id, seq, speaker, content)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3
		FROM conversation_turns
		WHERE conversation_id = $1
	`
	for _, e := range entries {
		if _, err := s.pool.Exec(ctx, query, id, e.Speaker, e.Content); err != nil {
			return fmt.Errorf("store: append transcript: %w", err)
		}
	}
	return nil
}

// Transcript returns the ordered transcript for a conversation.
func (s *ConversationStore) Transcript(ctx context.Context, id uuid.UUID) ([]TranscriptEntry, error) {
	query := `
		SELECT seq, speaker, content
		FROM conversation_turns
		WHERE conversation_id = $1
		ORDER BY seq
	`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("store: load transcript: %w", err)
	}
	defer rows.Close()

	var entries []TranscriptEntry
	for rows.Next() {
		var e TranscriptEntry
		if err := rows.Scan(&e.Seq, &e.Speaker, &e.Content); err != nil {
			return nil, fmt.Errorf("store: scan transcript row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Finalize records the terminal status and billed duration. A conversation
// already in a terminal state is left untouched so the first finalizer wins.
func (s *ConversationStore) Finalize(ctx context.Context, id uuid.UUID, status string, durationSeconds int) error {
	if !TerminalConversationStatus(status) {
		return fmt.Errorf("store: finalize with non-terminal status %q", status)
	}
	query := `
		UPDATE conversations
		SET status = $2, duration_seconds = $3, updated_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5, $6, $7)
	`
	tag, err := s.pool.Exec(ctx, query, id, status, durationSeconds,
		ConversationCompleted, ConversationFailed, ConversationNoAnswer, ConversationCanceled)
	if err != nil {
		return fmt.Errorf("store: finalize conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRead
	}
	return nil
}

// CancelOpenByCampaign marks every non-terminal conversation of a campaign
// canceled and returns the affected ids.
func (s *ConversationStore) CancelOpenByCampaign(ctx context.Context, campaignID uuid.UUID) ([]ConversationRecord, error) {
	query := `
		UPDATE conversations
		SET status = $2, updated_at = now()
		WHERE campaign_id = $1 AND status IN ($3, $4)
		RETURNING id, campaign_id, contact_id, phone_number,
			COALESCE(call_sid, ''), status, COALESCE(duration_seconds, 0),
			created_at, updated_at
	`
	rows, err := s.pool.Query(ctx, query, campaignID, ConversationCanceled,
		ConversationNotStarted, ConversationInProgress)
	if err != nil {
		return nil, fmt.Errorf("store: cancel open conversations: %w", err)
	}
	defer rows.Close()

	var recs []ConversationRecord
	for rows.Next() {
		var rec ConversationRecord
		if err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.ContactID, &rec.PhoneNumber,
			&rec.CallSID, &rec.Status, &rec.DurationSeconds,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan canceled conversation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// StatusesByCampaign returns the status of every conversation in a campaign.
func (s *ConversationStore) StatusesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]string, error) {
	query := `
		SELECT status
		FROM conversations
		WHERE campaign_id = $1
	`
	rows, err := s.pool.Query(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("store: conversation statuses: %w", err)
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("store: scan status row: %w", err)
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}
