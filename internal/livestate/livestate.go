// Package livestate mirrors in-flight call state into Redis so live
// dashboards and restarts can observe calls without touching the Postgres
// record mid-call.
package livestate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solvencyai/voicecollect/internal/redact"
)

// CallState is the live view of one active call.
type CallState struct {
	// ConversationID links to the durable conversation record.
	ConversationID string `json:"conversation_id"`
	// CallSID is the provider call identifier.
	CallSID string `json:"call_sid"`
	// PhoneNumber is the debtor's number in E.164.
	PhoneNumber string `json:"phone_number"`
	// CampaignID is the owning campaign.
	CampaignID string `json:"campaign_id"`
	// Status tracks the session lifecycle: initiating, active, ended.
	Status string `json:"status"`
	// TurnCount is the number of completed exchanges.
	TurnCount int `json:"turn_count"`
	// PaymentSMSSent is set once the payment link has gone out.
	PaymentSMSSent bool `json:"payment_sms_sent,omitempty"`
	// StartedAt is when the media stream connected.
	StartedAt time.Time `json:"started_at"`
	// LastActivityAt is the most recent utterance or reply.
	LastActivityAt time.Time `json:"last_activity_at"`
}

// TranscriptLine is one attributed line of the live transcript.
type TranscriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	callKeyPrefix       = "call:state:"
	transcriptKeyPrefix = "call:transcript:"

	StatusInitiating = "initiating"
	StatusActive     = "active"
	StatusEnded      = "ended"
)

// Store keeps live call state in Redis with a TTL so abandoned calls age out.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func callKey(number string) string {
	return callKeyPrefix + number
}

func transcriptKey(number string) string {
	return transcriptKeyPrefix + number
}

// Save persists the live state keyed by destination number.
func (s *Store) Save(ctx context.Context, state *CallState) error {
	if state == nil || state.PhoneNumber == "" {
		return fmt.Errorf("livestate: phone number required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("livestate: marshal: %w", err)
	}
	return s.rdb.Set(ctx, callKey(state.PhoneNumber), data, s.ttl).Err()
}

// Get returns the live state for a number, or nil when no call is live.
func (s *Store) Get(ctx context.Context, number string) (*CallState, error) {
	data, err := s.rdb.Get(ctx, callKey(number)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("livestate: get: %w", err)
	}
	var state CallState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("livestate: unmarshal: %w", err)
	}
	return &state, nil
}

// IncrementTurn bumps the exchange counter and refreshes activity time.
func (s *Store) IncrementTurn(ctx context.Context, number string) error {
	state, err := s.Get(ctx, number)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("livestate: call %s not found", number)
	}
	state.TurnCount++
	state.LastActivityAt = time.Now().UTC()
	return s.Save(ctx, state)
}

// MarkEnded records the end of the call and drops the transcript mirror.
func (s *Store) MarkEnded(ctx context.Context, number string) error {
	state, err := s.Get(ctx, number)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}
	state.Status = StatusEnded
	state.LastActivityAt = time.Now().UTC()
	if err := s.Save(ctx, state); err != nil {
		return err
	}
	return s.rdb.Del(ctx, transcriptKey(number)).Err()
}

// AppendTranscript mirrors a transcript line for live observers. The
// mirrored copy is scrubbed; the system of record keeps full fidelity.
func (s *Store) AppendTranscript(ctx context.Context, number string, line TranscriptLine) error {
	line.Text = redact.Scrub(line.Text)
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("livestate: marshal transcript line: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, transcriptKey(number), data)
	pipe.Expire(ctx, transcriptKey(number), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Transcript returns the mirrored transcript in order.
func (s *Store) Transcript(ctx context.Context, number string) ([]TranscriptLine, error) {
	data, err := s.rdb.LRange(ctx, transcriptKey(number), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("livestate: transcript: %w", err)
	}
	lines := make([]TranscriptLine, 0, len(data))
	for _, d := range data {
		var line TranscriptLine
		if err := json.Unmarshal([]byte(d), &line); err != nil {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
