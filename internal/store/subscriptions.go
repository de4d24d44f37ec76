package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type SubscriptionRecord struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	PlanMinutes int
	UsedSeconds int
	Status      string
}

// RemainingMinutes reports the whole minutes left on the plan, clamped at
// zero. Partial minutes consumed count against the balance.
func (r SubscriptionRecord) RemainingMinutes() int {
	remaining := r.PlanMinutes - r.UsedSeconds/60
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SubscriptionStore reads plan balances and applies metered usage.
type SubscriptionStore struct {
	pool PgxPool
}

func NewSubscriptionStore(pool PgxPool) *SubscriptionStore {
	if pool == nil {
		return nil
	}
	return &SubscriptionStore{pool: pool}
}

// ActiveForUser returns the user's active subscription, or ErrNotFound when
// the user has none.
func (s *SubscriptionStore) ActiveForUser(ctx context.Context, userID uuid.UUID) (SubscriptionRecord, error) {
	query := `
		SELECT id, user_id, plan_minutes, used_seconds, status
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		LIMIT 1
	`
	var rec SubscriptionRecord
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&rec.ID, &rec.UserID, &rec.PlanMinutes, &rec.UsedSeconds, &rec.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubscriptionRecord{}, ErrNotFound
	}
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("store: active subscription: %w", err)
	}
	return rec, nil
}

// AddUsage adds deltaSeconds to the subscription's consumed time. The write
// only lands when used_seconds still equals expectedUsedSeconds; otherwise
// ErrStaleRead is returned and the caller re-reads before retrying.
func (s *SubscriptionStore) AddUsage(ctx context.Context, id uuid.UUID, expectedUsedSeconds, deltaSeconds int) error {
	query := `
		UPDATE subscriptions
		SET used_seconds = used_seconds + $3, updated_at = now()
		WHERE id = $1 AND used_seconds = $2
	`
	tag, err := s.pool.Exec(ctx, query, id, expectedUsedSeconds, deltaSeconds)
	if err != nil {
		return fmt.Errorf("store: add usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRead
	}
	return nil
}
