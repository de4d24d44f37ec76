package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ContactRecord struct {
	ID          uuid.UUID
	ListID      uuid.UUID
	FirstName   string
	LastName    string
	PhoneNumber string
	Email       string
	AmountDue   string
	Currency    string
	DueDate     string
	Notes       string
}

// FullName joins the contact's name parts for prompts and transcripts.
func (r ContactRecord) FullName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// ContactStore reads campaign contact lists.
type ContactStore struct {
	pool PgxPool
}

func NewContactStore(pool PgxPool) *ContactStore {
	if pool == nil {
		return nil
	}
	return &ContactStore{pool: pool}
}

func (s *ContactStore) Get(ctx context.Context, id uuid.UUID) (ContactRecord, error) {
	query := `
		SELECT id, list_id, first_name, last_name, phone_number,
			COALESCE(email, ''), COALESCE(amount_due, ''),
			COALESCE(currency, ''), COALESCE(due_date, ''), COALESCE(notes, '')
		FROM contacts
		WHERE id = $1
	`
	var rec ContactRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.ListID, &rec.FirstName, &rec.LastName,
		&rec.PhoneNumber, &rec.Email, &rec.AmountDue,
		&rec.Currency, &rec.DueDate, &rec.Notes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ContactRecord{}, ErrNotFound
	}
	if err != nil {
		return ContactRecord{}, fmt.Errorf("store: get contact: %w", err)
	}
	return rec, nil
}

// ListByList returns every contact in a contact list, oldest first.
func (s *ContactStore) ListByList(ctx context.Context, listID uuid.UUID) ([]ContactRecord, error) {
	query := `
		SELECT id, list_id, first_name, last_name, phone_number,
			COALESCE(email, ''), COALESCE(amount_due, ''),
			COALESCE(currency, ''), COALESCE(due_date, ''), COALESCE(notes, '')
		FROM contacts
		WHERE list_id = $1
		ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	defer rows.Close()

	var recs []ContactRecord
	for rows.Next() {
		var rec ContactRecord
		if err := rows.Scan(
			&rec.ID, &rec.ListID, &rec.FirstName, &rec.LastName,
			&rec.PhoneNumber, &rec.Email, &rec.AmountDue,
			&rec.Currency, &rec.DueDate, &rec.Notes,
		); err != nil {
			return nil, fmt.Errorf("store: scan contact row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
