package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestConversationCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	campaignID := uuid.New()
	contactID := uuid.New()
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), campaignID, contactID, "+15551230001", ConversationNotStarted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.Create(context.Background(), campaignID, contactID, "+15551230001")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("expected non-nil conversation id")
	}
}

func TestConversationMarkInProgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	id := uuid.New()
	mock.ExpectExec("UPDATE conversations").
		WithArgs(id, ConversationInProgress, "CA123", ConversationNotStarted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.MarkInProgress(context.Background(), id, "CA123"); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
}

func TestConversationMarkInProgressAlreadyStarted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	id := uuid.New()
	mock.ExpectExec("UPDATE conversations").
		WithArgs(id, ConversationInProgress, "CA123", ConversationNotStarted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.MarkInProgress(context.Background(), id, "CA123")
	if !errors.Is(err, ErrStaleRead) {
		t.Fatalf("expected ErrStaleRead, got %v", err)
	}
}

func TestConversationAppendTranscriptOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	id := uuid.New()
	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs(id, "user", "I can pay on Friday.").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO conversation_turns").
		WithArgs(id, "assistant", "Friday works.").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.AppendTranscript(context.Background(), id,
		TranscriptEntry{Speaker: "user", Content: "I can pay on Friday."},
		TranscriptEntry{Speaker: "assistant", Content: "Friday works."},
	)
	if err != nil {
		t.Fatalf("append transcript: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConversationFinalizeOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	id := uuid.New()

	mock.ExpectExec("UPDATE conversations").
		WithArgs(id, ConversationCompleted, 95,
			ConversationCompleted, ConversationFailed, ConversationNoAnswer, ConversationCanceled).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Finalize(context.Background(), id, ConversationCompleted, 95); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// Second finalize matches no row and reports staleness.
	mock.ExpectExec("UPDATE conversations").
		WithArgs(id, ConversationFailed, 0,
			ConversationCompleted, ConversationFailed, ConversationNoAnswer, ConversationCanceled).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = store.Finalize(context.Background(), id, ConversationFailed, 0)
	if !errors.Is(err, ErrStaleRead) {
		t.Fatalf("expected ErrStaleRead on second finalize, got %v", err)
	}
}

func TestConversationFinalizeRejectsNonTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	if err := store.Finalize(context.Background(), uuid.New(), ConversationInProgress, 10); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestConversationCancelOpenByCampaign(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	campaignID := uuid.New()
	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "campaign_id", "contact_id", "phone_number",
		"call_sid", "status", "duration_seconds", "created_at", "updated_at",
	}).
		AddRow(uuid.New(), campaignID, uuid.New(), "+15551230001", "CA1", ConversationCanceled, 0, now, now).
		AddRow(uuid.New(), campaignID, uuid.New(), "+15551230002", "", ConversationCanceled, 0, now, now)

	mock.ExpectQuery("UPDATE conversations").
		WithArgs(campaignID, ConversationCanceled, ConversationNotStarted, ConversationInProgress).
		WillReturnRows(rows)

	recs, err := store.CancelOpenByCampaign(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("cancel open: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 canceled conversations, got %d", len(recs))
	}
	if recs[0].CallSID != "CA1" {
		t.Fatalf("unexpected call sid %q", recs[0].CallSID)
	}
}

func TestConversationStatusesByCampaign(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &ConversationStore{pool: mock}
	campaignID := uuid.New()
	mock.ExpectQuery("SELECT status").
		WithArgs(campaignID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).
			AddRow(ConversationCompleted).
			AddRow(ConversationNoAnswer))

	statuses, err := store.StatusesByCampaign(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(statuses) != 2 || statuses[1] != ConversationNoAnswer {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestTerminalConversationStatus(t *testing.T) {
	terminal := []string{ConversationCompleted, ConversationFailed, ConversationNoAnswer, ConversationCanceled}
	for _, s := range terminal {
		if !TerminalConversationStatus(s) {
			t.Errorf("expected %q to be terminal", s)
		}
	}
	for _, s := range []string{ConversationNotStarted, ConversationInProgress, "busy"} {
		if TerminalConversationStatus(s) {
			t.Errorf("expected %q to be non-terminal", s)
		}
	}
}
