package livestate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStore(client, time.Hour), mr
}

func TestSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := &CallState{
		ConversationID: "c1",
		CallSID:        "CA100",
		PhoneNumber:    "+15551230001",
		Status:         StatusInitiating,
		StartedAt:      time.Now().UTC(),
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "+15551230001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.CallSID != "CA100" || got.Status != StatusInitiating {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "+15559990000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil state, got %+v", got)
	}
}

func TestSaveRequiresNumber(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.Save(context.Background(), &CallState{}); err == nil {
		t.Fatal("expected error for missing phone number")
	}
}

func TestIncrementTurn(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	state := &CallState{PhoneNumber: "+15551230001", Status: StatusActive}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.IncrementTurn(ctx, "+15551230001"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := store.IncrementTurn(ctx, "+15551230001"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	got, err := store.Get(ctx, "+15551230001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TurnCount != 2 {
		t.Fatalf("turn count = %d, want 2", got.TurnCount)
	}
	if got.LastActivityAt.IsZero() {
		t.Fatal("expected last activity to be stamped")
	}
}

func TestTranscriptMirrorAndDropOnEnd(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	number := "+15551230001"

	if err := store.Save(ctx, &CallState{PhoneNumber: number, Status: StatusActive}); err != nil {
		t.Fatalf("save: %v", err)
	}
	lines := []TranscriptLine{
		{Speaker: "user", Text: "Who is this?", Timestamp: time.Now().UTC()},
		{Speaker: "assistant", Text: "This is a call about your account.", Timestamp: time.Now().UTC()},
	}
	for _, line := range lines {
		if err := store.AppendTranscript(ctx, number, line); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.Transcript(ctx, number)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(got) != 2 || got[0].Speaker != "user" || got[1].Text != lines[1].Text {
		t.Fatalf("unexpected transcript %+v", got)
	}

	if err := store.MarkEnded(ctx, number); err != nil {
		t.Fatalf("mark ended: %v", err)
	}
	state, err := store.Get(ctx, number)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Status != StatusEnded {
		t.Fatalf("status = %q, want ended", state.Status)
	}
	got, err = store.Transcript(ctx, number)
	if err != nil {
		t.Fatalf("transcript after end: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected transcript dropped, got %d lines", len(got))
	}
}

func TestMarkEndedMissingIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.MarkEnded(context.Background(), "+15550000000"); err != nil {
		t.Fatalf("mark ended: %v", err)
	}
}

func TestTranscriptMirrorIsScrubbed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	number := "+15551230001"

	line := TranscriptLine{
		Speaker:   "user",
		Text:      "my card is 4111 1111 1111 1111, email dana@example.com",
		Timestamp: time.Now().UTC(),
	}
	if err := store.AppendTranscript(ctx, number, line); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.Transcript(ctx, number)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one line, got %d", len(got))
	}
	if got[0].Text != "my card is [CARD], email [EMAIL]" {
		t.Fatalf("mirror not scrubbed: %q", got[0].Text)
	}
}
