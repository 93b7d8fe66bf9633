package attendance

import (
	"context"
	"math"
	"testing"
	"time"
)

func seedParticipant(t *testing.T, store *MemoryStore, id string) {
	t.Helper()
	_, err := store.CreateParticipant(context.Background(), Participant{
		ID:        id,
		Name:      "Ana",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed participant: %v", err)
	}
}

func TestCreditorCredit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedParticipant(t, store, "p1")
	c := NewCreditor(store, store)

	result, err := c.Credit(ctx, "p1", 0.15, PointsSession, "sess-1", "")
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if result.NewTotal != 0.15 {
		t.Errorf("NewTotal = %v, want 0.15", result.NewTotal)
	}
	if result.Entry.Kind != PointsSession || result.Entry.Value != 0.15 || result.Entry.SessionID != "sess-1" {
		t.Errorf("unexpected ledger entry: %+v", result.Entry)
	}

	// a second credit accumulates; the creditor itself is not idempotent
	result, err = c.Credit(ctx, "p1", 1, PointsVolunteer, "", "helped at the front desk")
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if result.NewTotal != 1.15 {
		t.Errorf("NewTotal = %v, want 1.15", result.NewTotal)
	}
	if got := len(store.LedgerEntries()); got != 2 {
		t.Errorf("ledger entries = %d, want 2", got)
	}

	p, err := store.GetParticipant(ctx, "p1")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if p.LastCreditedAt == nil {
		t.Error("LastCreditedAt not stamped")
	}
}

func TestCreditorRejects(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedParticipant(t, store, "p1")
	c := NewCreditor(store, store)

	tests := []struct {
		name          string
		participantID string
		value         float64
		wantKind      RejectKind
	}{
		{name: "zero value", participantID: "p1", value: 0, wantKind: RejectInvalidValue},
		{name: "negative value", participantID: "p1", value: -1, wantKind: RejectInvalidValue},
		{name: "nan value", participantID: "p1", value: math.NaN(), wantKind: RejectInvalidValue},
		{name: "unknown participant", participantID: "ghost", value: 1, wantKind: RejectParticipantNotFound},
		{name: "empty participant", participantID: "", value: 1, wantKind: RejectParticipantNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Credit(ctx, tt.participantID, tt.value, PointsVolunteer, "", "")
			if got := RejectionKind(err); got != tt.wantKind {
				t.Errorf("Credit() kind = %q, want %q", got, tt.wantKind)
			}
		})
	}

	if got := len(store.LedgerEntries()); got != 0 {
		t.Errorf("rejected credits appended %d ledger entries", got)
	}
}

func TestCreditorConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedParticipant(t, store, "p1")
	c := NewCreditor(store, store)

	const n = 50
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Credit(ctx, "p1", 0.1, PointsSession, "sess-1", "")
			done <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Credit() error: %v", err)
		}
	}

	p, _ := store.GetParticipant(ctx, "p1")
	if math.Abs(p.PointsTotal-5.0) > 1e-9 {
		t.Errorf("PointsTotal = %v, want 5.0 (no lost updates)", p.PointsTotal)
	}
	if got := len(store.LedgerEntries()); got != n {
		t.Errorf("ledger entries = %d, want %d", got, n)
	}
}
