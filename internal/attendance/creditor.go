package attendance

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Creditor applies point credits: one atomic increment on the
// participant's total plus one appended audit entry. It is not
// idempotent by itself; callers gate it with the record's
// points-credited flag.
type Creditor struct {
	participants ParticipantRepository
	ledger       PointLedgerRepository
	now          func() time.Time
}

// NewCreditor builds a creditor over the given repositories.
func NewCreditor(participants ParticipantRepository, ledger PointLedgerRepository) *Creditor {
	return &Creditor{participants: participants, ledger: ledger, now: time.Now}
}

// CreditResult reports the outcome of a credit operation.
type CreditResult struct {
	NewTotal float64     `json:"new_total"`
	Entry    LedgerEntry `json:"entry"`
}

// Credit adds value to the participant's running total and appends the
// matching ledger entry. Rejects InvalidValue for non-positive or NaN
// values; that indicates a caller bug, never well-formed input.
func (c *Creditor) Credit(ctx context.Context, participantID string, value float64, kind PointKind, sessionID, reason string) (CreditResult, error) {
	if participantID == "" {
		return CreditResult{}, reject(RejectParticipantNotFound, "participant id is required")
	}
	if math.IsNaN(value) || value <= 0 {
		return CreditResult{}, reject(RejectInvalidValue, "point value must be positive, got %v", value)
	}

	now := c.now().UTC()
	total, err := c.participants.IncrementPoints(ctx, participantID, value, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CreditResult{}, reject(RejectParticipantNotFound, "participant %s not found", participantID)
		}
		return CreditResult{}, err
	}

	entry, err := c.ledger.AppendEntry(ctx, LedgerEntry{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Kind:          kind,
		Value:         value,
		SessionID:     sessionID,
		Reason:        reason,
		CreatedAt:     now,
	})
	if err != nil {
		return CreditResult{}, err
	}

	return CreditResult{NewTotal: total, Entry: entry}, nil
}
