package domain

import (
	"time"

	"github.com/google/uuid"
)

// violationNamespace seeds name-based violation ids derived from message ids.
var violationNamespace = uuid.MustParse("6f1c0d8e-3b9a-5c47-9e2d-7a4b1f60c8d3")

// ModerationViolation is a content-moderation finding that carries a penalty.
type ModerationViolation struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	MessageID      string     `json:"message_id"`
	ViolationType  string     `json:"violation_type"`
	PenaltyAmount  int64      `json:"penalty_amount"`
	Applied        bool       `json:"applied"`
	AppliedEntryID *uuid.UUID `json:"applied_entry_id,omitempty"`
	AppliedAt      *time.Time `json:"applied_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ViolationCursor is a keyset position in the (created_at, id) order of
// pending violations. The zero value starts at the beginning.
type ViolationCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Cursor returns the position right after v.
func (v *ModerationViolation) Cursor() ViolationCursor {
	return ViolationCursor{CreatedAt: v.CreatedAt, ID: v.ID}
}

// ViolationEvent is the payload published by the moderation pipeline.
type ViolationEvent struct {
	ViolationID   *uuid.UUID `json:"violation_id,omitempty"`
	UserID        uuid.UUID  `json:"user_id"`
	MessageID     string     `json:"message_id"`
	ViolationType string     `json:"violation_type"`
	PenaltyAmount int64      `json:"penalty_amount"`
}

// ViolationIDFor derives a stable violation id from a moderation message id.
func ViolationIDFor(messageID string) uuid.UUID {
	return uuid.NewSHA1(violationNamespace, []byte(messageID))
}

// ToViolation converts the event into an unapplied violation.
func (e ViolationEvent) ToViolation() *ModerationViolation {
	id := ViolationIDFor(e.MessageID)
	if e.ViolationID != nil {
		id = *e.ViolationID
	}
	return &ModerationViolation{
		ID:            id,
		UserID:        e.UserID,
		MessageID:     e.MessageID,
		ViolationType: e.ViolationType,
		PenaltyAmount: e.PenaltyAmount,
		CreatedAt:     time.Now().UTC(),
	}
}
