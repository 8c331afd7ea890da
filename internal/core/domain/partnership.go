package domain

import (
	"time"

	"github.com/google/uuid"
)

// PartnershipStatus mirrors the lifecycle kept by the partnership service.
type PartnershipStatus string

const (
	PartnershipStatusPending   PartnershipStatus = "pending"
	PartnershipStatusAccepted  PartnershipStatus = "accepted"
	PartnershipStatusRejected  PartnershipStatus = "rejected"
	PartnershipStatusCompleted PartnershipStatus = "completed"
)

// Partnership is the read model of an accountability partnership.
type Partnership struct {
	ID            uuid.UUID         `json:"id"`
	RequesterID   uuid.UUID         `json:"requester_id"`
	PartnerID     uuid.UUID         `json:"partner_id"`
	Status        PartnershipStatus `json:"status"`
	StakeAmount   *int64            `json:"stake_amount,omitempty"` // agreed terms, nil if unspecified
	StakeCurrency string            `json:"stake_currency,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// IsParticipant reports whether the user is one of the two partners.
func (p *Partnership) IsParticipant(userID uuid.UUID) bool {
	return p.RequesterID == userID || p.PartnerID == userID
}
