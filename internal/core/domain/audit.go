package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionDeposit      AuditAction = "DEPOSIT"
	AuditActionWithdraw     AuditAction = "WITHDRAW"
	AuditActionStake        AuditAction = "ESCROW_STAKE"
	AuditActionRelease      AuditAction = "ESCROW_RELEASE"
	AuditActionApplyPenalty AuditAction = "APPLY_PENALTY"
	AuditActionRepair       AuditAction = "REPAIR"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
