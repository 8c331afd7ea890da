package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationReport compares stored balances with a replay of the ledger.
type ReconciliationReport struct {
	UserID      uuid.UUID        `json:"user_id"`
	WalletID    uuid.UUID        `json:"wallet_id"`
	Stored      Balances         `json:"stored"`
	Replayed    Balances         `json:"replayed"`
	Discrepancy Balances         `json:"discrepancy"` // stored minus replayed
	EntryCount  int              `json:"entry_count"`
	Agreements  []AgreementCheck `json:"agreements"`
	Consistent  bool             `json:"consistent"`
	CheckedAt   time.Time        `json:"checked_at"`
}

// AgreementCheck compares one escrow projection with its ledger-derived state.
type AgreementCheck struct {
	PartnershipID  uuid.UUID   `json:"partnership_id"`
	ProjectedState EscrowState `json:"projected_state"`
	DerivedState   EscrowState `json:"derived_state"`
	ProjectedStake int64       `json:"projected_stake"`
	DerivedStake   int64       `json:"derived_stake"`
	Consistent     bool        `json:"consistent"`
}

// CorrectionMode selects how a repair touches balances.
type CorrectionMode string

const (
	// CorrectionBackfill records a movement the ledger missed; balances stay as they are.
	CorrectionBackfill CorrectionMode = "backfill"
	// CorrectionAdjust moves funds and records the movement.
	CorrectionAdjust CorrectionMode = "adjust"
)

// CorrectionDirection is the sign of a correction.
type CorrectionDirection string

const (
	CorrectionCredit CorrectionDirection = "credit"
	CorrectionDebit  CorrectionDirection = "debit"
)

// Correction is an explicit, audited repair instruction.
type Correction struct {
	Mode      CorrectionMode      `json:"mode"`
	Direction CorrectionDirection `json:"direction"`
	Bucket    Bucket              `json:"bucket"`
	Amount    int64               `json:"amount"`
	Reason    string              `json:"reason"`
	Actor     string              `json:"actor"`
	Reference string              `json:"reference,omitempty"`
}

// EntryKind maps the direction to the adjustment kind.
func (c Correction) EntryKind() EntryKind {
	if c.Direction == CorrectionDebit {
		return EntryKindAdjustmentDebit
	}
	return EntryKindAdjustmentCredit
}

// RepairResult is the outcome of an applied correction.
type RepairResult struct {
	Wallet *Wallet               `json:"wallet"`
	Entry  *LedgerEntry          `json:"entry"`
	Report *ReconciliationReport `json:"report"`
}
