package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntryKind is the type of balance-affecting event.
type EntryKind string

const (
	EntryKindDeposit              EntryKind = "deposit"
	EntryKindWithdrawal           EntryKind = "withdrawal"
	EntryKindEscrowLock           EntryKind = "escrow_lock"
	EntryKindEscrowReleaseReward  EntryKind = "escrow_release_reward"
	EntryKindEscrowReleasePenalty EntryKind = "escrow_release_penalty"
	EntryKindPenalty              EntryKind = "penalty"
	EntryKindAdjustmentCredit     EntryKind = "adjustment_credit"
	EntryKindAdjustmentDebit      EntryKind = "adjustment_debit"
)

// Valid reports whether k is a known kind.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindDeposit, EntryKindWithdrawal, EntryKindEscrowLock,
		EntryKindEscrowReleaseReward, EntryKindEscrowReleasePenalty,
		EntryKindPenalty, EntryKindAdjustmentCredit, EntryKindAdjustmentDebit:
		return true
	}
	return false
}

// IsRelease reports whether k closes an escrow agreement.
func (k EntryKind) IsRelease() bool {
	return k == EntryKindEscrowReleaseReward || k == EntryKindEscrowReleasePenalty
}

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	return s == EntryStatusPending || s == EntryStatusCompleted || s == EntryStatusFailed
}

// Bucket names one side of a wallet.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketEscrow    Bucket = "escrow"
)

// Valid reports whether b names a wallet bucket.
func (b Bucket) Valid() bool {
	return b == BucketAvailable || b == BucketEscrow
}

// LedgerEntry is an immutable record of one balance change.
type LedgerEntry struct {
	ID             uuid.UUID   `json:"id"`
	WalletID       uuid.UUID   `json:"wallet_id"`
	UserID         uuid.UUID   `json:"user_id"`
	Kind           EntryKind   `json:"kind"`
	Amount         int64       `json:"amount"`
	Currency       string      `json:"currency"`
	Status         EntryStatus `json:"status"`
	PartnershipID  *uuid.UUID  `json:"partnership_id,omitempty"`
	ViolationID    *uuid.UUID  `json:"violation_id,omitempty"`
	Bucket         Bucket      `json:"bucket,omitempty"` // adjustments only
	Description    string      `json:"description,omitempty"`
	Reference      string      `json:"reference"`
	Actor          string      `json:"actor,omitempty"`
	AvailableAfter int64       `json:"available_after"`
	EscrowAfter    int64       `json:"escrow_after"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewLedgerEntry builds a completed entry against the wallet.
func NewLedgerEntry(w *Wallet, kind EntryKind, amount int64, reference string) *LedgerEntry {
	if reference == "" {
		reference = uuid.NewString()
	}
	return &LedgerEntry{
		ID:        uuid.New(),
		WalletID:  w.ID,
		UserID:    w.UserID,
		Kind:      kind,
		Amount:    amount,
		Currency:  w.Currency,
		Status:    EntryStatusCompleted,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
}

// Effect returns the signed change to (available, escrow). Only completed
// entries move money.
func (e *LedgerEntry) Effect() (available, escrow int64) {
	if e.Status != EntryStatusCompleted {
		return 0, 0
	}
	a := e.Amount
	switch e.Kind {
	case EntryKindDeposit:
		return a, 0
	case EntryKindWithdrawal, EntryKindPenalty:
		return -a, 0
	case EntryKindEscrowLock:
		return -a, a
	case EntryKindEscrowReleaseReward:
		return a, -a
	case EntryKindEscrowReleasePenalty:
		return 0, -a
	case EntryKindAdjustmentCredit:
		if e.Bucket == BucketEscrow {
			return 0, a
		}
		return a, 0
	case EntryKindAdjustmentDebit:
		if e.Bucket == BucketEscrow {
			return 0, -a
		}
		return -a, 0
	}
	return 0, 0
}

// Stamp records the wallet balances after this entry was applied.
func (e *LedgerEntry) Stamp(w *Wallet) {
	e.AvailableAfter = w.AvailableBalance
	e.EscrowAfter = w.EscrowBalance
}

// WalletSnapshot rebuilds the wallet as it was right after this entry. The
// entry does not record the wallet version or creation time, so both are zero.
func (e *LedgerEntry) WalletSnapshot() *Wallet {
	return &Wallet{
		ID:               e.WalletID,
		UserID:           e.UserID,
		AvailableBalance: e.AvailableAfter,
		EscrowBalance:    e.EscrowAfter,
		Currency:         e.Currency,
		UpdatedAt:        e.CreatedAt,
	}
}

// Replay folds entries into balances without the non-negativity check, so a
// corrupted history surfaces as a discrepancy instead of an error.
func Replay(entries []LedgerEntry) Balances {
	var b Balances
	for i := range entries {
		dAvail, dEscrow := entries[i].Effect()
		b.Available += dAvail
		b.Escrow += dEscrow
	}
	return b
}

// referenceSeparator joins the parts of every reference the ledger derives
// itself. Caller references may not contain it, which keeps the two sets of
// references disjoint under the unique reference index.
const referenceSeparator = ":"

// IsCallerReference reports whether ref may be supplied by a caller.
func IsCallerReference(ref string) bool {
	return !strings.Contains(ref, referenceSeparator)
}

// EscrowLockReference is the deterministic reference of a partnership's lock entry.
func EscrowLockReference(partnershipID, userID uuid.UUID) string {
	return "escrow_lock" + referenceSeparator + partnershipID.String() + referenceSeparator + userID.String()
}

// EscrowReleaseReference is the deterministic reference of a partnership's release entry.
func EscrowReleaseReference(partnershipID uuid.UUID) string {
	return "escrow_release" + referenceSeparator + partnershipID.String()
}

// PenaltyReference is the deterministic reference of a violation's penalty entry.
func PenaltyReference(violationID uuid.UUID) string {
	return "penalty" + referenceSeparator + violationID.String()
}

// RepairReference is the reference of a repair entry the operator left unnamed.
func RepairReference(entryID uuid.UUID) string {
	return "repair" + referenceSeparator + entryID.String()
}
