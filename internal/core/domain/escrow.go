package domain

import (
	"time"

	"github.com/google/uuid"
)

// EscrowState is the lifecycle state of a partnership stake.
type EscrowState string

const (
	EscrowStateUnstaked EscrowState = "UNSTAKED"
	EscrowStateLocked   EscrowState = "LOCKED"
	EscrowStateReleased EscrowState = "RELEASED"
)

// EscrowOutcome records how a stake was released.
type EscrowOutcome string

const (
	EscrowOutcomeSuccess EscrowOutcome = "success"
	EscrowOutcomeFailure EscrowOutcome = "failure"
)

// EscrowAgreement is a cached projection of a partnership's stake. The ledger
// is authoritative; see DeriveEscrow.
type EscrowAgreement struct {
	PartnershipID  uuid.UUID      `json:"partnership_id"`
	StakerID       *uuid.UUID     `json:"staker_id,omitempty"`
	StakeAmount    int64          `json:"stake_amount"`
	Currency       string         `json:"currency"`
	State          EscrowState    `json:"state"`
	LockEntryID    *uuid.UUID     `json:"lock_entry_id,omitempty"`
	ReleaseEntryID *uuid.UUID     `json:"release_entry_id,omitempty"`
	Outcome        *EscrowOutcome `json:"outcome,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewEscrowAgreement returns an UNSTAKED projection.
func NewEscrowAgreement(partnershipID uuid.UUID, currency string) *EscrowAgreement {
	now := time.Now().UTC()
	return &EscrowAgreement{
		PartnershipID: partnershipID,
		Currency:      currency,
		State:         EscrowStateUnstaked,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// EscrowHistory is the escrow state derived from a partnership's ledger entries.
type EscrowHistory struct {
	State   EscrowState
	Lock    *LedgerEntry
	Release *LedgerEntry
}

// Stake is the amount recorded by the lock entry, or zero.
func (h EscrowHistory) Stake() int64 {
	if h.Lock == nil {
		return 0
	}
	return h.Lock.Amount
}

// DeriveEscrow computes the escrow state from the completed lock and release
// entries of one partnership.
func DeriveEscrow(entries []LedgerEntry) EscrowHistory {
	var h EscrowHistory
	for i := range entries {
		e := &entries[i]
		if e.Status != EntryStatusCompleted {
			continue
		}
		switch {
		case e.Kind == EntryKindEscrowLock && h.Lock == nil:
			h.Lock = e
		case e.Kind.IsRelease() && h.Release == nil:
			h.Release = e
		}
	}
	switch {
	case h.Lock != nil && h.Release != nil:
		h.State = EscrowStateReleased
	case h.Lock != nil:
		h.State = EscrowStateLocked
	default:
		h.State = EscrowStateUnstaked
	}
	return h
}

// Sync overwrites the projection from derived history and reports whether it drifted.
func (a *EscrowAgreement) Sync(h EscrowHistory) bool {
	drifted := a.State != h.State || (h.Lock != nil && a.StakeAmount != h.Lock.Amount)
	a.State = h.State
	if h.Lock != nil {
		staker := h.Lock.UserID
		lockID := h.Lock.ID
		a.StakerID = &staker
		a.LockEntryID = &lockID
		a.StakeAmount = h.Lock.Amount
	}
	if h.Release != nil {
		releaseID := h.Release.ID
		outcome := EscrowOutcomeFailure
		if h.Release.Kind == EntryKindEscrowReleaseReward {
			outcome = EscrowOutcomeSuccess
		}
		a.ReleaseEntryID = &releaseID
		a.Outcome = &outcome
	}
	a.UpdatedAt = time.Now().UTC()
	return drifted
}
