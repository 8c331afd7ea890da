package dto

import (
	"time"

	"partnership-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// MutationRequest is the request body for deposits and withdrawals.
// Amounts are integer minor units.
type MutationRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0,max=1000000000000000"`
	Currency    string `json:"currency" binding:"omitempty,iso4217"`
	Reference   string `json:"reference" binding:"omitempty,max=100,safe_ref"`
	Description string `json:"description" binding:"max=255"`
}

// StakeRequest is the request body for locking a partnership stake.
type StakeRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0,max=1000000000000000"`
}

// ReleaseRequest is the request body for releasing a partnership stake.
type ReleaseRequest struct {
	Success     *bool  `json:"success" binding:"required"`
	Description string `json:"description" binding:"max=255"`
}

// RepairRequest is the request body for an audited wallet correction.
type RepairRequest struct {
	Mode      string `json:"mode" binding:"required,oneof=backfill adjust"`
	Direction string `json:"direction" binding:"required,oneof=credit debit"`
	Bucket    string `json:"bucket" binding:"required,oneof=available escrow"`
	Amount    int64  `json:"amount" binding:"required,gt=0,max=1000000000000000"`
	Reason    string `json:"reason" binding:"required,max=500"`
	Reference string `json:"reference" binding:"omitempty,max=100,safe_ref"`
}

// Correction maps the request onto a domain correction attributed to actor.
func (r RepairRequest) Correction(actor string) domain.Correction {
	return domain.Correction{
		Mode:      domain.CorrectionMode(r.Mode),
		Direction: domain.CorrectionDirection(r.Direction),
		Bucket:    domain.Bucket(r.Bucket),
		Amount:    r.Amount,
		Reason:    r.Reason,
		Actor:     actor,
		Reference: r.Reference,
	}
}

// Money renders minor units next to their decimal form, e.g. 1050 -> "10.50".
type Money struct {
	Minor   int64  `json:"minor"`
	Display string `json:"display"`
}

// MoneyFormatter converts minor units using the ledger currency's exponent.
type MoneyFormatter struct {
	Currency string
	Exponent int32
}

// Money formats minor as a Money value.
func (f MoneyFormatter) Money(minor int64) Money {
	return Money{
		Minor:   minor,
		Display: decimal.New(minor, -f.Exponent).StringFixed(f.Exponent),
	}
}

// WalletResponse is the response body for wallet reads and mutations.
// Version is omitted for a replayed mutation: the wallet is then the
// snapshot taken right after the original entry, and UpdatedAt is that
// entry's time.
type WalletResponse struct {
	WalletID  string `json:"wallet_id"`
	UserID    string `json:"user_id"`
	Available Money  `json:"available"`
	Escrow    Money  `json:"escrow"`
	Currency  string `json:"currency"`
	Version   *int64 `json:"version,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// EntryResponse is the response body for a ledger entry.
type EntryResponse struct {
	ID             string  `json:"id"`
	Kind           string  `json:"kind"`
	Status         string  `json:"status"`
	Amount         Money   `json:"amount"`
	Currency       string  `json:"currency"`
	Reference      string  `json:"reference"`
	Description    string  `json:"description,omitempty"`
	PartnershipID  *string `json:"partnership_id,omitempty"`
	ViolationID    *string `json:"violation_id,omitempty"`
	Bucket         string  `json:"bucket,omitempty"`
	Actor          string  `json:"actor,omitempty"`
	AvailableAfter Money   `json:"available_after"`
	EscrowAfter    Money   `json:"escrow_after"`
	CreatedAt      string  `json:"created_at"`
}

// MutationResponse is the response body for deposits and withdrawals.
type MutationResponse struct {
	Wallet   WalletResponse `json:"wallet"`
	Entry    EntryResponse  `json:"entry"`
	Replayed bool           `json:"replayed"`
}

// AgreementResponse is the response body for escrow reads and mutations.
type AgreementResponse struct {
	PartnershipID string  `json:"partnership_id"`
	StakerID      *string `json:"staker_id,omitempty"`
	Stake         Money   `json:"stake"`
	Currency      string  `json:"currency"`
	State         string  `json:"state"`
	DerivedState  string  `json:"derived_state,omitempty"`
	Outcome       *string `json:"outcome,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

// EscrowResponse is the response body for stake and release.
type EscrowResponse struct {
	Agreement AgreementResponse `json:"agreement"`
	Wallet    WalletResponse    `json:"wallet"`
	Entry     EntryResponse     `json:"entry"`
}

// PenaltyResponse is the response body for an applied penalty.
type PenaltyResponse struct {
	ViolationID string         `json:"violation_id"`
	MessageID   string         `json:"message_id"`
	Wallet      WalletResponse `json:"wallet"`
	Entry       EntryResponse  `json:"entry"`
}

// RepairResponse is the response body for a wallet repair.
type RepairResponse struct {
	Wallet WalletResponse               `json:"wallet"`
	Entry  EntryResponse                `json:"entry"`
	Report *domain.ReconciliationReport `json:"report"`
}

func (f MoneyFormatter) Wallet(w *domain.Wallet) WalletResponse {
	resp := f.Snapshot(w)
	version := w.Version
	resp.Version = &version
	return resp
}

// Snapshot formats a wallet rebuilt from a ledger entry, which carries
// balances and a timestamp but no version.
func (f MoneyFormatter) Snapshot(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		WalletID:  w.ID.String(),
		UserID:    w.UserID.String(),
		Available: f.Money(w.AvailableBalance),
		Escrow:    f.Money(w.EscrowBalance),
		Currency:  w.Currency,
		UpdatedAt: formatTime(w.UpdatedAt),
	}
}

// Mutation formats a deposit or withdrawal result.
func (f MoneyFormatter) Mutation(w *domain.Wallet, e *domain.LedgerEntry, replayed bool) MutationResponse {
	resp := MutationResponse{Wallet: f.Wallet(w), Entry: f.Entry(e), Replayed: replayed}
	if replayed {
		resp.Wallet = f.Snapshot(w)
	}
	return resp
}

func (f MoneyFormatter) Entry(e *domain.LedgerEntry) EntryResponse {
	resp := EntryResponse{
		ID:             e.ID.String(),
		Kind:           string(e.Kind),
		Status:         string(e.Status),
		Amount:         f.Money(e.Amount),
		Currency:       e.Currency,
		Reference:      e.Reference,
		Description:    e.Description,
		Bucket:         string(e.Bucket),
		Actor:          e.Actor,
		AvailableAfter: f.Money(e.AvailableAfter),
		EscrowAfter:    f.Money(e.EscrowAfter),
		CreatedAt:      formatTime(e.CreatedAt),
	}
	if e.PartnershipID != nil {
		s := e.PartnershipID.String()
		resp.PartnershipID = &s
	}
	if e.ViolationID != nil {
		s := e.ViolationID.String()
		resp.ViolationID = &s
	}
	return resp
}

func (f MoneyFormatter) Entries(entries []domain.LedgerEntry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, f.Entry(&entries[i]))
	}
	return out
}

func (f MoneyFormatter) Agreement(a *domain.EscrowAgreement, derived domain.EscrowState) AgreementResponse {
	resp := AgreementResponse{
		PartnershipID: a.PartnershipID.String(),
		Stake:         f.Money(a.StakeAmount),
		Currency:      a.Currency,
		State:         string(a.State),
		DerivedState:  string(derived),
		UpdatedAt:     formatTime(a.UpdatedAt),
	}
	if a.StakerID != nil {
		s := a.StakerID.String()
		resp.StakerID = &s
	}
	if a.Outcome != nil {
		s := string(*a.Outcome)
		resp.Outcome = &s
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
