package dto

import (
	"testing"
	"time"

	"partnership-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyFormatter(t *testing.T) {
	tests := []struct {
		exponent int32
		minor    int64
		want     string
	}{
		{2, 1050, "10.50"},
		{2, 5, "0.05"},
		{2, 0, "0.00"},
		{2, -250, "-2.50"},
		{0, 1200, "1200"},
		{3, 1234, "1.234"},
	}

	for _, tc := range tests {
		f := MoneyFormatter{Currency: "USD", Exponent: tc.exponent}
		m := f.Money(tc.minor)
		assert.Equal(t, tc.minor, m.Minor)
		assert.Equal(t, tc.want, m.Display, "minor=%d exponent=%d", tc.minor, tc.exponent)
	}
}

func TestMoneyFormatter_Entry(t *testing.T) {
	f := MoneyFormatter{Currency: "USD", Exponent: 2}
	partnershipID := uuid.New()
	entry := &domain.LedgerEntry{
		ID:             uuid.New(),
		Kind:           domain.EntryKindEscrowLock,
		Status:         domain.EntryStatusCompleted,
		Amount:         2500,
		Currency:       "USD",
		PartnershipID:  &partnershipID,
		Reference:      "escrow_lock:p:u",
		AvailableAfter: 7500,
		EscrowAfter:    2500,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	resp := f.Entry(entry)
	assert.Equal(t, "25.00", resp.Amount.Display)
	assert.Equal(t, "75.00", resp.AvailableAfter.Display)
	require.NotNil(t, resp.PartnershipID)
	assert.Equal(t, partnershipID.String(), *resp.PartnershipID)
	assert.Nil(t, resp.ViolationID)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.CreatedAt)
}

func TestMoneyFormatter_Mutation(t *testing.T) {
	f := MoneyFormatter{Currency: "USD", Exponent: 2}
	w := domain.NewWallet(uuid.New(), "USD")
	w.AvailableBalance = 500
	w.Version = 4
	entry := domain.NewLedgerEntry(w, domain.EntryKindDeposit, 500, "dep-1")
	entry.AvailableAfter = 500

	fresh := f.Mutation(w, entry, false)
	require.NotNil(t, fresh.Wallet.Version)
	assert.Equal(t, int64(4), *fresh.Wallet.Version)
	assert.False(t, fresh.Replayed)

	replayed := f.Mutation(entry.WalletSnapshot(), entry, true)
	assert.Nil(t, replayed.Wallet.Version)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, "5.00", replayed.Wallet.Available.Display)
	assert.Equal(t, formatTime(entry.CreatedAt), replayed.Wallet.UpdatedAt)
}

func TestRepairRequest_Correction(t *testing.T) {
	req := RepairRequest{Mode: "backfill", Direction: "debit", Bucket: "available", Amount: 40, Reason: "missed withdrawal"}
	c := req.Correction("ops-1")

	assert.Equal(t, domain.CorrectionBackfill, c.Mode)
	assert.Equal(t, domain.CorrectionDebit, c.Direction)
	assert.Equal(t, domain.BucketAvailable, c.Bucket)
	assert.Equal(t, "ops-1", c.Actor)
}
