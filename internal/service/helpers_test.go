package service

import (
	"context"
	"io"
	"testing"
	"time"

	"partnership-ledger/internal/adapter/storage/memory"
	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockTx satisfies pgx.Tx for services driven by gomock repositories.
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func testOptions() Options {
	return Options{
		Currency:       "USD",
		MaxAttempts:    5,
		RetryBaseDelay: time.Millisecond,
		IdempotencyTTL: time.Hour,
	}
}

// ledger wires every service to one in-memory store.
type ledger struct {
	store     *memory.Store
	locker    *memory.Locker
	wallets   *WalletServiceImpl
	escrow    *EscrowServiceImpl
	penalties *PenaltyServiceImpl
	recon     *ReconciliationServiceImpl
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	store := memory.NewStore()
	locker := memory.NewLocker(0)
	opts := testOptions()
	log := newTestLogger()

	return &ledger{
		store:     store,
		locker:    locker,
		wallets:   NewWalletService(store.Wallets(), store.Ledger(), nil, locker, store, opts, log),
		escrow:    NewEscrowService(store.Partnerships(), store.Wallets(), store.Ledger(), store.Agreements(), locker, store, opts, log),
		penalties: NewPenaltyService(store.Violations(), store.Wallets(), store.Ledger(), locker, store, opts, log),
		recon:     NewReconciliationService(store.Wallets(), store.Ledger(), store.Agreements(), store.Audits(), locker, store, opts, log),
	}
}

func (l *ledger) deposit(t *testing.T, userID uuid.UUID, amount int64) *domain.Wallet {
	t.Helper()
	res, err := l.wallets.Deposit(context.Background(), depositReq(userID, amount))
	require.NoError(t, err)
	return res.Wallet
}

func (l *ledger) wallet(t *testing.T, userID uuid.UUID) *domain.Wallet {
	t.Helper()
	w, err := l.wallets.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}

// acceptedPartnership seeds an accepted partnership between two fresh users.
func (l *ledger) acceptedPartnership(stake *int64) (domain.Partnership, uuid.UUID, uuid.UUID) {
	requester, partner := uuid.New(), uuid.New()
	p := domain.Partnership{
		ID:            uuid.New(),
		RequesterID:   requester,
		PartnerID:     partner,
		Status:        domain.PartnershipStatusAccepted,
		StakeAmount:   stake,
		StakeCurrency: "USD",
		CreatedAt:     time.Now().UTC(),
	}
	l.store.AddPartnership(p)
	return p, requester, partner
}

func (l *ledger) requireConsistent(t *testing.T, userID uuid.UUID) *domain.ReconciliationReport {
	t.Helper()
	report, err := l.recon.Verify(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, report.Consistent, "report: %+v", report)
	return report
}

func depositReq(userID uuid.UUID, amount int64) ports.MutationRequest {
	return ports.MutationRequest{UserID: userID, Amount: amount}
}
