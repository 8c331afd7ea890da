package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	redisadapter "partnership-ledger/internal/adapter/storage/redis"
	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/internal/core/ports/mocks"
	"partnership-ledger/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// ==================== Deposit / Withdraw ====================

func TestWalletService_DepositAndWithdraw(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	w := l.deposit(t, userID, 100)
	assert.Equal(t, int64(100), w.AvailableBalance)
	assert.Equal(t, int64(0), w.EscrowBalance)

	res, err := l.wallets.Withdraw(ctx, ports.MutationRequest{UserID: userID, Amount: 30, Description: "cash out"})
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.Wallet.AvailableBalance)
	assert.Equal(t, domain.EntryKindWithdrawal, res.Entry.Kind)
	assert.Equal(t, int64(70), res.Entry.AvailableAfter)
	assert.False(t, res.Replayed)

	report := l.requireConsistent(t, userID)
	assert.Equal(t, domain.Balances{Available: 70}, report.Replayed)
	assert.Equal(t, 2, report.EntryCount)
}

func TestWalletService_WithdrawInsufficientFunds(t *testing.T) {
	l := newLedger(t)
	userID := uuid.New()
	l.deposit(t, userID, 10)

	_, err := l.wallets.Withdraw(context.Background(), ports.MutationRequest{UserID: userID, Amount: 11})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientFunds))

	w := l.wallet(t, userID)
	assert.Equal(t, int64(10), w.AvailableBalance)
	assert.Equal(t, int64(1), w.Version)
	_, total, err := l.store.Ledger().List(context.Background(), ports.LedgerListParams{UserID: userID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestWalletService_RejectsBadInput(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	tests := []struct {
		name string
		req  ports.MutationRequest
		code string
	}{
		{"zero amount", ports.MutationRequest{UserID: userID, Amount: 0}, apperror.CodeInvalidAmount},
		{"negative amount", ports.MutationRequest{UserID: userID, Amount: -5}, apperror.CodeInvalidAmount},
		{"other currency", ports.MutationRequest{UserID: userID, Amount: 5, Currency: "EUR"}, apperror.CodeCurrencyMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.wallets.Deposit(ctx, tt.req)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}

	_, err := l.wallets.Deposit(ctx, ports.MutationRequest{UserID: userID, Amount: 5, Currency: "usd"})
	assert.NoError(t, err, "currency match is case-insensitive")
}

func TestWalletService_DepositOverflowIsInvalidAmount(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	userID := uuid.New()
	l.deposit(t, userID, math.MaxInt64)

	_, err := l.wallets.Deposit(ctx, depositReq(userID, 1))
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidAmount), "got %v", err)
	assert.False(t, apperror.HasCode(err, apperror.CodeInsufficientFunds))

	w := l.wallet(t, userID)
	assert.Equal(t, int64(math.MaxInt64), w.AvailableBalance)
	assert.Equal(t, int64(1), w.Version)
	l.requireConsistent(t, userID)
}

func TestWalletService_RejectsLedgerDerivedReferences(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	p, staker, _ := l.acceptedPartnership(nil)
	l.deposit(t, staker, 100)
	violationID := domain.ViolationIDFor("msg-1")

	references := []string{
		domain.EscrowLockReference(p.ID, staker),
		domain.EscrowReleaseReference(p.ID),
		domain.PenaltyReference(violationID),
		domain.RepairReference(uuid.New()),
	}
	for _, ref := range references {
		t.Run(ref, func(t *testing.T) {
			_, err := l.wallets.Deposit(ctx, ports.MutationRequest{UserID: staker, Amount: 1, Reference: ref})
			assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "got %v", err)
			_, err = l.wallets.Withdraw(ctx, ports.MutationRequest{UserID: staker, Amount: 1, Reference: ref})
			assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "got %v", err)
		})
	}

	_, err := l.escrow.Stake(ctx, stakeReq(p.ID, staker, 40))
	require.NoError(t, err)
	released, err := l.escrow.Release(ctx, ports.ReleaseRequest{PartnershipID: p.ID, UserID: staker, Success: true})
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStateReleased, released.Agreement.State)

	require.NoError(t, l.penalties.HandleViolationEvent(ctx, violationEvent(staker, "msg-1", 50)))
	v, err := l.store.Violations().GetByID(ctx, violationID)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, v.Applied)
	assert.Equal(t, domain.Balances{Available: 50}, l.wallet(t, staker).Balances())
	l.requireConsistent(t, staker)
}

func TestWalletService_GetWallet(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := l.wallets.GetWallet(ctx, userID)
	assert.True(t, apperror.HasCode(err, apperror.CodeWalletNotFound))

	created, err := l.wallets.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), created.Total())
	assert.Equal(t, "USD", created.Currency)

	again, err := l.wallets.GetOrCreate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
}

// ==================== Idempotent references ====================

func TestWalletService_ReferenceReplay(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	userID := uuid.New()
	req := ports.MutationRequest{UserID: userID, Amount: 25, Reference: "dep-42"}

	first, err := l.wallets.Deposit(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := l.wallets.Deposit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int64(25), second.Wallet.AvailableBalance)

	assert.Equal(t, int64(25), l.wallet(t, userID).AvailableBalance)

	t.Run("different amount conflicts", func(t *testing.T) {
		_, err := l.wallets.Deposit(ctx, ports.MutationRequest{UserID: userID, Amount: 26, Reference: "dep-42"})
		assert.True(t, apperror.HasCode(err, apperror.CodeReferenceConflict))
	})
	t.Run("different kind conflicts", func(t *testing.T) {
		_, err := l.wallets.Withdraw(ctx, req)
		assert.True(t, apperror.HasCode(err, apperror.CodeReferenceConflict))
	})
	t.Run("different user conflicts", func(t *testing.T) {
		other := req
		other.UserID = uuid.New()
		_, err := l.wallets.Deposit(ctx, other)
		assert.True(t, apperror.HasCode(err, apperror.CodeReferenceConflict))
	})
}

func TestWalletService_ConcurrentSameReference(t *testing.T) {
	l := newLedger(t)
	userID := uuid.New()
	req := ports.MutationRequest{UserID: userID, Amount: 7, Reference: "retry-storm"}

	var wg sync.WaitGroup
	results := make(chan *ports.MutationResult, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.wallets.Deposit(context.Background(), req)
			assert.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	ids := map[uuid.UUID]bool{}
	for res := range results {
		if res != nil {
			ids[res.Entry.ID] = true
		}
	}
	assert.Len(t, ids, 1)
	assert.Equal(t, int64(7), l.wallet(t, userID).AvailableBalance)
}

func TestWalletService_ReplaysFromRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := newLedger(t)
	cache := redisadapter.NewIdempotencyCache(client)
	l.wallets = NewWalletService(l.store.Wallets(), l.store.Ledger(), cache, l.locker, l.store, testOptions(), newTestLogger())

	ctx := context.Background()
	req := ports.MutationRequest{UserID: uuid.New(), Amount: 12, Reference: "cached-ref"}

	first, err := l.wallets.Deposit(ctx, req)
	require.NoError(t, err)
	assert.True(t, mr.Exists("ledger:ref:cached-ref"))

	second, err := l.wallets.Deposit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, int64(12), second.Wallet.AvailableBalance)
}

// ==================== Concurrency ====================

func TestWalletService_ConcurrentDeposits(t *testing.T) {
	l := newLedger(t)
	userID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.wallets.Deposit(context.Background(), ports.MutationRequest{
				UserID:    userID,
				Amount:    1,
				Reference: fmt.Sprintf("concurrent-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	w := l.wallet(t, userID)
	assert.Equal(t, int64(100), w.AvailableBalance)
	assert.Equal(t, int64(100), w.Version)

	_, total, err := l.wallets.ListTransactions(context.Background(), ports.LedgerListParams{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	l.requireConsistent(t, userID)
}

func TestWalletService_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	l := newLedger(t)
	userID := uuid.New()
	l.deposit(t, userID, 50)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.wallets.Withdraw(context.Background(), ports.MutationRequest{UserID: userID, Amount: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperror.HasCode(err, apperror.CodeInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, ok)
	assert.Equal(t, 30, rejected)
	assert.Equal(t, int64(0), l.wallet(t, userID).AvailableBalance)
	l.requireConsistent(t, userID)
}

// ==================== ListTransactions ====================

func TestWalletService_ListTransactions_ClampsPaging(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)
	svc := NewWalletService(mocks.NewMockWalletRepository(ctrl), ledgerRepo, nil,
		mocks.NewMockWalletLocker(ctrl), mocks.NewMockDBTransactor(ctrl), testOptions(), newTestLogger())

	userID := uuid.New()
	ledgerRepo.EXPECT().List(gomock.Any(), ports.LedgerListParams{UserID: userID, Page: 1, PageSize: maxPageSize}).
		Return([]domain.LedgerEntry{}, int64(0), nil)

	entries, total, err := svc.ListTransactions(context.Background(), ports.LedgerListParams{UserID: userID, Page: -3, PageSize: 5000})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(0), total)
}

// ==================== Unit retries ====================

func TestWalletService_GivesUpAfterLockContention(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	locker := mocks.NewMockWalletLocker(ctrl)
	svc := NewWalletService(mocks.NewMockWalletRepository(ctrl), mocks.NewMockLedgerRepository(ctrl), nil,
		locker, mocks.NewMockDBTransactor(ctrl), testOptions(), newTestLogger())

	locker.EXPECT().WithLock(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("%w: wallet:x", ports.ErrLockContended)).
		Times(testOptions().MaxAttempts)

	_, err := svc.Deposit(context.Background(), ports.MutationRequest{UserID: uuid.New(), Amount: 1})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeRetryableConflict))
	assert.ErrorIs(t, err, ports.ErrLockContended)
}

func TestWalletService_RetriesVersionConflict(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	walletRepo := mocks.NewMockWalletRepository(ctrl)
	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)
	locker := mocks.NewMockWalletLocker(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewWalletService(walletRepo, ledgerRepo, nil, locker, transactor, testOptions(), newTestLogger())

	userID := uuid.New()
	wallet := domain.NewWallet(userID, "USD")

	locker.EXPECT().WithLock(gomock.Any(), "wallet:"+userID.String(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, fn func(context.Context) error) error {
			return fn(ctx)
		}).Times(2)
	transactor.EXPECT().Begin(gomock.Any()).Return(&mockTx{}, nil).Times(2)
	walletRepo.EXPECT().GetOrCreateForUpdate(gomock.Any(), gomock.Any(), userID, "USD").Return(wallet, nil).Times(2)
	ledgerRepo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	gomock.InOrder(
		walletRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), int64(0)).Return(ports.ErrVersionConflict),
		walletRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), int64(0)).Return(nil),
	)

	res, err := svc.Deposit(context.Background(), ports.MutationRequest{UserID: userID, Amount: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Wallet.AvailableBalance)
	assert.Equal(t, int64(1), res.Wallet.Version)
}

func TestWalletService_DoesNotRetryHardFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	walletRepo := mocks.NewMockWalletRepository(ctrl)
	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)
	locker := mocks.NewMockWalletLocker(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewWalletService(walletRepo, ledgerRepo, nil, locker, transactor, testOptions(), newTestLogger())

	userID := uuid.New()
	locker.EXPECT().WithLock(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, fn func(context.Context) error) error {
			return fn(ctx)
		}).Times(1)
	transactor.EXPECT().Begin(gomock.Any()).Return(&mockTx{}, nil)
	walletRepo.EXPECT().GetOrCreateForUpdate(gomock.Any(), gomock.Any(), userID, "USD").Return(domain.NewWallet(userID, "USD"), nil)
	ledgerRepo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	_, err := svc.Deposit(context.Background(), ports.MutationRequest{UserID: userID, Amount: 9})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInternal))
}

func TestWalletService_CommitFailureIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	walletRepo := mocks.NewMockWalletRepository(ctrl)
	ledgerRepo := mocks.NewMockLedgerRepository(ctrl)
	locker := mocks.NewMockWalletLocker(ctrl)
	transactor := mocks.NewMockDBTransactor(ctrl)
	svc := NewWalletService(walletRepo, ledgerRepo, nil, locker, transactor, testOptions(), newTestLogger())

	userID := uuid.New()
	locker.EXPECT().WithLock(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, fn func(context.Context) error) error {
			return fn(ctx)
		})
	transactor.EXPECT().Begin(gomock.Any()).Return(&failingCommitTx{}, nil)
	walletRepo.EXPECT().GetOrCreateForUpdate(gomock.Any(), gomock.Any(), userID, "USD").Return(domain.NewWallet(userID, "USD"), nil)
	ledgerRepo.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	walletRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), int64(0)).Return(nil)

	_, err := svc.Deposit(context.Background(), ports.MutationRequest{UserID: userID, Amount: 1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "commit tx")
}

type failingCommitTx struct{ pgx.Tx }

func (f *failingCommitTx) Rollback(_ context.Context) error { return nil }
func (f *failingCommitTx) Commit(_ context.Context) error   { return errors.New("connection reset") }
