package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CommitPublishes(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	userID := uuid.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	w, err := s.Wallets().GetOrCreateForUpdate(ctx, tx, userID, "USD")
	require.NoError(t, err)

	entry := domain.NewLedgerEntry(w, domain.EntryKindDeposit, 100, "dep-1")
	next, err := w.Apply(entry)
	require.NoError(t, err)
	entry.Stamp(next)

	require.NoError(t, s.Ledger().Create(ctx, tx, entry))
	require.NoError(t, s.Wallets().Update(ctx, tx, next, w.Version))
	require.NoError(t, tx.Commit(ctx))

	stored, err := s.Wallets().GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.AvailableBalance)
	assert.Equal(t, int64(1), stored.Version)

	got, err := s.Ledger().GetByReference(ctx, "dep-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.ID, got.ID)
}

func TestStore_RollbackUndoesEverything(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	userID := uuid.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	w, err := s.Wallets().GetOrCreateForUpdate(ctx, tx, userID, "USD")
	require.NoError(t, err)
	entry := domain.NewLedgerEntry(w, domain.EntryKindDeposit, 50, "dep-rollback")
	next, err := w.Apply(entry)
	require.NoError(t, err)
	require.NoError(t, s.Ledger().Create(ctx, tx, entry))
	require.NoError(t, s.Wallets().Update(ctx, tx, next, w.Version))
	require.NoError(t, s.Audits().CreateTx(ctx, tx, &domain.AuditLog{ID: uuid.New(), Action: domain.AuditActionDeposit}))

	require.NoError(t, tx.Rollback(ctx))
	assert.ErrorIs(t, tx.Rollback(ctx), pgx.ErrTxClosed)

	stored, err := s.Wallets().GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	got, err := s.Ledger().GetByReference(ctx, "dep-rollback")
	require.NoError(t, err)
	assert.Nil(t, got)

	logs, err := s.Audits().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestStore_UpdateVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	w, err := s.Wallets().GetOrCreateForUpdate(ctx, tx, uuid.New(), "USD")
	require.NoError(t, err)

	err = s.Wallets().Update(ctx, tx, w, w.Version+1)
	assert.ErrorIs(t, err, ports.ErrVersionConflict)
}

func TestLedgerRepo_UniqueIndexes(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	partnershipID := uuid.New()
	violationID := uuid.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	w, err := s.Wallets().GetOrCreateForUpdate(ctx, tx, uuid.New(), "USD")
	require.NoError(t, err)

	lock := domain.NewLedgerEntry(w, domain.EntryKindEscrowLock, 10, "")
	lock.PartnershipID = &partnershipID
	require.NoError(t, s.Ledger().Create(ctx, tx, lock))

	release := domain.NewLedgerEntry(w, domain.EntryKindEscrowReleaseReward, 10, "")
	release.PartnershipID = &partnershipID
	require.NoError(t, s.Ledger().Create(ctx, tx, release))

	penalty := domain.NewLedgerEntry(w, domain.EntryKindPenalty, 5, "")
	penalty.ViolationID = &violationID
	require.NoError(t, s.Ledger().Create(ctx, tx, penalty))

	tests := []struct {
		name       string
		entry      func() *domain.LedgerEntry
		constraint string
	}{
		{"duplicate reference", func() *domain.LedgerEntry {
			return domain.NewLedgerEntry(w, domain.EntryKindDeposit, 1, lock.Reference)
		}, ports.ConstraintLedgerReference},
		{"second lock", func() *domain.LedgerEntry {
			e := domain.NewLedgerEntry(w, domain.EntryKindEscrowLock, 10, "")
			e.PartnershipID = &partnershipID
			return e
		}, ports.ConstraintEscrowLockOnce},
		{"second release of another kind", func() *domain.LedgerEntry {
			e := domain.NewLedgerEntry(w, domain.EntryKindEscrowReleasePenalty, 10, "")
			e.PartnershipID = &partnershipID
			return e
		}, ports.ConstraintEscrowReleaseOnce},
		{"second penalty", func() *domain.LedgerEntry {
			e := domain.NewLedgerEntry(w, domain.EntryKindPenalty, 5, "")
			e.ViolationID = &violationID
			return e
		}, ports.ConstraintPenaltyOnce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Ledger().Create(ctx, tx, tt.entry())
			require.Error(t, err)
			assert.True(t, ports.IsUniqueViolation(err, tt.constraint), "got %v", err)
		})
	}

	t.Run("failed entries are outside the partial index", func(t *testing.T) {
		e := domain.NewLedgerEntry(w, domain.EntryKindEscrowLock, 10, "")
		e.PartnershipID = &partnershipID
		e.Status = domain.EntryStatusFailed
		assert.NoError(t, s.Ledger().Create(ctx, tx, e))
	})
}

func TestLedgerRepo_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	userID := uuid.New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	w, err := s.Wallets().GetOrCreateForUpdate(ctx, tx, userID, "USD")
	require.NoError(t, err)
	var refs []string
	for i := 0; i < 5; i++ {
		e := domain.NewLedgerEntry(w, domain.EntryKindDeposit, int64(i+1), "")
		refs = append(refs, e.Reference)
		require.NoError(t, s.Ledger().Create(ctx, tx, e))
	}
	require.NoError(t, tx.Commit(ctx))

	page, total, err := s.Ledger().List(ctx, ports.LedgerListParams{UserID: userID, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, refs[4], page[0].Reference)
	assert.Equal(t, refs[3], page[1].Reference)

	last, _, err := s.Ledger().List(ctx, ports.LedgerListParams{UserID: userID, Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, refs[0], last[0].Reference)

	beyond, _, err := s.Ledger().List(ctx, ports.LedgerListParams{UserID: userID, Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestSnapshotRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	tx, err := s.BeginSnapshot(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = s.Wallets().GetOrCreateForUpdate(ctx, tx, uuid.New(), "USD")
	assert.Error(t, err)
}

func TestBegin_HonorsContext(t *testing.T) {
	s := NewStore()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestViolationRepo_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	event := domain.ViolationEvent{UserID: uuid.New(), MessageID: "m-1", ViolationType: "spam", PenaltyAmount: 3}

	created, err := s.Violations().Create(ctx, event.ToViolation())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Violations().Create(ctx, event.ToViolation())
	require.NoError(t, err)
	assert.False(t, created)

	other := uuid.New()
	event.ViolationID = &other
	created, err = s.Violations().Create(ctx, event.ToViolation())
	require.NoError(t, err)
	assert.False(t, created, "message id is unique regardless of violation id")

	pending, err := s.Violations().ListUnapplied(ctx, domain.ViolationCursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestViolationRepo_ListUnappliedPagesByCursor(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		v := domain.ViolationEvent{UserID: uuid.New(), MessageID: fmt.Sprintf("page-%d", i), PenaltyAmount: 1}.ToViolation()
		v.CreatedAt = base.Add(time.Duration(i) * time.Second)
		created, err := s.Violations().Create(ctx, v)
		require.NoError(t, err)
		require.True(t, created)
		ids = append(ids, v.ID)
	}

	first, err := s.Violations().ListUnapplied(ctx, domain.ViolationCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[0], first[0].ID)
	assert.Equal(t, ids[1], first[1].ID)

	second, err := s.Violations().ListUnapplied(ctx, first[1].Cursor(), 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, ids[2], second[0].ID)

	rest, err := s.Violations().ListUnapplied(ctx, second[0].Cursor(), 2)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestLocker_SerializesAndTimesOut(t *testing.T) {
	ctx := context.Background()
	unbounded := NewLocker(0)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := unbounded.WithLock(ctx, "wallet:a", func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())

	l := NewLocker(30 * time.Millisecond)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = l.WithLock(ctx, "wallet:b", func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := l.WithLock(ctx, "wallet:b", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ports.ErrLockContended)
	assert.True(t, ports.IsRetryable(err))

	assert.NoError(t, l.WithLock(ctx, "wallet:c", func(context.Context) error { return nil }))
	close(done)
}
