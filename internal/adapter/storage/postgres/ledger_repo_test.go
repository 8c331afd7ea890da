package postgres

import (
	"context"
	"testing"
	"time"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry(kind domain.EntryKind, amount int64) *domain.LedgerEntry {
	partnershipID := uuid.New()
	return &domain.LedgerEntry{
		ID:             uuid.New(),
		WalletID:       uuid.New(),
		UserID:         uuid.New(),
		Kind:           kind,
		Amount:         amount,
		Currency:       "USD",
		Status:         domain.EntryStatusCompleted,
		PartnershipID:  &partnershipID,
		Description:    "stake",
		Reference:      "ref-" + uuid.NewString(),
		AvailableAfter: 60,
		EscrowAfter:    40,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

func entryRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "wallet_id", "user_id", "kind", "amount", "currency", "status", "partnership_id", "violation_id",
		"bucket", "description", "reference", "actor", "available_after", "escrow_after", "created_at",
	})
}

func addEntry(rows *pgxmock.Rows, e *domain.LedgerEntry) *pgxmock.Rows {
	return rows.AddRow(
		e.ID, e.WalletID, e.UserID, e.Kind, e.Amount, e.Currency, e.Status,
		e.PartnershipID, e.ViolationID, e.Bucket, e.Description, e.Reference,
		e.Actor, e.AvailableAfter, e.EscrowAfter, e.CreatedAt,
	)
}

func TestLedgerRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry(domain.EntryKindEscrowLock, 40)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(
			e.ID, e.WalletID, e.UserID, e.Kind, e.Amount, e.Currency, e.Status,
			e.PartnershipID, e.ViolationID, e.Bucket, e.Description, e.Reference,
			e.Actor, e.AvailableAfter, e.EscrowAfter, e.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), tx, e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Create_UniqueViolationIsDetectable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry(domain.EntryKindEscrowReleaseReward, 40)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger_entries").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: ports.ConstraintEscrowReleaseOnce})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, e)
	require.Error(t, err)
	assert.True(t, ports.IsUniqueViolation(err, ports.ConstraintEscrowReleaseOnce))
	assert.False(t, ports.IsUniqueViolation(err, ports.ConstraintLedgerReference))
}

func TestLedgerRepo_GetByReference(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry(domain.EntryKindDeposit, 100)

	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE reference").
		WithArgs(e.Reference).
		WillReturnRows(addEntry(entryRows(), e))

	result, err := repo.GetByReference(context.Background(), e.Reference)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, e.ID, result.ID)
	assert.Equal(t, domain.EntryKindDeposit, result.Kind)
	assert.Equal(t, *e.PartnershipID, *result.PartnershipID)
	assert.Nil(t, result.ViolationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_GetByReference_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE reference").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetByReference(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestLedgerRepo_ListByWallet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	deposit := newTestEntry(domain.EntryKindDeposit, 100)
	lock := newTestEntry(domain.EntryKindEscrowLock, 40)
	lock.WalletID = deposit.WalletID

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE wallet_id .+ ORDER BY seq").
		WithArgs(deposit.WalletID).
		WillReturnRows(addEntry(addEntry(entryRows(), deposit), lock))

	tx, err := NewTransactor(mock, 0).BeginSnapshot(context.Background())
	require.NoError(t, err)

	entries, err := repo.ListByWallet(context.Background(), tx, deposit.WalletID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.Balances{Available: 60, Escrow: 40}, domain.Replay(entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_List_WithFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewLedgerRepo(mock)
	e := newTestEntry(domain.EntryKindEscrowLock, 40)
	kind := domain.EntryKindEscrowLock

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ledger_entries WHERE user_id .+ AND kind .+ AND partnership_id").
		WithArgs(e.UserID, kind, *e.PartnershipID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM ledger_entries WHERE user_id .+ ORDER BY created_at DESC").
		WithArgs(e.UserID, kind, *e.PartnershipID, 20, 0).
		WillReturnRows(addEntry(entryRows(), e))

	entries, total, err := repo.List(context.Background(), ports.LedgerListParams{
		UserID:        e.UserID,
		Kind:          &kind,
		PartnershipID: e.PartnershipID,
		Page:          1,
		PageSize:      20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
