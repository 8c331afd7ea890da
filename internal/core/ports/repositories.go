package ports

import (
	"context"
	"time"

	"partnership-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	GetByUserIDTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error)
	// GetForUpdate locks the user's wallet row. Returns nil, nil when absent.
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error)
	// GetOrCreateForUpdate inserts a zero wallet if none exists, then locks it.
	GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*domain.Wallet, error)
	// Update writes balances and version; ErrVersionConflict if the stored
	// version is no longer expectedVersion.
	Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet, expectedVersion int64) error
}

// LedgerRepository is the append-only store of ledger entries.
type LedgerRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error)
	// GetEscrowLock returns the completed escrow_lock entry of a partnership, or nil.
	GetEscrowLock(ctx context.Context, partnershipID uuid.UUID) (*domain.LedgerEntry, error)
	ListByPartnership(ctx context.Context, tx pgx.Tx, partnershipID uuid.UUID) ([]domain.LedgerEntry, error)
	// ListByWallet returns every entry of the wallet in insertion order.
	ListByWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) ([]domain.LedgerEntry, error)
	List(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
}

// LedgerListParams holds filter + pagination for listing ledger entries.
type LedgerListParams struct {
	UserID        uuid.UUID
	Kind          *domain.EntryKind
	Status        *domain.EntryStatus
	PartnershipID *uuid.UUID
	Page          int
	PageSize      int
}

// AgreementRepository persists the escrow agreement projection.
type AgreementRepository interface {
	GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, partnershipID uuid.UUID, currency string) (*domain.EscrowAgreement, error)
	Update(ctx context.Context, tx pgx.Tx, agreement *domain.EscrowAgreement) error
	GetByPartnershipID(ctx context.Context, partnershipID uuid.UUID) (*domain.EscrowAgreement, error)
	ListByStaker(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]domain.EscrowAgreement, error)
}

// PartnershipRepository reads partnerships owned by the partnership service.
type PartnershipRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Partnership, error)
}

// ViolationRepository persists moderation violations.
type ViolationRepository interface {
	// Create stores the violation unless one with the same id or message id
	// exists. Returns false when it already existed.
	Create(ctx context.Context, v *domain.ModerationViolation) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ModerationViolation, error)
	GetByMessageID(ctx context.Context, messageID string) (*domain.ModerationViolation, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ModerationViolation, error)
	MarkApplied(ctx context.Context, tx pgx.Tx, id uuid.UUID, entryID uuid.UUID, at time.Time) error
	// ListUnapplied pages through pending violations in (created_at, id) order,
	// starting strictly after the cursor.
	ListUnapplied(ctx context.Context, after domain.ViolationCursor, limit int) ([]domain.ModerationViolation, error)
}

// AuditRepository persists audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	CreateTx(ctx context.Context, tx pgx.Tx, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	// BeginSnapshot starts a read-only REPEATABLE READ transaction.
	BeginSnapshot(ctx context.Context) (pgx.Tx, error)
}
