package postgres

import (
	"context"
	"errors"
	"fmt"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, user_id, available_balance, escrow_balance, currency, version, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetByUserID fetches a user's wallet (without locking).
func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("get wallet by user id: %w", err)
	}
	return w, nil
}

// GetByUserIDTx fetches a user's wallet inside tx without taking a row lock.
func (r *WalletRepo) GetByUserIDTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	w, err := scanWallet(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("get wallet by user id in tx: %w", err)
	}
	return w, nil
}

// GetForUpdate fetches a user's wallet with pessimistic locking.
// This MUST be called within a transaction.
func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("get wallet for update: %w", err)
	}
	return w, nil
}

// GetOrCreateForUpdate lazily creates a zero-balance wallet, then locks it.
// This MUST be called within a transaction.
func (r *WalletRepo) GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	fresh := domain.NewWallet(userID, currency)
	insert := `INSERT INTO wallets (id, user_id, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := tx.Exec(ctx, insert, fresh.ID, fresh.UserID, fresh.Currency, fresh.CreatedAt, fresh.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	w, err := r.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("wallet for user %s vanished after insert", userID)
	}
	return w, nil
}

// Update writes the wallet's balances guarded by its previous version.
func (r *WalletRepo) Update(ctx context.Context, tx pgx.Tx, w *domain.Wallet, expectedVersion int64) error {
	query := `UPDATE wallets
		SET available_balance = $1, escrow_balance = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`

	tag, err := tx.Exec(ctx, query,
		w.AvailableBalance, w.EscrowBalance, w.Version, w.UpdatedAt,
		w.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update wallet balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrVersionConflict
	}
	return nil
}

// scanWallet returns nil, nil when the row does not exist.
func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.AvailableBalance, &w.EscrowBalance,
		&w.Currency, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}
