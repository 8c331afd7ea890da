package memory

import (
	"context"
	"fmt"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	s *Store
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := r.s.read(ctx, func() {
		out = r.s.walletCopy(userID)
	})
	return out, err
}

func (r *WalletRepo) GetByUserIDTx(_ context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	if _, err := r.s.txOf(tx); err != nil {
		return nil, err
	}
	return r.s.walletCopy(userID), nil
}

// GetForUpdate needs no row lock: the transaction already holds the store.
func (r *WalletRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.Wallet, error) {
	return r.GetByUserIDTx(ctx, tx, userID)
}

func (r *WalletRepo) GetOrCreateForUpdate(_ context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*domain.Wallet, error) {
	t, err := r.s.writeTx(tx)
	if err != nil {
		return nil, err
	}
	if _, ok := r.s.wallets[userID]; !ok {
		r.s.wallets[userID] = domain.NewWallet(userID, currency)
		t.onRollback(func() { delete(r.s.wallets, userID) })
	}
	return r.s.walletCopy(userID), nil
}

func (r *WalletRepo) Update(_ context.Context, tx pgx.Tx, w *domain.Wallet, expectedVersion int64) error {
	t, err := r.s.writeTx(tx)
	if err != nil {
		return err
	}
	stored, ok := r.s.wallets[w.UserID]
	if !ok || stored.ID != w.ID || stored.Version != expectedVersion {
		return ports.ErrVersionConflict
	}
	if w.AvailableBalance < 0 {
		return fmt.Errorf("update wallet: %w", checkViolation("wallets_available_non_negative"))
	}
	if w.EscrowBalance < 0 {
		return fmt.Errorf("update wallet: %w", checkViolation("wallets_escrow_non_negative"))
	}

	prev := *stored
	next := *w
	r.s.wallets[w.UserID] = &next
	t.onRollback(func() { r.s.wallets[w.UserID] = &prev })
	return nil
}

func (s *Store) walletCopy(userID uuid.UUID) *domain.Wallet {
	w, ok := s.wallets[userID]
	if !ok {
		return nil
	}
	cp := *w
	return &cp
}
