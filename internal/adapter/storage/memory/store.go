// Package memory is a transactional in-process implementation of the storage
// ports. It backs the memory storage driver and service-level tests.
//
// Every transaction holds the store exclusively from Begin until Commit or
// Rollback, so transactions are serializable. Writes keep an undo log that
// Rollback replays in reverse. Constraint violations surface as
// *pgconn.PgError with the same codes and constraint names PostgreSQL uses.
package memory

import (
	"context"
	"errors"
	"fmt"

	"partnership-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

var errForeignTx = errors.New("transaction does not belong to this store")

// Store holds all tables.
type Store struct {
	sem chan struct{}

	wallets      map[uuid.UUID]*domain.Wallet // keyed by user id
	entries      []domain.LedgerEntry
	references   map[string]int
	agreements   map[uuid.UUID]*domain.EscrowAgreement
	partnerships map[uuid.UUID]*domain.Partnership
	violations   map[uuid.UUID]*domain.ModerationViolation
	messages     map[string]uuid.UUID
	audits       []domain.AuditLog
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sem:          make(chan struct{}, 1),
		wallets:      make(map[uuid.UUID]*domain.Wallet),
		references:   make(map[string]int),
		agreements:   make(map[uuid.UUID]*domain.EscrowAgreement),
		partnerships: make(map[uuid.UUID]*domain.Partnership),
		violations:   make(map[uuid.UUID]*domain.ModerationViolation),
		messages:     make(map[string]uuid.UUID),
	}
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire store: %w", ctx.Err())
	}
}

func (s *Store) release() {
	<-s.sem
}

// read runs fn with the store held, outside any transaction.
func (s *Store) read(ctx context.Context, fn func()) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	fn()
	return nil
}

// Begin starts a read-write transaction.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &memTx{store: s}, nil
}

// BeginSnapshot starts a read-only transaction.
func (s *Store) BeginSnapshot(ctx context.Context) (pgx.Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, fmt.Errorf("begin snapshot transaction: %w", err)
	}
	return &memTx{store: s, readOnly: true}, nil
}

// Ping implements ports.HealthChecker.
func (s *Store) Ping(ctx context.Context) error {
	return s.read(ctx, func() {})
}

// Name implements ports.HealthChecker.
func (s *Store) Name() string {
	return "memory"
}

// memTx is the store's pgx.Tx. Only Commit and Rollback are implemented;
// repositories type-assert it back to reach the undo log.
type memTx struct {
	pgx.Tx
	store    *Store
	readOnly bool
	undo     []func()
	closed   bool
}

func (t *memTx) Commit(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.undo = nil
	t.store.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.closed = true
	t.undo = nil
	t.store.release()
	return nil
}

func (t *memTx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// txOf returns the open transaction behind tx.
func (s *Store) txOf(tx pgx.Tx) (*memTx, error) {
	t, ok := tx.(*memTx)
	if !ok || t.store != s {
		return nil, errForeignTx
	}
	if t.closed {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// writeTx is txOf for statements that modify data.
func (s *Store) writeTx(tx pgx.Tx) (*memTx, error) {
	t, err := s.txOf(tx)
	if err != nil {
		return nil, err
	}
	if t.readOnly {
		return nil, errors.New("cannot write in a read-only transaction")
	}
	return t, nil
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{
		Code:           codeUniqueViolation,
		ConstraintName: constraint,
		Message:        fmt.Sprintf("duplicate key value violates unique constraint %q", constraint),
	}
}

func checkViolation(constraint string) error {
	return &pgconn.PgError{
		Code:           codeCheckViolation,
		ConstraintName: constraint,
		Message:        fmt.Sprintf("new row violates check constraint %q", constraint),
	}
}

// AddPartnership stores a partnership read model. The partnership service
// owns these rows; the memory driver is seeded through this method.
func (s *Store) AddPartnership(p domain.Partnership) {
	s.sem <- struct{}{}
	defer s.release()
	s.partnerships[p.ID] = &p
}

// OverwriteBalances replaces a wallet's stored balances without writing a
// ledger entry, simulating drift between the projection and the ledger.
func (s *Store) OverwriteBalances(userID uuid.UUID, b domain.Balances) error {
	s.sem <- struct{}{}
	defer s.release()
	w, ok := s.wallets[userID]
	if !ok {
		return fmt.Errorf("wallet for user %s not found", userID)
	}
	w.AvailableBalance = b.Available
	w.EscrowBalance = b.Escrow
	return nil
}

// Wallets returns the wallet repository view of the store.
func (s *Store) Wallets() *WalletRepo { return &WalletRepo{s: s} }

// Ledger returns the ledger repository view of the store.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

// Agreements returns the escrow agreement repository view of the store.
func (s *Store) Agreements() *AgreementRepo { return &AgreementRepo{s: s} }

// Partnerships returns the partnership repository view of the store.
func (s *Store) Partnerships() *PartnershipRepo { return &PartnershipRepo{s: s} }

// Violations returns the violation repository view of the store.
func (s *Store) Violations() *ViolationRepo { return &ViolationRepo{s: s} }

// Audits returns the audit repository view of the store.
func (s *Store) Audits() *AuditRepo { return &AuditRepo{s: s} }
