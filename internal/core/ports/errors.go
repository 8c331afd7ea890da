package ports

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrVersionConflict is returned by WalletRepository.Update when another
	// writer bumped the wallet version first.
	ErrVersionConflict = errors.New("wallet version conflict")
	// ErrLockContended is returned by a WalletLocker that gave up waiting.
	ErrLockContended = errors.New("wallet lock contended")
)

// Unique constraint names shared by the PostgreSQL schema and the memory store.
const (
	ConstraintWalletUser          = "wallets_user_id_key"
	ConstraintLedgerReference     = "ledger_entries_reference_key"
	ConstraintEscrowLockOnce      = "ledger_entries_escrow_lock_once"
	ConstraintEscrowReleaseOnce   = "ledger_entries_escrow_release_once"
	ConstraintPenaltyOnce         = "ledger_entries_penalty_once"
	ConstraintViolationMessage    = "moderation_violations_message_id_key"
	ConstraintViolationPrimaryKey = "moderation_violations_pkey"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// IsUniqueViolation reports whether err is a unique violation of the named
// constraint. An empty name matches any unique constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsRetryable reports whether err is transient contention worth retrying.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrLockContended) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
	}
	return false
}
