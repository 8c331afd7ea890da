package ports

import (
	"context"
	"time"

	"partnership-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// RoleAdmin is the token role allowed on admin routes.
const RoleAdmin = "admin"

// TokenService verifies bearer tokens minted by the platform auth service.
type TokenService interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   string
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// WalletLocker serializes mutations of one wallet across goroutines and
// instances. WithLock returns ErrLockContended when the lock cannot be
// acquired within its bounded wait.
type WalletLocker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// --- Service Ports (Business Logic) ---

// WalletService owns wallet balances.
type WalletService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	Deposit(ctx context.Context, req MutationRequest) (*MutationResult, error)
	Withdraw(ctx context.Context, req MutationRequest) (*MutationResult, error)
	GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	ListTransactions(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
}

// MutationRequest holds validated input for a deposit or withdrawal.
type MutationRequest struct {
	UserID      uuid.UUID
	Amount      int64
	Currency    string // optional; must match the ledger currency when set
	Reference   string // optional idempotency token
	Description string
}

// MutationResult is the wallet snapshot after the entry was applied.
type MutationResult struct {
	Wallet   *domain.Wallet
	Entry    *domain.LedgerEntry
	Replayed bool // answered from an earlier request with the same reference
}

// EscrowService runs the stake lifecycle of a partnership.
type EscrowService interface {
	Stake(ctx context.Context, req StakeRequest) (*EscrowResult, error)
	Release(ctx context.Context, req ReleaseRequest) (*EscrowResult, error)
	GetAgreement(ctx context.Context, partnershipID, userID uuid.UUID) (*AgreementView, error)
}

// StakeRequest holds validated input for locking a stake.
type StakeRequest struct {
	PartnershipID uuid.UUID
	UserID        uuid.UUID
	Amount        int64
}

// ReleaseRequest holds validated input for releasing a stake.
type ReleaseRequest struct {
	PartnershipID uuid.UUID
	UserID        uuid.UUID // caller, must be a participant
	Success       bool
	Description   string
}

// EscrowResult is the outcome of a stake or release.
type EscrowResult struct {
	Agreement *domain.EscrowAgreement
	Wallet    *domain.Wallet
	Entry     *domain.LedgerEntry
}

// AgreementView pairs the projection with the ledger-derived state.
type AgreementView struct {
	Agreement    *domain.EscrowAgreement
	DerivedState domain.EscrowState
}

// PenaltyService applies moderation penalties exactly once.
type PenaltyService interface {
	ApplyPenalty(ctx context.Context, violationID uuid.UUID) (*PenaltyResult, error)
	RecordViolation(ctx context.Context, event domain.ViolationEvent) (*domain.ModerationViolation, error)
	HandleViolationEvent(ctx context.Context, event domain.ViolationEvent) error
	ApplyPending(ctx context.Context, pageSize int) (int, error)
}

// PenaltyResult is the outcome of an applied penalty.
type PenaltyResult struct {
	Violation *domain.ModerationViolation
	Wallet    *domain.Wallet
	Entry     *domain.LedgerEntry
}

// ReconciliationService verifies and repairs wallets against the ledger.
type ReconciliationService interface {
	Verify(ctx context.Context, userID uuid.UUID) (*domain.ReconciliationReport, error)
	Repair(ctx context.Context, userID uuid.UUID, correction domain.Correction) (*domain.RepairResult, error)
}

// AuditService records audited actions without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
