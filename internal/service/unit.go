package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"partnership-ledger/config"
	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Options carries the ledger settings shared by the services.
type Options struct {
	Currency       string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	IdempotencyTTL time.Duration
}

// OptionsFromConfig maps the ledger config section.
func OptionsFromConfig(cfg config.LedgerConfig) Options {
	return Options{
		Currency:       cfg.Currency,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
}

// unitRunner runs a unit of work: wallet lock, one transaction, commit.
// Transient contention (lock timeouts, deadlocks, version conflicts, a busy
// wallet lock) is retried with exponential backoff and full jitter.
type unitRunner struct {
	locker      ports.WalletLocker
	transactor  ports.DBTransactor
	maxAttempts int
	baseDelay   time.Duration
	log         zerolog.Logger
}

func newUnitRunner(locker ports.WalletLocker, transactor ports.DBTransactor, opts Options, log zerolog.Logger) *unitRunner {
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &unitRunner{
		locker:      locker,
		transactor:  transactor,
		maxAttempts: attempts,
		baseDelay:   opts.RetryBaseDelay,
		log:         log,
	}
}

func walletLockKey(userID uuid.UUID) string {
	return "wallet:" + userID.String()
}

// run executes fn for the wallet of userID. The returned error is fn's own
// error, or RetryableConflict once every attempt hit contention.
func (u *unitRunner) run(ctx context.Context, userID uuid.UUID, op string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		err = u.locker.WithLock(ctx, walletLockKey(userID), func(ctx context.Context) error {
			return u.inTx(ctx, fn)
		})
		if err == nil || !ports.IsRetryable(err) {
			return err
		}
		if attempt == u.maxAttempts {
			break
		}

		u.log.Debug().Err(err).
			Str("op", op).
			Str("user_id", userID.String()).
			Int("attempt", attempt).
			Msg("transient conflict, retrying")

		if sleepErr := sleepWithContext(ctx, backoffDelay(u.baseDelay, attempt-1)); sleepErr != nil {
			return sleepErr
		}
	}

	u.log.Warn().Err(err).
		Str("op", op).
		Str("user_id", userID.String()).
		Int("attempts", u.maxAttempts).
		Msg("unit of work gave up after repeated conflicts")
	return apperror.ErrRetryableConflict(err)
}

func (u *unitRunner) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := u.transactor.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// backoffDelay is base * 2^attempt with full jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	attempt = min(max(attempt, 0), 30)
	mult := int64(1) << attempt
	if int64(base) > math.MaxInt64/mult {
		return time.Duration(rand.Int64N(math.MaxInt64))
	}
	return time.Duration(rand.Int64N(int64(base) * mult))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// balanceError maps a balance change refused by the domain onto its client error.
func balanceError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNegativeBalance):
		return apperror.ErrInsufficientFunds()
	case errors.Is(err, domain.ErrBalanceOverflow):
		return apperror.ErrAmountOverflow()
	}
	return err
}

// asAppError passes AppErrors through and hides everything else behind an
// internal error.
func asAppError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.InternalError(err)
}
