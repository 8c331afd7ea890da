package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	ledgerRepo ports.LedgerRepository
	idempCache ports.IdempotencyCache // optional
	units      *unitRunner
	opts       Options
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl. idempCache may be nil.
func NewWalletService(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	idempCache ports.IdempotencyCache,
	locker ports.WalletLocker,
	transactor ports.DBTransactor,
	opts Options,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		ledgerRepo: ledgerRepo,
		idempCache: idempCache,
		units:      newUnitRunner(locker, transactor, opts, log),
		opts:       opts,
		log:        log,
	}
}

// GetOrCreate returns the user's wallet, creating an empty one if needed.
func (s *WalletServiceImpl) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w != nil {
		return w, nil
	}

	err = s.units.run(ctx, userID, "get_or_create", func(ctx context.Context, tx pgx.Tx) error {
		w, err = s.walletRepo.GetOrCreateForUpdate(ctx, tx, userID, s.opts.Currency)
		return err
	})
	if err != nil {
		return nil, asAppError(err)
	}
	return w, nil
}

// Deposit credits the available balance.
func (s *WalletServiceImpl) Deposit(ctx context.Context, req ports.MutationRequest) (*ports.MutationResult, error) {
	return s.mutate(ctx, req, domain.EntryKindDeposit)
}

// Withdraw debits the available balance.
func (s *WalletServiceImpl) Withdraw(ctx context.Context, req ports.MutationRequest) (*ports.MutationResult, error) {
	return s.mutate(ctx, req, domain.EntryKindWithdrawal)
}

func (s *WalletServiceImpl) mutate(ctx context.Context, req ports.MutationRequest, kind domain.EntryKind) (*ports.MutationResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, s.opts.Currency) {
		return nil, apperror.ErrCurrencyMismatch(s.opts.Currency)
	}
	if !domain.IsCallerReference(req.Reference) {
		return nil, apperror.Validation("reference must not contain ':'")
	}

	if req.Reference != "" {
		replay, err := s.lookupReference(ctx, req, kind)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	var result *ports.MutationResult
	err := s.units.run(ctx, req.UserID, string(kind), func(ctx context.Context, tx pgx.Tx) error {
		w, err := s.walletRepo.GetOrCreateForUpdate(ctx, tx, req.UserID, s.opts.Currency)
		if err != nil {
			return err
		}

		entry := domain.NewLedgerEntry(w, kind, req.Amount, req.Reference)
		entry.Description = req.Description

		next, err := w.Apply(entry)
		if err != nil {
			return balanceError(err)
		}
		entry.Stamp(next)

		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return err
		}
		if err := s.walletRepo.Update(ctx, tx, next, w.Version); err != nil {
			return err
		}

		result = &ports.MutationResult{Wallet: next, Entry: entry}
		return nil
	})
	if err != nil {
		// A concurrent request with the same reference committed first.
		if req.Reference != "" && ports.IsUniqueViolation(err, ports.ConstraintLedgerReference) {
			replay, lookupErr := s.lookupReference(ctx, req, kind)
			if lookupErr != nil || replay != nil {
				return replay, lookupErr
			}
		}
		return nil, asAppError(err)
	}

	s.cacheEntry(ctx, result.Entry)

	s.log.Info().
		Str("entry_id", result.Entry.ID.String()).
		Str("user_id", req.UserID.String()).
		Str("kind", string(kind)).
		Int64("amount", req.Amount).
		Msg("wallet mutation processed successfully")

	return result, nil
}

// lookupReference answers a retried request from its original entry.
// Returns nil, nil when the reference is unused.
func (s *WalletServiceImpl) lookupReference(ctx context.Context, req ports.MutationRequest, kind domain.EntryKind) (*ports.MutationResult, error) {
	entry := s.cachedEntry(ctx, req.Reference)
	if entry == nil {
		var err error
		entry, err = s.ledgerRepo.GetByReference(ctx, req.Reference)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("lookup reference: %w", err))
		}
		if entry == nil {
			return nil, nil
		}
		s.cacheEntry(ctx, entry)
	}

	if entry.UserID != req.UserID || entry.Kind != kind || entry.Amount != req.Amount {
		return nil, apperror.ErrReferenceConflict()
	}

	s.log.Info().
		Str("entry_id", entry.ID.String()).
		Str("reference", req.Reference).
		Msg("replayed idempotent request")

	return &ports.MutationResult{Wallet: entry.WalletSnapshot(), Entry: entry, Replayed: true}, nil
}

func (s *WalletServiceImpl) cachedEntry(ctx context.Context, reference string) *domain.LedgerEntry {
	if s.idempCache == nil {
		return nil
	}
	cached, err := s.idempCache.Get(ctx, reference)
	if err != nil {
		s.log.Warn().Err(err).Str("reference", reference).Msg("redis idempotency check failed, falling through to DB")
		return nil
	}
	if cached == nil {
		return nil
	}
	var entry domain.LedgerEntry
	if err := json.Unmarshal(cached, &entry); err != nil {
		s.log.Warn().Err(err).Str("reference", reference).Msg("discarding unreadable idempotency cache entry")
		return nil
	}
	return &entry
}

func (s *WalletServiceImpl) cacheEntry(ctx context.Context, entry *domain.LedgerEntry) {
	if s.idempCache == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, entry.Reference, data, s.opts.IdempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("reference", entry.Reference).Msg("failed to cache idempotency in redis")
	}
}

// GetWallet returns the user's wallet.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return w, nil
}

// ListTransactions returns the user's ledger entries, newest first.
func (s *WalletServiceImpl) ListTransactions(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	entries, total, err := s.ledgerRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list ledger entries: %w", err))
	}
	return entries, total, nil
}
