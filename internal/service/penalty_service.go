package service

import (
	"context"
	"errors"
	"fmt"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// PenaltyServiceImpl implements ports.PenaltyService.
//
// A penalty is charged at most once: the violation row is locked, the
// applied flag is checked under that lock, and the penalty entry is guarded
// by a unique index on its violation id. Penalties never overdraw a wallet;
// a violation the user cannot pay stays pending for the sweep.
type PenaltyServiceImpl struct {
	violationRepo ports.ViolationRepository
	walletRepo    ports.WalletRepository
	ledgerRepo    ports.LedgerRepository
	units         *unitRunner
	opts          Options
	log           zerolog.Logger
}

// NewPenaltyService creates a new PenaltyServiceImpl.
func NewPenaltyService(
	violationRepo ports.ViolationRepository,
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	locker ports.WalletLocker,
	transactor ports.DBTransactor,
	opts Options,
	log zerolog.Logger,
) *PenaltyServiceImpl {
	return &PenaltyServiceImpl{
		violationRepo: violationRepo,
		walletRepo:    walletRepo,
		ledgerRepo:    ledgerRepo,
		units:         newUnitRunner(locker, transactor, opts, log),
		opts:          opts,
		log:           log,
	}
}

// ApplyPenalty debits the violation's penalty from the user's available balance.
func (s *PenaltyServiceImpl) ApplyPenalty(ctx context.Context, violationID uuid.UUID) (*ports.PenaltyResult, error) {
	v, err := s.violationRepo.GetByID(ctx, violationID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get violation: %w", err))
	}
	if v == nil {
		return nil, apperror.ErrViolationNotFound()
	}
	if v.Applied {
		return nil, apperror.ErrAlreadyApplied()
	}
	if v.PenaltyAmount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	var result *ports.PenaltyResult
	err = s.units.run(ctx, v.UserID, "apply_penalty", func(ctx context.Context, tx pgx.Tx) error {
		locked, err := s.violationRepo.GetByIDForUpdate(ctx, tx, violationID)
		if err != nil {
			return err
		}
		if locked == nil {
			return apperror.ErrViolationNotFound()
		}
		if locked.Applied {
			return apperror.ErrAlreadyApplied()
		}

		w, err := s.walletRepo.GetOrCreateForUpdate(ctx, tx, locked.UserID, s.opts.Currency)
		if err != nil {
			return err
		}

		id := locked.ID
		entry := domain.NewLedgerEntry(w, domain.EntryKindPenalty, locked.PenaltyAmount, domain.PenaltyReference(id))
		entry.ViolationID = &id
		entry.Description = "moderation penalty: " + locked.ViolationType

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
		if err := s.violationRepo.MarkApplied(ctx, tx, id, entry.ID, entry.CreatedAt); err != nil {
			return err
		}

		locked.Applied = true
		locked.AppliedEntryID = &entry.ID
		locked.AppliedAt = &entry.CreatedAt
		result = &ports.PenaltyResult{Violation: locked, Wallet: next, Entry: entry}
		return nil
	})
	if err != nil {
		if ports.IsUniqueViolation(err, ports.ConstraintPenaltyOnce) {
			return nil, apperror.ErrAlreadyApplied()
		}
		return nil, asAppError(err)
	}

	s.log.Info().
		Str("entry_id", result.Entry.ID.String()).
		Str("violation_id", violationID.String()).
		Str("user_id", v.UserID.String()).
		Int64("amount", result.Entry.Amount).
		Msg("penalty applied successfully")

	return result, nil
}

// RecordViolation stores the violation carried by a moderation event. A
// repeated event returns the violation stored the first time.
func (s *PenaltyServiceImpl) RecordViolation(ctx context.Context, event domain.ViolationEvent) (*domain.ModerationViolation, error) {
	switch {
	case event.UserID == uuid.Nil:
		return nil, apperror.Validation("user_id is required")
	case event.MessageID == "":
		return nil, apperror.Validation("message_id is required")
	case event.PenaltyAmount <= 0:
		return nil, apperror.Validation("penalty_amount must be positive")
	}

	v := event.ToViolation()
	created, err := s.violationRepo.Create(ctx, v)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record violation: %w", err))
	}
	if created {
		s.log.Info().
			Str("violation_id", v.ID.String()).
			Str("user_id", v.UserID.String()).
			Str("message_id", v.MessageID).
			Int64("amount", v.PenaltyAmount).
			Msg("violation recorded")
		return v, nil
	}

	existing, err := s.violationRepo.GetByMessageID(ctx, event.MessageID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get violation by message id: %w", err))
	}
	if existing == nil {
		existing, err = s.violationRepo.GetByID(ctx, v.ID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("get violation: %w", err))
		}
	}
	if existing == nil {
		return nil, apperror.InternalError(fmt.Errorf("violation for message %s vanished after conflict", event.MessageID))
	}
	return existing, nil
}

// HandleViolationEvent records the violation and tries to charge it. A
// penalty that was already charged is success; one the user cannot pay yet
// is left pending.
func (s *PenaltyServiceImpl) HandleViolationEvent(ctx context.Context, event domain.ViolationEvent) error {
	v, err := s.RecordViolation(ctx, event)
	if err != nil {
		return err
	}
	if v.Applied {
		return nil
	}

	_, err = s.ApplyPenalty(ctx, v.ID)
	switch {
	case err == nil, apperror.HasCode(err, apperror.CodeAlreadyApplied):
		return nil
	case apperror.HasCode(err, apperror.CodeInsufficientFunds):
		s.log.Info().
			Str("violation_id", v.ID.String()).
			Str("user_id", v.UserID.String()).
			Msg("insufficient funds, penalty left pending")
		return nil
	}
	return err
}

// ApplyPending walks every pending violation, oldest first, in pages of
// pageSize and returns how many were applied. A violation its user still
// cannot pay is stepped over, so it never hides newer ones.
func (s *PenaltyServiceImpl) ApplyPending(ctx context.Context, pageSize int) (int, error) {
	if pageSize < 1 {
		pageSize = 1
	}

	var (
		cursor  domain.ViolationCursor
		applied int
		scanned int
		errs    []error
	)
	for ctx.Err() == nil {
		page, err := s.violationRepo.ListUnapplied(ctx, cursor, pageSize)
		if err != nil {
			errs = append(errs, apperror.InternalError(fmt.Errorf("list pending violations: %w", err)))
			break
		}
		for i := range page {
			if ctx.Err() != nil {
				break
			}
			v := &page[i]
			cursor = v.Cursor()
			scanned++
			_, err := s.ApplyPenalty(ctx, v.ID)
			switch {
			case err == nil:
				applied++
			case apperror.HasCode(err, apperror.CodeAlreadyApplied),
				apperror.HasCode(err, apperror.CodeInsufficientFunds):
			default:
				s.log.Warn().Err(err).Str("violation_id", v.ID.String()).Msg("pending penalty failed")
				errs = append(errs, err)
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	if applied > 0 {
		s.log.Info().Int("applied", applied).Int("scanned", scanned).Msg("pending penalties swept")
	}
	return applied, errors.Join(errs...)
}
