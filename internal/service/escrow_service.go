package service

import (
	"context"
	"fmt"
	"strings"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// EscrowServiceImpl implements ports.EscrowService.
//
// The escrow state of a partnership is always derived from its completed
// lock and release entries while the agreement row is locked; the
// escrow_agreements row is a projection rewritten from that derivation.
type EscrowServiceImpl struct {
	partnershipRepo ports.PartnershipRepository
	walletRepo      ports.WalletRepository
	ledgerRepo      ports.LedgerRepository
	agreementRepo   ports.AgreementRepository
	transactor      ports.DBTransactor
	units           *unitRunner
	opts            Options
	log             zerolog.Logger
}

// NewEscrowService creates a new EscrowServiceImpl.
func NewEscrowService(
	partnershipRepo ports.PartnershipRepository,
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	agreementRepo ports.AgreementRepository,
	locker ports.WalletLocker,
	transactor ports.DBTransactor,
	opts Options,
	log zerolog.Logger,
) *EscrowServiceImpl {
	return &EscrowServiceImpl{
		partnershipRepo: partnershipRepo,
		walletRepo:      walletRepo,
		ledgerRepo:      ledgerRepo,
		agreementRepo:   agreementRepo,
		transactor:      transactor,
		units:           newUnitRunner(locker, transactor, opts, log),
		opts:            opts,
		log:             log,
	}
}

// Stake moves the caller's stake from available to escrow.
func (s *EscrowServiceImpl) Stake(ctx context.Context, req ports.StakeRequest) (*ports.EscrowResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	p, err := s.partnershipRepo.GetByID(ctx, req.PartnershipID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get partnership: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrPartnershipNotFound()
	}
	if p.Status != domain.PartnershipStatusAccepted {
		return nil, apperror.ErrAgreementNotAcceptable()
	}
	if !p.IsParticipant(req.UserID) {
		return nil, apperror.ErrNotParticipant()
	}
	if p.StakeAmount != nil && *p.StakeAmount != req.Amount {
		return nil, apperror.ErrStakeTermsMismatch(*p.StakeAmount)
	}
	if p.StakeCurrency != "" && !strings.EqualFold(p.StakeCurrency, s.opts.Currency) {
		return nil, apperror.ErrCurrencyMismatch(s.opts.Currency)
	}

	var result *ports.EscrowResult
	err = s.units.run(ctx, req.UserID, "escrow_stake", func(ctx context.Context, tx pgx.Tx) error {
		agreement, entries, history, err := s.lockAgreement(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if history.State != domain.EscrowStateUnstaked {
			return apperror.ErrAlreadyStaked()
		}

		w, err := s.walletRepo.GetOrCreateForUpdate(ctx, tx, req.UserID, s.opts.Currency)
		if err != nil {
			return err
		}

		partnershipID := p.ID
		entry := domain.NewLedgerEntry(w, domain.EntryKindEscrowLock, req.Amount,
			domain.EscrowLockReference(p.ID, req.UserID))
		entry.PartnershipID = &partnershipID
		entry.Description = "partnership stake"

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

		agreement.Sync(domain.DeriveEscrow(append(entries, *entry)))
		if err := s.agreementRepo.Update(ctx, tx, agreement); err != nil {
			return err
		}

		result = &ports.EscrowResult{Agreement: agreement, Wallet: next, Entry: entry}
		return nil
	})
	if err != nil {
		if ports.IsUniqueViolation(err, ports.ConstraintEscrowLockOnce) {
			return nil, apperror.ErrAlreadyStaked()
		}
		return nil, asAppError(err)
	}

	s.log.Info().
		Str("entry_id", result.Entry.ID.String()).
		Str("partnership_id", p.ID.String()).
		Str("user_id", req.UserID.String()).
		Int64("amount", req.Amount).
		Msg("escrow stake processed successfully")

	return result, nil
}

// Release returns the stake to the staker on success or forfeits it on
// failure. Any participant may release; the staker's wallet is the one that
// changes.
func (s *EscrowServiceImpl) Release(ctx context.Context, req ports.ReleaseRequest) (*ports.EscrowResult, error) {
	p, err := s.partnershipRepo.GetByID(ctx, req.PartnershipID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get partnership: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrPartnershipNotFound()
	}
	if !p.IsParticipant(req.UserID) {
		return nil, apperror.ErrNotParticipant()
	}

	// The lock entry names the staker, whose wallet lock the unit needs.
	lock, err := s.ledgerRepo.GetEscrowLock(ctx, p.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get escrow lock: %w", err))
	}
	if lock == nil {
		return nil, apperror.ErrNoActiveStake()
	}
	stakerID := lock.UserID

	var result *ports.EscrowResult
	err = s.units.run(ctx, stakerID, "escrow_release", func(ctx context.Context, tx pgx.Tx) error {
		agreement, entries, history, err := s.lockAgreement(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		switch history.State {
		case domain.EscrowStateUnstaked:
			return apperror.ErrNoActiveStake()
		case domain.EscrowStateReleased:
			return apperror.ErrAlreadyReleased()
		}

		w, err := s.walletRepo.GetForUpdate(ctx, tx, stakerID)
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("wallet of staker %s missing", stakerID)
		}

		stake := history.Stake()
		if w.EscrowBalance < stake {
			s.log.Error().
				Str("partnership_id", p.ID.String()).
				Str("user_id", stakerID.String()).
				Int64("stake", stake).
				Int64("escrow_balance", w.EscrowBalance).
				Msg("escrow balance below locked stake")
			walletEntries, err := s.ledgerRepo.ListByWallet(ctx, tx, w.ID)
			if err != nil {
				return err
			}
			drift := w.Balances().Sub(domain.Replay(walletEntries)).Escrow
			return apperror.ErrStakeAmountMismatch(stake, w.EscrowBalance).
				WithDetails(stakeShortfallDetails(stakerID, stake, w.EscrowBalance, drift))
		}

		kind := domain.EntryKindEscrowReleasePenalty
		if req.Success {
			kind = domain.EntryKindEscrowReleaseReward
		}
		partnershipID := p.ID
		entry := domain.NewLedgerEntry(w, kind, stake, domain.EscrowReleaseReference(p.ID))
		entry.PartnershipID = &partnershipID
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

		agreement.Sync(domain.DeriveEscrow(append(entries, *entry)))
		if err := s.agreementRepo.Update(ctx, tx, agreement); err != nil {
			return err
		}

		result = &ports.EscrowResult{Agreement: agreement, Wallet: next, Entry: entry}
		return nil
	})
	if err != nil {
		if ports.IsUniqueViolation(err, ports.ConstraintEscrowReleaseOnce) {
			return nil, apperror.ErrAlreadyReleased()
		}
		return nil, asAppError(err)
	}

	s.log.Info().
		Str("entry_id", result.Entry.ID.String()).
		Str("partnership_id", p.ID.String()).
		Str("user_id", stakerID.String()).
		Str("released_by", req.UserID.String()).
		Bool("success", req.Success).
		Int64("amount", result.Entry.Amount).
		Msg("escrow release processed successfully")

	return result, nil
}

// lockAgreement locks the agreement row and derives the escrow state from
// the ledger. A projection that disagrees with the ledger is logged; callers
// overwrite it before committing.
func (s *EscrowServiceImpl) lockAgreement(ctx context.Context, tx pgx.Tx, partnershipID uuid.UUID) (*domain.EscrowAgreement, []domain.LedgerEntry, domain.EscrowHistory, error) {
	agreement, err := s.agreementRepo.GetOrCreateForUpdate(ctx, tx, partnershipID, s.opts.Currency)
	if err != nil {
		return nil, nil, domain.EscrowHistory{}, err
	}
	entries, err := s.ledgerRepo.ListByPartnership(ctx, tx, partnershipID)
	if err != nil {
		return nil, nil, domain.EscrowHistory{}, err
	}
	history := domain.DeriveEscrow(entries)

	projected := *agreement
	if projected.Sync(history) {
		s.log.Warn().
			Str("partnership_id", partnershipID.String()).
			Str("projected_state", string(agreement.State)).
			Str("derived_state", string(history.State)).
			Int64("projected_stake", agreement.StakeAmount).
			Int64("derived_stake", history.Stake()).
			Msg("escrow projection drifted from ledger, overwriting")
	}
	return agreement, entries, history, nil
}

// GetAgreement returns the projection together with the ledger-derived state.
func (s *EscrowServiceImpl) GetAgreement(ctx context.Context, partnershipID, userID uuid.UUID) (*ports.AgreementView, error) {
	p, err := s.partnershipRepo.GetByID(ctx, partnershipID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get partnership: %w", err))
	}
	if p == nil {
		return nil, apperror.ErrPartnershipNotFound()
	}
	if !p.IsParticipant(userID) {
		return nil, apperror.ErrNotParticipant()
	}

	agreement, err := s.agreementRepo.GetByPartnershipID(ctx, partnershipID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get agreement: %w", err))
	}

	tx, err := s.transactor.BeginSnapshot(ctx)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	entries, err := s.ledgerRepo.ListByPartnership(ctx, tx, partnershipID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list partnership entries: %w", err))
	}
	history := domain.DeriveEscrow(entries)

	if agreement == nil {
		agreement = domain.NewEscrowAgreement(partnershipID, s.opts.Currency)
		agreement.Sync(history)
	}

	return &ports.AgreementView{Agreement: agreement, DerivedState: history.State}, nil
}

// stakeShortfallDetails lists the audited repairs, in order, that bring the
// staker's escrow bucket back to the stake recorded by the lock entry. drift
// is the stored escrow minus the replayed escrow; a backfill closes it first
// so the adjustment lands on a consistent wallet.
func stakeShortfallDetails(stakerID uuid.UUID, stake, escrow, drift int64) map[string]any {
	var repairs []map[string]any
	if drift != 0 {
		direction, amount := domain.CorrectionCredit, drift
		if drift < 0 {
			direction, amount = domain.CorrectionDebit, -drift
		}
		repairs = append(repairs, suggestedRepair(domain.CorrectionBackfill, direction, amount))
	}
	repairs = append(repairs, suggestedRepair(domain.CorrectionAdjust, domain.CorrectionCredit, stake-escrow))

	return map[string]any{
		"staker_id":         stakerID.String(),
		"locked_stake":      stake,
		"escrow_balance":    escrow,
		"escrow_drift":      drift,
		"repair_path":       "/api/v1/admin/wallets/" + stakerID.String() + "/repairs",
		"suggested_repairs": repairs,
	}
}

func suggestedRepair(mode domain.CorrectionMode, direction domain.CorrectionDirection, amount int64) map[string]any {
	return map[string]any{
		"mode":      string(mode),
		"direction": string(direction),
		"bucket":    string(domain.BucketEscrow),
		"amount":    amount,
	}
}
