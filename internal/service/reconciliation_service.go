package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"
	"partnership-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	walletRepo    ports.WalletRepository
	ledgerRepo    ports.LedgerRepository
	agreementRepo ports.AgreementRepository
	auditRepo     ports.AuditRepository
	transactor    ports.DBTransactor
	units         *unitRunner
	log           zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl.
func NewReconciliationService(
	walletRepo ports.WalletRepository,
	ledgerRepo ports.LedgerRepository,
	agreementRepo ports.AgreementRepository,
	auditRepo ports.AuditRepository,
	locker ports.WalletLocker,
	transactor ports.DBTransactor,
	opts Options,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		walletRepo:    walletRepo,
		ledgerRepo:    ledgerRepo,
		agreementRepo: agreementRepo,
		auditRepo:     auditRepo,
		transactor:    transactor,
		units:         newUnitRunner(locker, transactor, opts, log),
		log:           log,
	}
}

// Verify replays the user's ledger inside a snapshot and compares it with
// the stored balances and escrow projections. It never writes.
func (s *ReconciliationServiceImpl) Verify(ctx context.Context, userID uuid.UUID) (*domain.ReconciliationReport, error) {
	tx, err := s.transactor.BeginSnapshot(ctx)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	w, err := s.walletRepo.GetByUserIDTx(ctx, tx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}

	report, err := s.buildReport(ctx, tx, w)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	if !report.Consistent {
		s.log.Warn().
			Str("user_id", userID.String()).
			Int64("available_discrepancy", report.Discrepancy.Available).
			Int64("escrow_discrepancy", report.Discrepancy.Escrow).
			Msg("wallet does not match ledger replay")
	}
	return report, nil
}

func (s *ReconciliationServiceImpl) buildReport(ctx context.Context, tx pgx.Tx, w *domain.Wallet) (*domain.ReconciliationReport, error) {
	entries, err := s.ledgerRepo.ListByWallet(ctx, tx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("list wallet entries: %w", err)
	}

	replayed := domain.Replay(entries)
	report := &domain.ReconciliationReport{
		UserID:      w.UserID,
		WalletID:    w.ID,
		Stored:      w.Balances(),
		Replayed:    replayed,
		Discrepancy: w.Balances().Sub(replayed),
		EntryCount:  len(entries),
		Agreements:  []domain.AgreementCheck{},
		CheckedAt:   time.Now().UTC(),
	}
	report.Consistent = report.Discrepancy.IsZero()

	agreements, err := s.agreementRepo.ListByStaker(ctx, tx, w.UserID)
	if err != nil {
		return nil, fmt.Errorf("list agreements: %w", err)
	}
	for i := range agreements {
		a := &agreements[i]
		partnershipEntries, err := s.ledgerRepo.ListByPartnership(ctx, tx, a.PartnershipID)
		if err != nil {
			return nil, fmt.Errorf("list partnership entries: %w", err)
		}
		h := domain.DeriveEscrow(partnershipEntries)
		check := domain.AgreementCheck{
			PartnershipID:  a.PartnershipID,
			ProjectedState: a.State,
			DerivedState:   h.State,
			ProjectedStake: a.StakeAmount,
			DerivedStake:   h.Stake(),
		}
		check.Consistent = check.ProjectedState == check.DerivedState && check.ProjectedStake == check.DerivedStake
		if !check.Consistent {
			report.Consistent = false
		}
		report.Agreements = append(report.Agreements, check)
	}
	return report, nil
}

// Repair writes one audited adjustment entry for the user's wallet.
func (s *ReconciliationServiceImpl) Repair(ctx context.Context, userID uuid.UUID, c domain.Correction) (*domain.RepairResult, error) {
	if err := validateCorrection(c); err != nil {
		return nil, err
	}

	var (
		result *domain.RepairResult
		before domain.Balances
	)
	err := s.units.run(ctx, userID, "repair", func(ctx context.Context, tx pgx.Tx) error {
		w, err := s.walletRepo.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if w == nil {
			return apperror.ErrWalletNotFound()
		}
		before = w.Balances()

		entry := domain.NewLedgerEntry(w, c.EntryKind(), c.Amount, c.Reference)
		if c.Reference == "" {
			entry.Reference = domain.RepairReference(entry.ID)
		}
		entry.Bucket = c.Bucket
		entry.Actor = c.Actor
		entry.Description = c.Reason

		next := w
		switch c.Mode {
		case domain.CorrectionBackfill:
			entries, err := s.ledgerRepo.ListByWallet(ctx, tx, w.ID)
			if err != nil {
				return err
			}
			discrepancy := w.Balances().Sub(domain.Replay(entries)).Bucket(c.Bucket)
			if err := checkBackfill(c, discrepancy); err != nil {
				return err
			}
			entry.Stamp(w)
		case domain.CorrectionAdjust:
			next, err = w.Apply(entry)
			if err != nil {
				if errors.Is(err, domain.ErrNegativeBalance) {
					return apperror.ErrInvalidCorrection("adjustment would make the " + string(c.Bucket) + " balance negative")
				}
				if errors.Is(err, domain.ErrBalanceOverflow) {
					return apperror.ErrInvalidCorrection("adjustment would overflow the " + string(c.Bucket) + " balance")
				}
				return err
			}
			entry.Stamp(next)
		}

		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return err
		}
		if next != w {
			if err := s.walletRepo.Update(ctx, tx, next, w.Version); err != nil {
				return err
			}
		}
		if err := s.auditRepo.CreateTx(ctx, tx, repairAudit(userID, c, entry)); err != nil {
			return err
		}

		result = &domain.RepairResult{Wallet: next, Entry: entry}
		return nil
	})
	if err != nil {
		if ports.IsUniqueViolation(err, ports.ConstraintLedgerReference) {
			return nil, apperror.ErrReferenceConflict()
		}
		return nil, asAppError(err)
	}

	report, err := s.Verify(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Report = report

	s.log.Info().
		Str("entry_id", result.Entry.ID.String()).
		Str("user_id", userID.String()).
		Str("mode", string(c.Mode)).
		Str("kind", string(result.Entry.Kind)).
		Str("bucket", string(c.Bucket)).
		Int64("amount", c.Amount).
		Int64("available_before", before.Available).
		Int64("escrow_before", before.Escrow).
		Str("actor", c.Actor).
		Msg("wallet repair processed successfully")

	return result, nil
}

func validateCorrection(c domain.Correction) error {
	switch {
	case c.Mode != domain.CorrectionBackfill && c.Mode != domain.CorrectionAdjust:
		return apperror.ErrInvalidCorrection("mode must be backfill or adjust")
	case c.Direction != domain.CorrectionCredit && c.Direction != domain.CorrectionDebit:
		return apperror.ErrInvalidCorrection("direction must be credit or debit")
	case !c.Bucket.Valid():
		return apperror.ErrInvalidCorrection("bucket must be available or escrow")
	case c.Amount <= 0:
		return apperror.ErrInvalidCorrection("amount must be positive")
	case c.Reason == "":
		return apperror.ErrInvalidCorrection("reason is required")
	case c.Actor == "":
		return apperror.ErrInvalidCorrection("actor is required")
	case c.Reference != "" && !domain.IsCallerReference(c.Reference):
		return apperror.ErrInvalidCorrection("reference must not contain ':'")
	}
	return nil
}

// checkBackfill allows a backfill only when it shrinks the bucket's
// discrepancy (stored minus replayed) without crossing zero.
func checkBackfill(c domain.Correction, discrepancy int64) error {
	signed := c.Amount
	if c.Direction == domain.CorrectionDebit {
		signed = -signed
	}
	switch {
	case discrepancy == 0:
		return apperror.ErrInvalidCorrection("no discrepancy to backfill in the " + string(c.Bucket) + " bucket")
	case (discrepancy > 0) != (signed > 0):
		return apperror.ErrInvalidCorrection("backfill direction does not match the discrepancy")
	case abs(signed) > abs(discrepancy):
		return apperror.ErrInvalidCorrection(fmt.Sprintf("backfill exceeds the discrepancy of %d", discrepancy))
	}
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func repairAudit(userID uuid.UUID, c domain.Correction, entry *domain.LedgerEntry) *domain.AuditLog {
	details, _ := json.Marshal(map[string]any{
		"user_id":   userID,
		"mode":      c.Mode,
		"direction": c.Direction,
		"bucket":    c.Bucket,
		"amount":    c.Amount,
		"reason":    c.Reason,
		"reference": entry.Reference,
	})
	log := &domain.AuditLog{
		ID:           uuid.New(),
		Action:       domain.AuditActionRepair,
		ResourceType: "wallet",
		ResourceID:   entry.WalletID.String(),
		Details:      string(details),
		CreatedAt:    entry.CreatedAt,
	}
	if actorID, err := uuid.Parse(c.Actor); err == nil {
		log.ActorID = &actorID
	}
	return log
}
