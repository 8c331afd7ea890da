package memory

import (
	"context"
	"fmt"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository. Entries are append-only and
// kept in insertion order.
type LedgerRepo struct {
	s *Store
}

func (r *LedgerRepo) Create(_ context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	t, err := r.s.writeTx(tx)
	if err != nil {
		return err
	}
	if entry.Amount <= 0 {
		return fmt.Errorf("insert ledger entry: %w", checkViolation("ledger_entries_amount_positive"))
	}
	if _, dup := r.s.references[entry.Reference]; dup {
		return fmt.Errorf("insert ledger entry: %w", uniqueViolation(ports.ConstraintLedgerReference))
	}
	if constraint := r.s.conflictingEntry(entry); constraint != "" {
		return fmt.Errorf("insert ledger entry: %w", uniqueViolation(constraint))
	}

	n := len(r.s.entries)
	r.s.entries = append(r.s.entries, *entry)
	r.s.references[entry.Reference] = n
	t.onRollback(func() {
		r.s.entries = r.s.entries[:n]
		delete(r.s.references, entry.Reference)
	})
	return nil
}

// conflictingEntry mirrors the partial unique indexes on ledger_entries.
func (s *Store) conflictingEntry(e *domain.LedgerEntry) string {
	if e.Status != domain.EntryStatusCompleted {
		return ""
	}
	for i := range s.entries {
		o := &s.entries[i]
		if o.Status != domain.EntryStatusCompleted {
			continue
		}
		switch {
		case e.Kind == domain.EntryKindEscrowLock && o.Kind == domain.EntryKindEscrowLock &&
			sameID(e.PartnershipID, o.PartnershipID):
			return ports.ConstraintEscrowLockOnce
		case e.Kind.IsRelease() && o.Kind.IsRelease() && sameID(e.PartnershipID, o.PartnershipID):
			return ports.ConstraintEscrowReleaseOnce
		case e.Kind == domain.EntryKindPenalty && o.Kind == domain.EntryKindPenalty &&
			sameID(e.ViolationID, o.ViolationID):
			return ports.ConstraintPenaltyOnce
		}
	}
	return ""
}

// sameID compares nullable ids the way a unique index does: NULLs never collide.
func sameID(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}

func (r *LedgerRepo) GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	var out *domain.LedgerEntry
	err := r.s.read(ctx, func() {
		if i, ok := r.s.references[reference]; ok {
			e := r.s.entries[i]
			out = &e
		}
	})
	return out, err
}

func (r *LedgerRepo) GetEscrowLock(ctx context.Context, partnershipID uuid.UUID) (*domain.LedgerEntry, error) {
	var out *domain.LedgerEntry
	err := r.s.read(ctx, func() {
		for _, e := range r.s.entries {
			if e.Kind == domain.EntryKindEscrowLock && e.Status == domain.EntryStatusCompleted &&
				sameID(e.PartnershipID, &partnershipID) {
				out = &e
				return
			}
		}
	})
	return out, err
}

func (r *LedgerRepo) ListByPartnership(_ context.Context, tx pgx.Tx, partnershipID uuid.UUID) ([]domain.LedgerEntry, error) {
	if _, err := r.s.txOf(tx); err != nil {
		return nil, err
	}
	return r.s.filterEntries(func(e *domain.LedgerEntry) bool {
		return sameID(e.PartnershipID, &partnershipID)
	}), nil
}

func (r *LedgerRepo) ListByWallet(_ context.Context, tx pgx.Tx, walletID uuid.UUID) ([]domain.LedgerEntry, error) {
	if _, err := r.s.txOf(tx); err != nil {
		return nil, err
	}
	return r.s.filterEntries(func(e *domain.LedgerEntry) bool {
		return e.WalletID == walletID
	}), nil
}

// List returns matching entries newest first.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	var matched []domain.LedgerEntry
	err := r.s.read(ctx, func() {
		matched = r.s.filterEntries(func(e *domain.LedgerEntry) bool {
			switch {
			case e.UserID != params.UserID:
				return false
			case params.Kind != nil && e.Kind != *params.Kind:
				return false
			case params.Status != nil && e.Status != *params.Status:
				return false
			case params.PartnershipID != nil && !sameID(e.PartnershipID, params.PartnershipID):
				return false
			}
			return true
		})
	})
	if err != nil {
		return nil, 0, err
	}

	total := int64(len(matched))
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	offset := (params.Page - 1) * params.PageSize
	if offset < 0 || offset >= len(matched) {
		return []domain.LedgerEntry{}, total, nil
	}
	end := min(offset+params.PageSize, len(matched))
	return matched[offset:end], total, nil
}

func (s *Store) filterEntries(keep func(*domain.LedgerEntry) bool) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for i := range s.entries {
		if keep(&s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	return out
}
