package memory

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AgreementRepo implements ports.AgreementRepository.
type AgreementRepo struct {
	s *Store
}

func (r *AgreementRepo) GetOrCreateForUpdate(_ context.Context, tx pgx.Tx, partnershipID uuid.UUID, currency string) (*domain.EscrowAgreement, error) {
	t, err := r.s.writeTx(tx)
	if err != nil {
		return nil, err
	}
	a, ok := r.s.agreements[partnershipID]
	if !ok {
		a = domain.NewEscrowAgreement(partnershipID, currency)
		r.s.agreements[partnershipID] = a
		t.onRollback(func() { delete(r.s.agreements, partnershipID) })
	}
	cp := *a
	return &cp, nil
}

func (r *AgreementRepo) Update(_ context.Context, tx pgx.Tx, agreement *domain.EscrowAgreement) error {
	t, err := r.s.writeTx(tx)
	if err != nil {
		return err
	}
	stored, ok := r.s.agreements[agreement.PartnershipID]
	if !ok {
		return fmt.Errorf("escrow agreement %s not found", agreement.PartnershipID)
	}
	prev := *stored
	next := *agreement
	r.s.agreements[agreement.PartnershipID] = &next
	t.onRollback(func() { r.s.agreements[agreement.PartnershipID] = &prev })
	return nil
}

func (r *AgreementRepo) GetByPartnershipID(ctx context.Context, partnershipID uuid.UUID) (*domain.EscrowAgreement, error) {
	var out *domain.EscrowAgreement
	err := r.s.read(ctx, func() {
		if a, ok := r.s.agreements[partnershipID]; ok {
			cp := *a
			out = &cp
		}
	})
	return out, err
}

func (r *AgreementRepo) ListByStaker(_ context.Context, tx pgx.Tx, userID uuid.UUID) ([]domain.EscrowAgreement, error) {
	if _, err := r.s.txOf(tx); err != nil {
		return nil, err
	}
	var out []domain.EscrowAgreement
	for _, a := range r.s.agreements {
		if a.StakerID != nil && *a.StakerID == userID {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b domain.EscrowAgreement) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.PartnershipID.String(), b.PartnershipID.String()))
	})
	return out, nil
}

// PartnershipRepo implements ports.PartnershipRepository.
type PartnershipRepo struct {
	s *Store
}

func (r *PartnershipRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Partnership, error) {
	var out *domain.Partnership
	err := r.s.read(ctx, func() {
		if p, ok := r.s.partnerships[id]; ok {
			cp := *p
			out = &cp
		}
	})
	return out, err
}

// ViolationRepo implements ports.ViolationRepository.
type ViolationRepo struct {
	s *Store
}

func (r *ViolationRepo) Create(ctx context.Context, v *domain.ModerationViolation) (bool, error) {
	created := false
	err := r.s.read(ctx, func() {
		if _, dup := r.s.violations[v.ID]; dup {
			return
		}
		if _, dup := r.s.messages[v.MessageID]; dup {
			return
		}
		cp := *v
		r.s.violations[v.ID] = &cp
		r.s.messages[v.MessageID] = v.ID
		created = true
	})
	return created, err
}

func (r *ViolationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ModerationViolation, error) {
	var out *domain.ModerationViolation
	err := r.s.read(ctx, func() {
		out = r.s.violationCopy(id)
	})
	return out, err
}

func (r *ViolationRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.ModerationViolation, error) {
	var out *domain.ModerationViolation
	err := r.s.read(ctx, func() {
		if id, ok := r.s.messages[messageID]; ok {
			out = r.s.violationCopy(id)
		}
	})
	return out, err
}

func (r *ViolationRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ModerationViolation, error) {
	if _, err := r.s.txOf(tx); err != nil {
		return nil, err
	}
	return r.s.violationCopy(id), nil
}

func (r *ViolationRepo) MarkApplied(_ context.Context, tx pgx.Tx, id uuid.UUID, entryID uuid.UUID, at time.Time) error {
	t, err := r.s.writeTx(tx)
	if err != nil {
		return err
	}
	v, ok := r.s.violations[id]
	if !ok || v.Applied {
		return fmt.Errorf("violation %s not found or already applied", id)
	}
	prev := *v
	next := *v
	next.Applied = true
	next.AppliedEntryID = &entryID
	next.AppliedAt = &at
	r.s.violations[id] = &next
	t.onRollback(func() { r.s.violations[id] = &prev })
	return nil
}

func (r *ViolationRepo) ListUnapplied(ctx context.Context, after domain.ViolationCursor, limit int) ([]domain.ModerationViolation, error) {
	var out []domain.ModerationViolation
	err := r.s.read(ctx, func() {
		for _, v := range r.s.violations {
			if !v.Applied && compareCursor(v.Cursor(), after) > 0 {
				out = append(out, *v)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.ModerationViolation) int {
		return compareCursor(a.Cursor(), b.Cursor())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// compareCursor orders cursors the way PostgreSQL compares (created_at, id).
func compareCursor(a, b domain.ViolationCursor) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), bytes.Compare(a.ID[:], b.ID[:]))
}

func (s *Store) violationCopy(id uuid.UUID) *domain.ModerationViolation {
	v, ok := s.violations[id]
	if !ok {
		return nil
	}
	cp := *v
	return &cp
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	s *Store
}

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	return r.s.read(ctx, func() {
		r.s.audits = append(r.s.audits, *log)
	})
}

func (r *AuditRepo) CreateTx(_ context.Context, tx pgx.Tx, log *domain.AuditLog) error {
	t, err := r.s.writeTx(tx)
	if err != nil {
		return err
	}
	n := len(r.s.audits)
	r.s.audits = append(r.s.audits, *log)
	t.onRollback(func() { r.s.audits = r.s.audits[:n] })
	return nil
}

// List returns every stored audit log in insertion order.
func (r *AuditRepo) List(ctx context.Context) ([]domain.AuditLog, error) {
	var out []domain.AuditLog
	err := r.s.read(ctx, func() {
		out = slices.Clone(r.s.audits)
	})
	return out, err
}

var (
	_ ports.WalletRepository      = (*WalletRepo)(nil)
	_ ports.LedgerRepository      = (*LedgerRepo)(nil)
	_ ports.AgreementRepository   = (*AgreementRepo)(nil)
	_ ports.PartnershipRepository = (*PartnershipRepo)(nil)
	_ ports.ViolationRepository   = (*ViolationRepo)(nil)
	_ ports.AuditRepository       = (*AuditRepo)(nil)
	_ ports.DBTransactor          = (*Store)(nil)
	_ ports.HealthChecker         = (*Store)(nil)
)
