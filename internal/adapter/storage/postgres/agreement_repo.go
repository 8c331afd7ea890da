package postgres

import (
	"context"
	"errors"
	"fmt"

	"partnership-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const agreementColumns = `partnership_id, staker_id, stake_amount, currency, state,
	lock_entry_id, release_entry_id, outcome, created_at, updated_at`

// AgreementRepo implements ports.AgreementRepository.
type AgreementRepo struct {
	pool Pool
}

// NewAgreementRepo creates a new AgreementRepo.
func NewAgreementRepo(pool Pool) *AgreementRepo {
	return &AgreementRepo{pool: pool}
}

// GetOrCreateForUpdate inserts an UNSTAKED projection if missing and locks it.
// Both participants staking at once queue on this row.
func (r *AgreementRepo) GetOrCreateForUpdate(ctx context.Context, tx pgx.Tx, partnershipID uuid.UUID, currency string) (*domain.EscrowAgreement, error) {
	fresh := domain.NewEscrowAgreement(partnershipID, currency)
	insert := `INSERT INTO escrow_agreements (partnership_id, currency, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (partnership_id) DO NOTHING`

	if _, err := tx.Exec(ctx, insert, fresh.PartnershipID, fresh.Currency, fresh.State, fresh.CreatedAt, fresh.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert escrow agreement: %w", err)
	}

	query := `SELECT ` + agreementColumns + ` FROM escrow_agreements WHERE partnership_id = $1 FOR UPDATE`
	a, err := scanAgreement(tx.QueryRow(ctx, query, partnershipID))
	if err != nil {
		return nil, fmt.Errorf("get escrow agreement for update: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("escrow agreement %s vanished after insert", partnershipID)
	}
	return a, nil
}

// Update overwrites the projection within a transaction.
func (r *AgreementRepo) Update(ctx context.Context, tx pgx.Tx, a *domain.EscrowAgreement) error {
	query := `UPDATE escrow_agreements
		SET staker_id = $1, stake_amount = $2, state = $3, lock_entry_id = $4,
			release_entry_id = $5, outcome = $6, updated_at = $7
		WHERE partnership_id = $8`

	tag, err := tx.Exec(ctx, query,
		a.StakerID, a.StakeAmount, a.State, a.LockEntryID,
		a.ReleaseEntryID, a.Outcome, a.UpdatedAt, a.PartnershipID,
	)
	if err != nil {
		return fmt.Errorf("update escrow agreement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escrow agreement not found: %s", a.PartnershipID)
	}
	return nil
}

// GetByPartnershipID fetches the projection without locking.
func (r *AgreementRepo) GetByPartnershipID(ctx context.Context, partnershipID uuid.UUID) (*domain.EscrowAgreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM escrow_agreements WHERE partnership_id = $1`

	a, err := scanAgreement(r.pool.QueryRow(ctx, query, partnershipID))
	if err != nil {
		return nil, fmt.Errorf("get escrow agreement: %w", err)
	}
	return a, nil
}

// ListByStaker returns every agreement the user staked into.
func (r *AgreementRepo) ListByStaker(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]domain.EscrowAgreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM escrow_agreements WHERE staker_id = $1 ORDER BY created_at`

	rows, err := tx.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list agreements by staker: %w", err)
	}
	defer rows.Close()

	var out []domain.EscrowAgreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agreement row: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agreement rows: %w", err)
	}
	return out, nil
}

func scanAgreement(row pgx.Row) (*domain.EscrowAgreement, error) {
	a := &domain.EscrowAgreement{}
	err := row.Scan(
		&a.PartnershipID, &a.StakerID, &a.StakeAmount, &a.Currency, &a.State,
		&a.LockEntryID, &a.ReleaseEntryID, &a.Outcome, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}
