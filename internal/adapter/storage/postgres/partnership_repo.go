package postgres

import (
	"context"
	"errors"
	"fmt"

	"partnership-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PartnershipRepo reads the partnerships table maintained by the partnership service.
type PartnershipRepo struct {
	pool Pool
}

// NewPartnershipRepo creates a new PartnershipRepo.
func NewPartnershipRepo(pool Pool) *PartnershipRepo {
	return &PartnershipRepo{pool: pool}
}

// GetByID fetches a partnership. Returns nil, nil when absent.
func (r *PartnershipRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Partnership, error) {
	query := `SELECT id, requester_id, partner_id, status, stake_amount, COALESCE(stake_currency, ''), created_at
		FROM partnerships WHERE id = $1`

	p := &domain.Partnership{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.RequesterID, &p.PartnerID, &p.Status,
		&p.StakeAmount, &p.StakeCurrency, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get partnership by id: %w", err)
	}
	return p, nil
}
