package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"partnership-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const violationColumns = `id, user_id, message_id, violation_type, penalty_amount,
	applied, applied_entry_id, applied_at, created_at`

// ViolationRepo implements ports.ViolationRepository.
type ViolationRepo struct {
	pool Pool
}

// NewViolationRepo creates a new ViolationRepo.
func NewViolationRepo(pool Pool) *ViolationRepo {
	return &ViolationRepo{pool: pool}
}

// Create inserts a violation, ignoring duplicates of id or message id.
func (r *ViolationRepo) Create(ctx context.Context, v *domain.ModerationViolation) (bool, error) {
	query := `INSERT INTO moderation_violations (id, user_id, message_id, violation_type, penalty_amount, applied, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		ON CONFLICT DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		v.ID, v.UserID, v.MessageID, v.ViolationType, v.PenaltyAmount, v.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert violation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches a violation by id.
func (r *ViolationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ModerationViolation, error) {
	query := `SELECT ` + violationColumns + ` FROM moderation_violations WHERE id = $1`

	v, err := scanViolation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get violation by id: %w", err)
	}
	return v, nil
}

// GetByMessageID fetches a violation by the moderated message id.
func (r *ViolationRepo) GetByMessageID(ctx context.Context, messageID string) (*domain.ModerationViolation, error) {
	query := `SELECT ` + violationColumns + ` FROM moderation_violations WHERE message_id = $1`

	v, err := scanViolation(r.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		return nil, fmt.Errorf("get violation by message id: %w", err)
	}
	return v, nil
}

// GetByIDForUpdate locks the violation row. This MUST be called within a transaction.
func (r *ViolationRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.ModerationViolation, error) {
	query := `SELECT ` + violationColumns + ` FROM moderation_violations WHERE id = $1 FOR UPDATE`

	v, err := scanViolation(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get violation for update: %w", err)
	}
	return v, nil
}

// MarkApplied flags the violation as charged by entryID.
func (r *ViolationRepo) MarkApplied(ctx context.Context, tx pgx.Tx, id uuid.UUID, entryID uuid.UUID, at time.Time) error {
	query := `UPDATE moderation_violations
		SET applied = TRUE, applied_entry_id = $1, applied_at = $2
		WHERE id = $3 AND applied = FALSE`

	tag, err := tx.Exec(ctx, query, entryID, at, id)
	if err != nil {
		return fmt.Errorf("mark violation applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("violation %s not found or already applied", id)
	}
	return nil
}

// ListUnapplied returns the next page of pending violations after the cursor.
func (r *ViolationRepo) ListUnapplied(ctx context.Context, after domain.ViolationCursor, limit int) ([]domain.ModerationViolation, error) {
	query := `SELECT ` + violationColumns + ` FROM moderation_violations
		WHERE applied = FALSE AND (created_at, id) > ($1, $2)
		ORDER BY created_at, id LIMIT $3`

	rows, err := r.pool.Query(ctx, query, after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list unapplied violations: %w", err)
	}
	defer rows.Close()

	var out []domain.ModerationViolation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan violation row: %w", err)
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation rows: %w", err)
	}
	return out, nil
}

func scanViolation(row pgx.Row) (*domain.ModerationViolation, error) {
	v := &domain.ModerationViolation{}
	err := row.Scan(
		&v.ID, &v.UserID, &v.MessageID, &v.ViolationType, &v.PenaltyAmount,
		&v.Applied, &v.AppliedEntryID, &v.AppliedAt, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}
