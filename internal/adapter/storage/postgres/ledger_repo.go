package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"partnership-ledger/internal/core/domain"
	"partnership-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const entryColumns = `id, wallet_id, user_id, kind, amount, currency, status, partnership_id, violation_id,
	bucket, description, reference, actor, available_after, escrow_after, created_at`

// LedgerRepo implements ports.LedgerRepository. Entries are only ever inserted.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Create appends an entry within a database transaction. Unique violations
// are returned unwrapped in the chain so callers can match the constraint.
func (r *LedgerRepo) Create(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.WalletID, e.UserID, e.Kind, e.Amount, e.Currency, e.Status,
		e.PartnershipID, e.ViolationID, e.Bucket, e.Description, e.Reference,
		e.Actor, e.AvailableAfter, e.EscrowAfter, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// GetByReference fetches an entry by its unique reference token.
func (r *LedgerRepo) GetByReference(ctx context.Context, reference string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE reference = $1`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, reference))
	if err != nil {
		return nil, fmt.Errorf("get ledger entry by reference: %w", err)
	}
	return e, nil
}

// GetEscrowLock fetches the completed escrow_lock entry of a partnership.
func (r *LedgerRepo) GetEscrowLock(ctx context.Context, partnershipID uuid.UUID) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE partnership_id = $1 AND kind = 'escrow_lock' AND status = 'completed'`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, partnershipID))
	if err != nil {
		return nil, fmt.Errorf("get escrow lock entry: %w", err)
	}
	return e, nil
}

// ListByPartnership returns a partnership's entries in insertion order.
func (r *LedgerRepo) ListByPartnership(ctx context.Context, tx pgx.Tx, partnershipID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE partnership_id = $1 ORDER BY seq`

	rows, err := tx.Query(ctx, query, partnershipID)
	if err != nil {
		return nil, fmt.Errorf("list partnership entries: %w", err)
	}
	return collectEntries(rows)
}

// ListByWallet returns a wallet's entries in insertion order.
func (r *LedgerRepo) ListByWallet(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE wallet_id = $1 ORDER BY seq`

	rows, err := tx.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("list wallet entries: %w", err)
	}
	return collectEntries(rows)
}

// List fetches a user's entries with filtering and pagination, newest first.
func (r *LedgerRepo) List(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.PartnershipID != nil {
		conditions = append(conditions, fmt.Sprintf("partnership_id = $%d", argIdx))
		args = append(args, *params.PartnershipID)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM ledger_entries %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM ledger_entries %s
		ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`, entryColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	err := row.Scan(
		&e.ID, &e.WalletID, &e.UserID, &e.Kind, &e.Amount, &e.Currency, &e.Status,
		&e.PartnershipID, &e.ViolationID, &e.Bucket, &e.Description, &e.Reference,
		&e.Actor, &e.AvailableAfter, &e.EscrowAfter, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entry rows: %w", err)
	}
	return entries, nil
}
