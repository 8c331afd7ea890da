package postgres

import (
	"context"
	"fmt"

	"partnership-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const insertAuditLog = `INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, details, ip_address, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a PostgreSQL-backed AuditRepository.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Create inserts an audit log outside any unit of work.
func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	if _, err := r.pool.Exec(ctx, insertAuditLog, auditArgs(log)...); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// CreateTx inserts an audit log in the same transaction as the audited change.
func (r *AuditRepo) CreateTx(ctx context.Context, tx pgx.Tx, log *domain.AuditLog) error {
	if _, err := tx.Exec(ctx, insertAuditLog, auditArgs(log)...); err != nil {
		return fmt.Errorf("insert audit log in tx: %w", err)
	}
	return nil
}

func auditArgs(log *domain.AuditLog) []any {
	var details any
	if log.Details != "" {
		details = log.Details
	}
	return []any{
		log.ID, log.ActorID, string(log.Action), log.ResourceType,
		log.ResourceID, details, log.IPAddress, log.CreatedAt,
	}
}
