package postgres

import (
	"context"
	"fmt"

	"signing-relay/internal/core/domain"
	"signing-relay/internal/core/ports"
)

type auditRepo struct {
	pool Pool
}

// NewAuditRepository creates a PostgreSQL-backed AuditRepository.
func NewAuditRepository(pool Pool) ports.AuditRepository {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Create(ctx context.Context, event *domain.AuditEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (id, conn_id, kind, source, info, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.ConnID, string(event.Kind), event.Source, event.Info, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (r *auditRepo) ListRecent(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, conn_id, kind, source, info, created_at
		 FROM audit_events
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := []domain.AuditEvent{}
	for rows.Next() {
		var e domain.AuditEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.ConnID, &kind, &e.Source, &e.Info, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Kind = domain.AuditKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}
