package ports

import (
	"context"

	"signing-relay/internal/core/domain"
)

// AuditRepository persists audit events for forensic review.
type AuditRepository interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
	ListRecent(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}
