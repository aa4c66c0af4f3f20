package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AuditEntry struct {
	ID        uuid.UUID
	TenantID  int64
	ActorID   uuid.UUID
	SessionID uuid.UUID
	Action    string // "tenant.switched", "tenant.cleared", "membership.updated", ...
	Details   map[string]any
	CreatedAt time.Time
}

type AuditRepository interface {
	Record(ctx context.Context, entry *AuditEntry) error
	ListByTenant(ctx context.Context, tenantID int64, limit, offset int) ([]*AuditEntry, error)
}
