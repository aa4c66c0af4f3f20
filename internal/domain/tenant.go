package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated organizational scope. It carries no "current" marker:
// which tenant a user works in is per-session state, see Session.ActiveTenantID.
type Tenant struct {
	ID          int64      `json:"id"`
	UUID        uuid.UUID  `json:"uuid"`
	Name        string     `json:"name"`
	Domain      string     `json:"domain,omitempty"` // empty when unset; unique when present
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Suspended reports whether the tenant has been suspended as a whole.
func (t *Tenant) Suspended() bool {
	return t != nil && t.SuspendedAt != nil
}

type TenantRepository interface {
	Create(ctx context.Context, t *Tenant) error
	GetByID(ctx context.Context, id int64) (*Tenant, error)
	GetByUUID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	List(ctx context.Context) ([]*Tenant, error)
}
