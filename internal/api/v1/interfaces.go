package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/tenantctx/internal/auth"
	"github.com/gosuda/tenantctx/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store and *memory.Store satisfy this interface.
type DataStore interface {
	Users() domain.UserRepository
	Memberships() domain.MembershipRepository
	Audit() domain.AuditRepository
}

// AuthService abstracts authentication operations for handler testing.
// *auth.Service satisfies this interface.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*auth.Tokens, error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, sessionID uuid.UUID) error
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// TenantSwitcher abstracts the active-tenant operations of a session.
// *tenancy.Manager satisfies this interface.
type TenantSwitcher interface {
	ListAvailableTenants(ctx context.Context, userID uuid.UUID, order domain.TenantOrder) ([]*domain.TenantMembership, error)
	GetActiveTenant(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Tenant, error)
	SwitchTenant(ctx context.Context, sessionID, userID uuid.UUID, tenantID int64) (*domain.Tenant, error)
	ClearActiveTenant(ctx context.Context, sessionID uuid.UUID) error
	PopFlash(ctx context.Context, sessionID uuid.UUID) (string, bool, error)
}

// TenantUpdater persists tenant changes and drops cached copies.
// *directory.Directory satisfies this interface.
type TenantUpdater interface {
	Update(ctx context.Context, t *domain.Tenant) error
}
