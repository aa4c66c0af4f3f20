package domain

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the membership role inside a tenant. The set is open; admin and
// member are the roles the service itself understands.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// PermissionAll grants every permission.
const PermissionAll = "*"

// Membership joins exactly one user and one tenant. At most one exists per
// (user, tenant) pair. ID increases with creation order.
type Membership struct {
	ID          int64     `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	TenantID    int64     `json:"tenant_id"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewMembership returns an active membership ready for Create. An empty role
// becomes RoleMember.
func NewMembership(userID uuid.UUID, tenantID int64, role Role, permissions ...string) *Membership {
	if role == "" {
		role = RoleMember
	}
	return &Membership{
		UserID:      userID,
		TenantID:    tenantID,
		Role:        role,
		Permissions: permissions,
		IsActive:    true,
	}
}

// Can reports whether the membership grants perm. "*" grants everything and a
// trailing ".*" grants a whole namespace ("members.*" covers "members.manage").
func (m *Membership) Can(perm string) bool {
	if m == nil || !m.IsActive {
		return false
	}
	for _, p := range m.Permissions {
		if p == PermissionAll || p == perm {
			return true
		}
		if ns, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(perm, ns+".") {
			return true
		}
	}
	return false
}

// HasRole reports whether the membership has one of roles.
func (m *Membership) HasRole(roles ...Role) bool {
	return m != nil && slices.Contains(roles, m.Role)
}

// TenantMembership is a tenant together with the caller's membership in it.
type TenantMembership struct {
	Tenant      *Tenant
	Role        Role
	Permissions []string
}

// TenantOrder selects the ordering of ListTenantsForUser.
type TenantOrder int

const (
	// OrderCreated orders by membership creation (the default).
	OrderCreated TenantOrder = iota
	// OrderName orders alphabetically by tenant name.
	OrderName
)

// MembershipRepository is the membership store. The read side is what the
// switching core consumes; the write side is administrative.
type MembershipRepository interface {
	// ListTenantsForUser returns every tenant the user has an active
	// membership in, skipping suspended tenants.
	ListTenantsForUser(ctx context.Context, userID uuid.UUID, order TenantOrder) ([]*TenantMembership, error)
	// HasActiveMembership is true iff the membership exists, is active and the
	// tenant is not suspended.
	HasActiveMembership(ctx context.Context, userID uuid.UUID, tenantID int64) (bool, error)
	Get(ctx context.Context, userID uuid.UUID, tenantID int64) (*Membership, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]*Membership, error)

	// Create stores m as given, IsActive included; build it with
	// NewMembership to get the active default.
	Create(ctx context.Context, m *Membership) error
	SetActive(ctx context.Context, userID uuid.UUID, tenantID int64, active bool) error
	UpdateRole(ctx context.Context, userID uuid.UUID, tenantID int64, role Role) error
	UpdatePermissions(ctx context.Context, userID uuid.UUID, tenantID int64, permissions []string) error
	Delete(ctx context.Context, userID uuid.UUID, tenantID int64) error
}
