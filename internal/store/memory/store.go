// Package memory provides in-process implementations of the domain
// repositories and the session store. It backs the development mode and the
// test suites; all state is lost on restart.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gosuda/tenantctx/internal/domain"
)

type membershipKey struct {
	userID   uuid.UUID
	tenantID int64
}

// Store holds users, tenants, memberships and audit entries behind a single
// lock so that membership checks see a consistent view of tenant suspension.
type Store struct {
	mu sync.RWMutex

	tenants      map[int64]*domain.Tenant
	users        map[uuid.UUID]*domain.User
	memberships  map[membershipKey]*domain.Membership
	audit        []*domain.AuditEntry
	nextTenantID int64
	nextMemberID int64
}

func New() *Store {
	return &Store{
		tenants:     make(map[int64]*domain.Tenant),
		users:       make(map[uuid.UUID]*domain.User),
		memberships: make(map[membershipKey]*domain.Membership),
	}
}

func (s *Store) Tenants() domain.TenantRepository         { return (*TenantRepo)(s) }
func (s *Store) Users() domain.UserRepository             { return (*UserRepo)(s) }
func (s *Store) Memberships() domain.MembershipRepository { return (*MembershipRepo)(s) }
func (s *Store) Audit() domain.AuditRepository            { return (*AuditRepo)(s) }

// Close is a no-op; it mirrors postgres.Store.
func (s *Store) Close() {}

func copyTenant(t *domain.Tenant) *domain.Tenant {
	c := *t
	if t.SuspendedAt != nil {
		at := *t.SuspendedAt
		c.SuspendedAt = &at
	}
	return &c
}

func copyMembership(m *domain.Membership) *domain.Membership {
	c := *m
	c.Permissions = append([]string(nil), m.Permissions...)
	return &c
}
