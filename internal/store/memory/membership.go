package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/tenantctx/internal/domain"
)

type MembershipRepo Store

func (r *MembershipRepo) ListTenantsForUser(_ context.Context, userID uuid.UUID, order domain.TenantOrder) ([]*domain.TenantMembership, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		memberID int64
		tm       *domain.TenantMembership
	}

	var rows []row
	for key, m := range s.memberships {
		if key.userID != userID || !m.IsActive {
			continue
		}
		t, ok := s.tenants[key.tenantID]
		if !ok || t.Suspended() {
			continue
		}
		rows = append(rows, row{
			memberID: m.ID,
			tm: &domain.TenantMembership{
				Tenant:      copyTenant(t),
				Role:        m.Role,
				Permissions: append([]string(nil), m.Permissions...),
			},
		})
	}

	switch order {
	case domain.OrderName:
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := strings.ToLower(rows[i].tm.Tenant.Name), strings.ToLower(rows[j].tm.Tenant.Name)
			if a == b {
				return rows[i].memberID < rows[j].memberID
			}
			return a < b
		})
	default:
		sort.Slice(rows, func(i, j int) bool { return rows[i].memberID < rows[j].memberID })
	}

	out := make([]*domain.TenantMembership, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.tm)
	}
	return out, nil
}

func (r *MembershipRepo) HasActiveMembership(_ context.Context, userID uuid.UUID, tenantID int64) (bool, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[membershipKey{userID: userID, tenantID: tenantID}]
	if !ok || !m.IsActive {
		return false, nil
	}
	t, ok := s.tenants[tenantID]
	return ok && !t.Suspended(), nil
}

func (r *MembershipRepo) Get(_ context.Context, userID uuid.UUID, tenantID int64) (*domain.Membership, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memberships[membershipKey{userID: userID, tenantID: tenantID}]
	if !ok {
		return nil, fmt.Errorf("membershipRepo.Get: %w", domain.ErrNotFound)
	}
	return copyMembership(m), nil
}

func (r *MembershipRepo) ListByTenant(_ context.Context, tenantID int64) ([]*domain.Membership, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Membership
	for key, m := range s.memberships {
		if key.tenantID == tenantID {
			out = append(out, copyMembership(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create enforces the one-membership-per-(user, tenant) invariant and assigns
// the creation-ordered id.
func (r *MembershipRepo) Create(_ context.Context, m *domain.Membership) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[m.TenantID]; !ok {
		return fmt.Errorf("membershipRepo.Create: tenant: %w", domain.ErrNotFound)
	}
	if _, ok := s.users[m.UserID]; !ok {
		return fmt.Errorf("membershipRepo.Create: user: %w", domain.ErrNotFound)
	}
	key := membershipKey{userID: m.UserID, tenantID: m.TenantID}
	if _, exists := s.memberships[key]; exists {
		return fmt.Errorf("membershipRepo.Create: %w", domain.ErrConflict)
	}

	s.nextMemberID++
	m.ID = s.nextMemberID
	if m.Role == "" {
		m.Role = domain.RoleMember
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.memberships[key] = copyMembership(m)
	return nil
}

func (r *MembershipRepo) SetActive(_ context.Context, userID uuid.UUID, tenantID int64, active bool) error {
	return r.mutate("membershipRepo.SetActive", userID, tenantID, func(m *domain.Membership) {
		m.IsActive = active
	})
}

func (r *MembershipRepo) UpdateRole(_ context.Context, userID uuid.UUID, tenantID int64, role domain.Role) error {
	return r.mutate("membershipRepo.UpdateRole", userID, tenantID, func(m *domain.Membership) {
		m.Role = role
	})
}

func (r *MembershipRepo) UpdatePermissions(_ context.Context, userID uuid.UUID, tenantID int64, permissions []string) error {
	return r.mutate("membershipRepo.UpdatePermissions", userID, tenantID, func(m *domain.Membership) {
		m.Permissions = append([]string(nil), permissions...)
	})
}

func (r *MembershipRepo) Delete(_ context.Context, userID uuid.UUID, tenantID int64) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	key := membershipKey{userID: userID, tenantID: tenantID}
	if _, ok := s.memberships[key]; !ok {
		return fmt.Errorf("membershipRepo.Delete: %w", domain.ErrNotFound)
	}
	delete(s.memberships, key)
	return nil
}

func (r *MembershipRepo) mutate(op string, userID uuid.UUID, tenantID int64, fn func(m *domain.Membership)) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[membershipKey{userID: userID, tenantID: tenantID}]
	if !ok {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	fn(m)
	m.UpdatedAt = time.Now()
	return nil
}
