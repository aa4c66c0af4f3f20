// Package seed loads the demo dataset: one tenant, an admin and a member.
package seed

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/tenantctx/internal/auth"
	"github.com/gosuda/tenantctx/internal/domain"
)

const (
	DemoTenantName   = "Default Tenant"
	DemoTenantDomain = "localhost"
	DemoAdminEmail   = "admin@example.com"
	DemoMemberEmail  = "user@example.com"
	DemoPassword     = "password"
)

// Repos is satisfied by both postgres.Store and memory.Store.
type Repos interface {
	Tenants() domain.TenantRepository
	Users() domain.UserRepository
	Memberships() domain.MembershipRepository
}

// Demo creates the demo tenant and users. It does nothing when the admin
// user already exists, so it is safe to run on every start.
func Demo(ctx context.Context, repos Repos) error {
	_, err := repos.Users().GetByEmail(ctx, DemoAdminEmail)
	if err == nil {
		log.Debug().Msg("demo data already present")
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("seed.Demo: %w", err)
	}

	tenant := &domain.Tenant{Name: DemoTenantName, Domain: DemoTenantDomain}
	if err := repos.Tenants().Create(ctx, tenant); err != nil {
		return fmt.Errorf("seed.Demo: tenant: %w", err)
	}

	users := []struct {
		email, name string
		role        domain.Role
		perms       []string
	}{
		{DemoAdminEmail, "Admin User", domain.RoleAdmin, []string{domain.PermissionAll}},
		{DemoMemberEmail, "Regular User", domain.RoleMember, []string{"read", "write"}},
	}

	for _, u := range users {
		hash, err := auth.HashPassword(DemoPassword)
		if err != nil {
			return fmt.Errorf("seed.Demo: %w", err)
		}
		user := &domain.User{Email: u.email, Name: u.name, PasswordHash: hash}
		if err := repos.Users().Create(ctx, user); err != nil {
			return fmt.Errorf("seed.Demo: user %s: %w", u.email, err)
		}
		m := domain.NewMembership(user.ID, tenant.ID, u.role, u.perms...)
		if err := repos.Memberships().Create(ctx, m); err != nil {
			return fmt.Errorf("seed.Demo: membership %s: %w", u.email, err)
		}
	}

	log.Info().Int64("tenant_id", tenant.ID).Msg("demo data seeded")
	return nil
}
