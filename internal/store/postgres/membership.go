package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/tenantctx/internal/domain"
)

const membershipColumns = `id, user_id, tenant_id, role, permissions, is_active, created_at, updated_at`

type MembershipRepo struct {
	pool *pgxpool.Pool
}

func NewMembershipRepo(pool *pgxpool.Pool) *MembershipRepo {
	return &MembershipRepo{pool: pool}
}

func (r *MembershipRepo) ListTenantsForUser(ctx context.Context, userID uuid.UUID, order domain.TenantOrder) ([]*domain.TenantMembership, error) {
	orderBy := `m.id`
	if order == domain.OrderName {
		orderBy = `lower(t.name), m.id`
	}

	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.uuid, t.name, t.domain, t.suspended_at, t.created_at, t.updated_at,
		        m.role, m.permissions
		 FROM memberships m
		 JOIN tenants t ON t.id = m.tenant_id
		 WHERE m.user_id = $1 AND m.is_active AND t.suspended_at IS NULL
		 ORDER BY `+orderBy,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.ListTenantsForUser: %w", err)
	}
	defer rows.Close()

	var out []*domain.TenantMembership
	for rows.Next() {
		var t domain.Tenant
		var dom *string
		var tm domain.TenantMembership
		var perms []byte

		err = rows.Scan(&t.ID, &t.UUID, &t.Name, &dom, &t.SuspendedAt, &t.CreatedAt, &t.UpdatedAt,
			&tm.Role, &perms)
		if err != nil {
			return nil, fmt.Errorf("membershipRepo.ListTenantsForUser: scan: %w", err)
		}
		t.Domain = derefStr(dom)
		tm.Tenant = &t
		tm.Permissions, err = decodePermissions(perms)
		if err != nil {
			return nil, fmt.Errorf("membershipRepo.ListTenantsForUser: %w", err)
		}
		out = append(out, &tm)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.ListTenantsForUser: rows: %w", err)
	}

	return out, nil
}

func (r *MembershipRepo) HasActiveMembership(ctx context.Context, userID uuid.UUID, tenantID int64) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM memberships m
		     JOIN tenants t ON t.id = m.tenant_id
		     WHERE m.user_id = $1 AND m.tenant_id = $2
		       AND m.is_active AND t.suspended_at IS NULL
		 )`,
		userID, tenantID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("membershipRepo.HasActiveMembership: %w", err)
	}

	return ok, nil
}

func (r *MembershipRepo) Get(ctx context.Context, userID uuid.UUID, tenantID int64) (*domain.Membership, error) {
	m, err := scanMembership(r.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("membershipRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.Get: %w", err)
	}

	return m, nil
}

func (r *MembershipRepo) ListByTenant(ctx context.Context, tenantID int64) ([]*domain.Membership, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE tenant_id = $1 ORDER BY id
		 LIMIT 500`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.ListByTenant: %w", err)
	}
	defer rows.Close()

	var out []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("membershipRepo.ListByTenant: scan: %w", err)
		}
		out = append(out, m)
	}
	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("membershipRepo.ListByTenant: rows: %w", err)
	}

	return out, nil
}

// Create inserts m. The (tenant_id, user_id) unique constraint surfaces as
// domain.ErrConflict, a missing user or tenant as domain.ErrNotFound.
func (r *MembershipRepo) Create(ctx context.Context, m *domain.Membership) error {
	if m.Role == "" {
		m.Role = domain.RoleMember
	}
	perms, err := encodePermissions(m.Permissions)
	if err != nil {
		return fmt.Errorf("membershipRepo.Create: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO memberships (user_id, tenant_id, role, permissions, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		m.UserID, m.TenantID, m.Role, perms, m.IsActive,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("membershipRepo.Create: %w", mapError(err))
	}

	return nil
}

func (r *MembershipRepo) SetActive(ctx context.Context, userID uuid.UUID, tenantID int64, active bool) error {
	return r.exec(ctx, "membershipRepo.SetActive",
		`UPDATE memberships SET is_active = $3, updated_at = now()
		 WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID, active,
	)
}

func (r *MembershipRepo) UpdateRole(ctx context.Context, userID uuid.UUID, tenantID int64, role domain.Role) error {
	return r.exec(ctx, "membershipRepo.UpdateRole",
		`UPDATE memberships SET role = $3, updated_at = now()
		 WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID, role,
	)
}

func (r *MembershipRepo) UpdatePermissions(ctx context.Context, userID uuid.UUID, tenantID int64, permissions []string) error {
	perms, err := encodePermissions(permissions)
	if err != nil {
		return fmt.Errorf("membershipRepo.UpdatePermissions: %w", err)
	}
	return r.exec(ctx, "membershipRepo.UpdatePermissions",
		`UPDATE memberships SET permissions = $3, updated_at = now()
		 WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID, perms,
	)
}

func (r *MembershipRepo) Delete(ctx context.Context, userID uuid.UUID, tenantID int64) error {
	return r.exec(ctx, "membershipRepo.Delete",
		`DELETE FROM memberships WHERE user_id = $1 AND tenant_id = $2`,
		userID, tenantID,
	)
}

func (r *MembershipRepo) exec(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}

	return nil
}

func scanMembership(row pgx.Row) (*domain.Membership, error) {
	var m domain.Membership
	var perms []byte

	err := row.Scan(&m.ID, &m.UserID, &m.TenantID, &m.Role, &perms, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Permissions, err = decodePermissions(perms)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// Permissions are nullable JSON; nil and an empty list both round-trip as NULL.
func encodePermissions(perms []string) ([]byte, error) {
	if len(perms) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return b, nil
}

func decodePermissions(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var perms []string
	if err := json.Unmarshal(b, &perms); err != nil {
		return nil, fmt.Errorf("unmarshal permissions: %w", err)
	}
	return perms, nil
}
