package v1_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tenantctx/internal/auth"
	"github.com/gosuda/tenantctx/internal/directory"
	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/server/middleware"
	"github.com/gosuda/tenantctx/internal/store/memory"
	"github.com/gosuda/tenantctx/internal/tenancy"
)

// ---------------------------------------------------------------------------
// Context helpers: inject identity/tenant into context for DoCtx
// ---------------------------------------------------------------------------

func identityCtx(userID, sessionID uuid.UUID) context.Context {
	return middleware.WithIdentity(context.Background(), userID, sessionID)
}

func scopedCtx(userID, sessionID uuid.UUID, t *domain.Tenant, m *domain.Membership) context.Context {
	return middleware.WithTenant(identityCtx(userID, sessionID), t, m)
}

// ---------------------------------------------------------------------------
// In-memory fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store     *memory.Store
	sessions  *memory.SessionStore
	directory *directory.Directory
	manager   *tenancy.Manager

	admin, member *domain.User
	acme, globex  *domain.Tenant
}

// newFixture seeds two tenants: admin administers acme and is a member of
// globex; member belongs to acme only.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := t.Context()

	f := &fixture{
		store:    memory.New(),
		sessions: memory.NewSessionStore(),
	}

	f.admin = &domain.User{Email: "admin@example.com", Name: "Admin"}
	require.NoError(t, f.store.Users().Create(ctx, f.admin))
	f.member = &domain.User{Email: "user@example.com", Name: "User"}
	require.NoError(t, f.store.Users().Create(ctx, f.member))

	f.acme = &domain.Tenant{Name: "Acme", Domain: "acme.example.com"}
	require.NoError(t, f.store.Tenants().Create(ctx, f.acme))
	f.globex = &domain.Tenant{Name: "Globex"}
	require.NoError(t, f.store.Tenants().Create(ctx, f.globex))

	join := func(u *domain.User, tn *domain.Tenant, role domain.Role, perms ...string) {
		require.NoError(t, f.store.Memberships().Create(ctx, &domain.Membership{
			UserID: u.ID, TenantID: tn.ID, Role: role, Permissions: perms, IsActive: true,
		}))
	}
	join(f.admin, f.acme, domain.RoleAdmin, domain.PermissionAll)
	join(f.admin, f.globex, domain.RoleMember, "read")
	join(f.member, f.acme, domain.RoleMember, "read", "write")

	f.directory = directory.New(f.store.Tenants(), 16, time.Minute)
	f.manager = tenancy.NewManager(f.sessions, f.store.Memberships(), f.directory, f.store.Audit(), nil)
	return f
}

// login opens a bare session for u.
func (f *fixture) login(t *testing.T, u *domain.User) uuid.UUID {
	t.Helper()
	sess := &domain.Session{
		ID:     uuid.New(),
		UserID: u.ID,
		Data:   map[string]string{domain.SessionKeyLoginMethod: auth.LoginMethodPassword},
	}
	require.NoError(t, f.sessions.Create(t.Context(), sess))
	return sess.ID
}

func (f *fixture) membership(t *testing.T, u *domain.User, tn *domain.Tenant) *domain.Membership {
	t.Helper()
	m, err := f.store.Memberships().Get(t.Context(), u.ID, tn.ID)
	require.NoError(t, err)
	return m
}

// ---------------------------------------------------------------------------
// Mock TenantSwitcher
// ---------------------------------------------------------------------------

type mockSwitcher struct {
	listFunc   func(ctx context.Context, userID uuid.UUID, order domain.TenantOrder) ([]*domain.TenantMembership, error)
	activeFunc func(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Tenant, error)
	switchFunc func(ctx context.Context, sessionID, userID uuid.UUID, tenantID int64) (*domain.Tenant, error)
	clearFunc  func(ctx context.Context, sessionID uuid.UUID) error
	flashFunc  func(ctx context.Context, sessionID uuid.UUID) (string, bool, error)
}

func (m *mockSwitcher) ListAvailableTenants(ctx context.Context, userID uuid.UUID, order domain.TenantOrder) ([]*domain.TenantMembership, error) {
	return m.listFunc(ctx, userID, order)
}

func (m *mockSwitcher) GetActiveTenant(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Tenant, error) {
	return m.activeFunc(ctx, sessionID, userID)
}

func (m *mockSwitcher) SwitchTenant(ctx context.Context, sessionID, userID uuid.UUID, tenantID int64) (*domain.Tenant, error) {
	return m.switchFunc(ctx, sessionID, userID, tenantID)
}

func (m *mockSwitcher) ClearActiveTenant(ctx context.Context, sessionID uuid.UUID) error {
	return m.clearFunc(ctx, sessionID)
}

func (m *mockSwitcher) PopFlash(ctx context.Context, sessionID uuid.UUID) (string, bool, error) {
	return m.flashFunc(ctx, sessionID)
}

// ---------------------------------------------------------------------------
// Mock AuthService
// ---------------------------------------------------------------------------

type mockAuthService struct {
	loginFunc        func(ctx context.Context, email, password string) (*auth.Tokens, error)
	refreshTokenFunc func(ctx context.Context, refreshToken string) (string, error)
	logoutFunc       func(ctx context.Context, sessionID uuid.UUID) error
	getUserFunc      func(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

func (m *mockAuthService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return m.getUserFunc(ctx, userID)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Tokens, error) {
	return m.loginFunc(ctx, email, password)
}

func (m *mockAuthService) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	return m.refreshTokenFunc(ctx, refreshToken)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return m.logoutFunc(ctx, sessionID)
}

// ---------------------------------------------------------------------------
// Mock TenantUpdater
// ---------------------------------------------------------------------------

type mockTenantUpdater struct {
	updateFunc func(ctx context.Context, t *domain.Tenant) error
}

func (m *mockTenantUpdater) Update(ctx context.Context, t *domain.Tenant) error {
	return m.updateFunc(ctx, t)
}
