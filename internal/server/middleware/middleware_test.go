package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/tenantctx/internal/auth"
	"github.com/gosuda/tenantctx/internal/directory"
	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/server/middleware"
	"github.com/gosuda/tenantctx/internal/store/memory"
	"github.com/gosuda/tenantctx/internal/tenancy"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// contextHandler captures context values set by middleware so tests can
// assert what was injected.
type contextHandler struct {
	userID     uuid.UUID
	sessionID  uuid.UUID
	tenant     *domain.Tenant
	membership *domain.Membership
	called     bool
}

func (h *contextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.userID, _ = middleware.UserIDFromContext(r.Context())
	h.sessionID, _ = middleware.SessionIDFromContext(r.Context())
	h.tenant, _ = middleware.TenantFromContext(r.Context())
	h.membership, _ = middleware.MembershipFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

// setIdentity injects a user and session into the request context.
func setIdentity(r *http.Request, userID, sessionID uuid.UUID) *http.Request {
	return r.WithContext(middleware.WithIdentity(r.Context(), userID, sessionID))
}

// fakeSource is a canned ActiveTenantSource.
type fakeSource struct {
	tenant     *domain.Tenant
	membership *domain.Membership
	err        error
}

func (f *fakeSource) ActiveMembership(context.Context, uuid.UUID, uuid.UUID) (*domain.Tenant, *domain.Membership, error) {
	return f.tenant, f.membership, f.err
}

// ===========================================================================
// 1. Context helpers
// ===========================================================================

func TestUserIDFromContext(t *testing.T) {
	t.Parallel()

	t.Run("present", func(t *testing.T) {
		t.Parallel()

		want := uuid.New()
		ctx := middleware.WithIdentity(context.Background(), want, uuid.New())

		got, ok := middleware.UserIDFromContext(ctx)

		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("absent", func(t *testing.T) {
		t.Parallel()

		got, ok := middleware.UserIDFromContext(context.Background())

		assert.False(t, ok)
		assert.Equal(t, uuid.Nil, got)
	})

	t.Run("wrong type", func(t *testing.T) {
		t.Parallel()

		ctx := context.WithValue(context.Background(), middleware.ContextKeyUserID, "not-a-uuid")
		_, ok := middleware.UserIDFromContext(ctx)
		assert.False(t, ok)
	})
}

func TestTenantFromContext(t *testing.T) {
	t.Parallel()

	t.Run("absent", func(t *testing.T) {
		t.Parallel()

		_, ok := middleware.TenantFromContext(context.Background())
		assert.False(t, ok)
		_, ok = middleware.MembershipFromContext(context.Background())
		assert.False(t, ok)
	})

	t.Run("typed nil", func(t *testing.T) {
		t.Parallel()

		ctx := middleware.WithTenant(context.Background(), nil, nil)
		_, ok := middleware.TenantFromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("present", func(t *testing.T) {
		t.Parallel()

		tn := &domain.Tenant{ID: 4}
		m := &domain.Membership{TenantID: 4}
		ctx := middleware.WithTenant(context.Background(), tn, m)

		got, ok := middleware.TenantFromContext(ctx)
		require.True(t, ok)
		assert.Same(t, tn, got)
		gotM, ok := middleware.MembershipFromContext(ctx)
		require.True(t, ok)
		assert.Same(t, m, gotM)
	})
}

// ===========================================================================
// 2. ActiveTenant middleware
// ===========================================================================

func TestActiveTenant_InjectsTenantAndMembership(t *testing.T) {
	t.Parallel()

	tn := &domain.Tenant{ID: 7, UUID: uuid.New(), Name: "Acme"}
	m := &domain.Membership{TenantID: 7, Role: domain.RoleAdmin, IsActive: true}
	h := &contextHandler{}
	handler := middleware.ActiveTenant(&fakeSource{tenant: tn, membership: m}, "/api/v1/tenants")(h)

	req := setIdentity(httptest.NewRequest(http.MethodGet, "/api/v1/workspace", http.NoBody), uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, h.called)
	assert.Equal(t, int64(7), h.tenant.ID)
	assert.Equal(t, domain.RoleAdmin, h.membership.Role)
}

func TestActiveTenant_Unset(t *testing.T) {
	t.Parallel()

	handler := middleware.ActiveTenant(&fakeSource{err: tenancy.ErrUnset}, "/api/v1/tenants")(okHandler)

	t.Run("browser is redirected", func(t *testing.T) {
		t.Parallel()

		req := setIdentity(httptest.NewRequest(http.MethodGet, "/workspace", http.NoBody), uuid.New(), uuid.New())
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/api/v1/tenants", rec.Header().Get("Location"))
	})

	t.Run("api client gets 409 with location", func(t *testing.T) {
		t.Parallel()

		req := setIdentity(httptest.NewRequest(http.MethodGet, "/workspace", http.NoBody), uuid.New(), uuid.New())
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "/api/v1/tenants", rec.Header().Get("Location"))
		assert.Contains(t, rec.Body.String(), "no active tenant selected")
	})
}

func TestActiveTenant_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "session gone", err: fmt.Errorf("tenancy.ActiveMembership: %w", domain.ErrSessionNotFound), wantStatus: http.StatusUnauthorized},
		{name: "store failure", err: errors.New("connection refused"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &contextHandler{}
			handler := middleware.ActiveTenant(&fakeSource{err: tt.err}, "/tenants")(h)
			req := setIdentity(httptest.NewRequest(http.MethodGet, "/", http.NoBody), uuid.New(), uuid.New())
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, h.called)
		})
	}

	t.Run("unauthenticated", func(t *testing.T) {
		t.Parallel()

		handler := middleware.ActiveTenant(&fakeSource{}, "/tenants")(okHandler)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestActiveTenant_HeaderCrossCheck(t *testing.T) {
	t.Parallel()

	tn := &domain.Tenant{ID: 7, UUID: uuid.New(), Name: "Acme"}
	src := &fakeSource{tenant: tn, membership: &domain.Membership{TenantID: 7, IsActive: true}}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "matching internal id", header: "7", wantStatus: http.StatusOK},
		{name: "matching uuid", header: tn.UUID.String(), wantStatus: http.StatusOK},
		{name: "other id", header: "8", wantStatus: http.StatusConflict},
		{name: "other uuid", header: uuid.NewString(), wantStatus: http.StatusConflict},
		{name: "garbage", header: "acme", wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &contextHandler{}
			handler := middleware.ActiveTenant(src, "/tenants")(h)
			req := setIdentity(httptest.NewRequest(http.MethodGet, "/", http.NoBody), uuid.New(), uuid.New())
			req.Header.Set(middleware.HeaderTenantID, tt.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusConflict {
				assert.Contains(t, rec.Body.String(), "tenant header does not match active tenant")
				assert.False(t, h.called)
			} else {
				assert.Equal(t, int64(7), h.tenant.ID, "the session tenant is injected, never the header")
			}
		})
	}
}

func TestActiveTenant_HeaderCrossCheckThroughDirectory(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	store := memory.New()
	acme := &domain.Tenant{Name: "Acme"}
	require.NoError(t, store.Tenants().Create(ctx, acme))
	globex := &domain.Tenant{Name: "Globex"}
	require.NoError(t, store.Tenants().Create(ctx, globex))
	dir := directory.New(store.Tenants(), 16, time.Minute)

	src := &fakeSource{tenant: acme, membership: &domain.Membership{TenantID: acme.ID, IsActive: true}}
	handler := middleware.ActiveTenant(src, "/tenants", middleware.WithTenantLookup(dir))(okHandler)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "active tenant uuid", header: acme.UUID.String(), wantStatus: http.StatusOK},
		{name: "other tenant uuid", header: globex.UUID.String(), wantStatus: http.StatusConflict},
		{name: "unknown uuid", header: uuid.NewString(), wantStatus: http.StatusConflict},
		{name: "internal id", header: strconv.FormatInt(acme.ID, 10), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := setIdentity(httptest.NewRequest(http.MethodGet, "/", http.NoBody), uuid.New(), uuid.New())
			req.Header.Set(middleware.HeaderTenantID, tt.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

// ===========================================================================
// 3. RateLimit middleware
// ===========================================================================

func TestRateLimit_NoTenantInContext_PassesThrough(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(t.Context(), 1, 1)(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_BurstExceeded_Returns429(t *testing.T) {
	t.Parallel()

	// Very low rate (effectively zero refill during the test) with burst of 2.
	handler := middleware.RateLimit(t.Context(), 0.001, 2)(okHandler)

	// First two requests consume the burst.
	for i := range 2 {
		req := setMembership(httptest.NewRequest(http.MethodGet, "/", http.NoBody), domain.RoleMember)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equalf(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	// Third request exceeds burst.
	req := setMembership(httptest.NewRequest(http.MethodGet, "/", http.NoBody), domain.RoleMember)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimit_IndependentPerTenant(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimit(t.Context(), 0.001, 1)(okHandler)
	withTenant := func(id int64) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		return r.WithContext(middleware.WithTenant(r.Context(), &domain.Tenant{ID: id}, &domain.Membership{TenantID: id}))
	}

	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, withTenant(1))
	require.Equal(t, http.StatusOK, recA.Code)

	// Tenant 1 is now exhausted.
	recA2 := httptest.NewRecorder()
	handler.ServeHTTP(recA2, withTenant(1))
	assert.Equal(t, http.StatusTooManyRequests, recA2.Code)

	// Tenant 2 should still be allowed.
	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, withTenant(2))
	assert.Equal(t, http.StatusOK, recB.Code)
}

func TestRateLimitByIP(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByIP(t.Context(), 0.001, 1)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", http.NoBody)
	req.RemoteAddr = "10.0.0.1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodPost, "/auth/login", http.NoBody)
	other.RemoteAddr = "10.0.0.2"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitByIP_IgnoresSourcePort(t *testing.T) {
	t.Parallel()

	handler := middleware.RateLimitByIP(t.Context(), 0.001, 1)(okHandler)

	first := httptest.NewRequest(http.MethodPost, "/auth/login", http.NoBody)
	first.RemoteAddr = "10.0.0.3:40001"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodPost, "/auth/login", http.NoBody)
	second.RemoteAddr = "10.0.0.3:40002"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

// ===========================================================================
// 4. Auth middleware
// ===========================================================================

const testJWTSecret = "test-jwt-secret-for-middleware-tests"

func openSession(t *testing.T, sessions *memory.SessionStore, userID uuid.UUID) uuid.UUID {
	t.Helper()
	sess := &domain.Session{ID: uuid.New(), UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, sessions.Create(t.Context(), sess))
	return sess.ID
}

func TestAuth_ValidToken_PopulatesContext(t *testing.T) {
	t.Parallel()

	sessions := memory.NewSessionStore()
	userID := uuid.New()
	sessionID := openSession(t, sessions, userID)

	token, err := auth.IssueAccessToken(testJWTSecret, userID, sessionID, 5*time.Minute)
	require.NoError(t, err)

	h := &contextHandler{}
	handler := middleware.Auth(testJWTSecret, sessions)(h)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, h.userID)
	assert.Equal(t, sessionID, h.sessionID)
	assert.Nil(t, h.tenant, "auth never selects a tenant")
}

func TestAuth_Rejections(t *testing.T) {
	t.Parallel()

	sessions := memory.NewSessionStore()
	userID := uuid.New()
	sessionID := openSession(t, sessions, userID)

	valid := func() string {
		tok, err := auth.IssueAccessToken(testJWTSecret, userID, sessionID, time.Minute)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name  string
		token func() string
	}{
		{name: "missing", token: func() string { return "" }},
		{name: "malformed", token: func() string { return "not-a-jwt" }},
		{name: "expired", token: func() string {
			tok, err := auth.IssueAccessToken(testJWTSecret, userID, sessionID, -time.Second)
			require.NoError(t, err)
			return tok
		}},
		{name: "wrong secret", token: func() string {
			tok, err := auth.IssueAccessToken("other-secret", userID, sessionID, time.Minute)
			require.NoError(t, err)
			return tok
		}},
		{name: "refresh token", token: func() string {
			tok, err := auth.IssueRefreshToken(testJWTSecret, userID, sessionID, time.Minute)
			require.NoError(t, err)
			return tok
		}},
		{name: "unknown session", token: func() string {
			tok, err := auth.IssueAccessToken(testJWTSecret, userID, uuid.New(), time.Minute)
			require.NoError(t, err)
			return tok
		}},
		{name: "session of another user", token: func() string {
			tok, err := auth.IssueAccessToken(testJWTSecret, uuid.New(), sessionID, time.Minute)
			require.NoError(t, err)
			return tok
		}},
	}

	handler := middleware.Auth(testJWTSecret, sessions)(okHandler)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tok := tt.token(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	t.Run("query token accepted", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/ws/session?access_token="+valid(), http.NoBody)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAuth_BearerFormat(t *testing.T) {
	t.Parallel()

	sessions := memory.NewSessionStore()
	userID := uuid.New()
	sessionID := openSession(t, sessions, userID)
	token, err := auth.IssueAccessToken(testJWTSecret, userID, sessionID, time.Minute)
	require.NoError(t, err)

	handler := middleware.Auth(testJWTSecret, sessions)(okHandler)

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Authorization", prefix+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, prefix)
	}
}
