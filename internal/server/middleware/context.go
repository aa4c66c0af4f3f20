package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/tenantctx/internal/domain"
)

type contextKey string

const (
	ContextKeyUserID     contextKey = "user_id"
	ContextKeySessionID  contextKey = "session_id"
	ContextKeyTenant     contextKey = "tenant"
	ContextKeyMembership contextKey = "membership"
)

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeyUserID).(uuid.UUID)
	return v, ok
}

func SessionIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ContextKeySessionID).(uuid.UUID)
	return v, ok
}

// TenantFromContext returns the active tenant injected by ActiveTenant. It is
// the only source of the current tenant for a request.
func TenantFromContext(ctx context.Context) (*domain.Tenant, bool) {
	v, ok := ctx.Value(ContextKeyTenant).(*domain.Tenant)
	return v, ok && v != nil
}

func MembershipFromContext(ctx context.Context) (*domain.Membership, bool) {
	v, ok := ctx.Value(ContextKeyMembership).(*domain.Membership)
	return v, ok && v != nil
}

// WithIdentity stores the authenticated user and session.
func WithIdentity(ctx context.Context, userID, sessionID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUserID, userID)
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithTenant stores the active tenant and the membership authorizing it.
func WithTenant(ctx context.Context, t *domain.Tenant, m *domain.Membership) context.Context {
	ctx = context.WithValue(ctx, ContextKeyTenant, t)
	return context.WithValue(ctx, ContextKeyMembership, m)
}
