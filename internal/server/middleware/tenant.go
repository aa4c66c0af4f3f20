package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/tenancy"
)

// HeaderTenantID lets clients assert which tenant they believe is active.
// It is checked against the session and never selects a tenant itself.
const HeaderTenantID = "X-Tenant-ID"

// ActiveTenantSource is implemented by *tenancy.Manager.
type ActiveTenantSource interface {
	ActiveMembership(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Tenant, *domain.Membership, error)
}

// TenantLookup resolves external tenant ids. *directory.Directory
// implements it.
type TenantLookup interface {
	ResolveUUID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
}

// ActiveTenantOption configures ActiveTenant.
type ActiveTenantOption func(*activeTenantConfig)

type activeTenantConfig struct {
	lookup TenantLookup
}

// WithTenantLookup makes the X-Tenant-ID check resolve UUIDs through l, so
// a UUID is accepted only while it still names a known tenant.
func WithTenantLookup(l TenantLookup) ActiveTenantOption {
	return func(c *activeTenantConfig) { c.lookup = l }
}

// ActiveTenant resolves the session's active tenant and injects it, with the
// membership that authorizes it, into the request context. Requests without
// a usable tenant are sent to selectionPath: browsers get a 303, API clients
// a 409 whose Location header names the selection endpoint.
func ActiveTenant(source ActiveTenantSource, selectionPath string, opts ...ActiveTenantOption) func(http.Handler) http.Handler {
	var cfg activeTenantConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, okUser := UserIDFromContext(ctx)
			sessionID, okSess := SessionIDFromContext(ctx)
			if !okUser || !okSess {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"authentication required"}`, http.StatusUnauthorized)
				return
			}

			t, m, err := source.ActiveMembership(ctx, sessionID, userID)
			switch {
			case errors.Is(err, tenancy.ErrUnset):
				redirectToSelection(w, r, selectionPath)
				return
			case errors.Is(err, domain.ErrSessionNotFound):
				// Session vanished between Auth and here.
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"session expired"}`, http.StatusUnauthorized)
				return
			case err != nil:
				log.Ctx(ctx).Error().Err(err).Msg("active tenant lookup failed")
				http.Error(w, `{"title":"Internal Server Error","status":500,"detail":"active tenant unavailable"}`, http.StatusInternalServerError)
				return
			}

			if hdr := r.Header.Get(HeaderTenantID); hdr != "" && !cfg.headerMatches(ctx, hdr, t) {
				http.Error(w, `{"title":"Conflict","status":409,"detail":"tenant header does not match active tenant"}`, http.StatusConflict)
				return
			}

			logger := log.Ctx(ctx).With().Int64("tenant_id", t.ID).Logger()
			ctx = logger.WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(WithTenant(ctx, t, m)))
		})
	}
}

func redirectToSelection(w http.ResponseWriter, r *http.Request, selectionPath string) {
	if wantsHTML(r) {
		http.Redirect(w, r, selectionPath, http.StatusSeeOther)
		return
	}
	w.Header().Set("Location", selectionPath)
	http.Error(w, `{"title":"Conflict","status":409,"detail":"no active tenant selected"}`, http.StatusConflict)
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// headerMatches accepts either the internal id or the external UUID.
func (c *activeTenantConfig) headerMatches(ctx context.Context, hdr string, t *domain.Tenant) bool {
	hdr = strings.TrimSpace(hdr)
	if id, err := strconv.ParseInt(hdr, 10, 64); err == nil {
		return id == t.ID
	}
	id, err := uuid.Parse(hdr)
	if err != nil {
		return false
	}
	if c.lookup == nil {
		return id == t.UUID
	}
	named, err := c.lookup.ResolveUUID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Ctx(ctx).Warn().Err(err).Msg("tenant header lookup failed")
		}
		return false
	}
	return named.ID == t.ID
}
