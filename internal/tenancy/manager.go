// Package tenancy owns the active-tenant slice of a session: who may select
// which tenant, the atomic switch itself, and revalidation on every read.
package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tenantctx/internal/domain"
	redisstore "github.com/gosuda/tenantctx/internal/store/redis"
)

// ErrUnset is returned when the session has no usable active tenant, either
// because none was chosen or because the chosen one is no longer allowed.
var ErrUnset = errors.New("tenancy: no active tenant")

// FlashSwitched formats the flash message stored after a switch.
const FlashSwitched = "Switched to tenant: %s"

// Resolver resolves tenant ids, usually a *directory.Directory.
type Resolver interface {
	Resolve(ctx context.Context, id int64) (*domain.Tenant, error)
}

// Publisher delivers session events, usually Redis pub/sub.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Manager struct {
	sessions    domain.SessionStore
	memberships domain.MembershipRepository
	tenants     Resolver
	audit       domain.AuditRepository
	events      Publisher
	now         func() time.Time
}

// NewManager wires the manager. audit and events may be nil.
func NewManager(
	sessions domain.SessionStore,
	memberships domain.MembershipRepository,
	tenants Resolver,
	audit domain.AuditRepository,
	events Publisher,
) *Manager {
	return &Manager{
		sessions:    sessions,
		memberships: memberships,
		tenants:     tenants,
		audit:       audit,
		events:      events,
		now:         time.Now,
	}
}

// GetActiveTenant returns the session's active tenant after checking that
// the user still holds an active membership in it. A stale selection is
// cleared and reported as ErrUnset.
func (m *Manager) GetActiveTenant(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Tenant, error) {
	t, _, err := m.resolveActive(ctx, sessionID, userID, false)
	if err != nil {
		return nil, fmt.Errorf("tenancy.GetActiveTenant: %w", err)
	}
	return t, nil
}

// ActiveMembership is GetActiveTenant plus the membership that authorizes it.
func (m *Manager) ActiveMembership(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Tenant, *domain.Membership, error) {
	t, mem, err := m.resolveActive(ctx, sessionID, userID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("tenancy.ActiveMembership: %w", err)
	}
	return t, mem, nil
}

func (m *Manager) resolveActive(ctx context.Context, sessionID, userID uuid.UUID, withMembership bool) (*domain.Tenant, *domain.Membership, error) {
	if sessionID == uuid.Nil || userID == uuid.Nil {
		return nil, nil, domain.ErrValidation
	}

	tenantID, ok, err := m.sessions.ActiveTenant(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrUnset
	}

	allowed, err := m.memberships.HasActiveMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if !allowed {
		m.invalidate(ctx, sessionID, userID, tenantID, "membership inactive")
		return nil, nil, ErrUnset
	}

	t, err := m.tenants.Resolve(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		m.invalidate(ctx, sessionID, userID, tenantID, "tenant missing")
		return nil, nil, ErrUnset
	}
	if err != nil {
		return nil, nil, err
	}

	if !withMembership {
		return t, nil, nil
	}

	mem, err := m.memberships.Get(ctx, userID, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		m.invalidate(ctx, sessionID, userID, tenantID, "membership removed")
		return nil, nil, ErrUnset
	}
	if err != nil {
		return nil, nil, err
	}
	// Suspended after the HasActiveMembership read.
	if !mem.IsActive {
		m.invalidate(ctx, sessionID, userID, tenantID, "membership inactive")
		return nil, nil, ErrUnset
	}
	return t, mem, nil
}

// invalidate clears a stale selection, but only if the session still holds
// that exact tenant; a concurrent switch to something else wins.
func (m *Manager) invalidate(ctx context.Context, sessionID, userID uuid.UUID, tenantID int64, reason string) {
	logger := log.Ctx(ctx).With().
		Str("session_id", sessionID.String()).
		Int64("tenant_id", tenantID).
		Str("reason", reason).
		Logger()

	cleared, err := m.sessions.CompareAndClearActiveTenant(ctx, sessionID, tenantID)
	if err != nil {
		logger.Warn().Err(err).Msg("tenancy: clear stale tenant failed")
		return
	}
	if !cleared {
		return
	}
	logger.Warn().Err(domain.ErrInvalidState).Msg("tenancy: stale active tenant cleared")

	m.record(ctx, &domain.AuditEntry{
		TenantID:  tenantID,
		ActorID:   userID,
		SessionID: sessionID,
		Action:    "tenant.invalidated",
		Details:   map[string]any{"reason": reason},
	})
	m.publish(ctx, Event{Type: EventInvalidated, SessionID: sessionID, TenantID: tenantID})
}

// SwitchTenant makes tenantID the session's active tenant. It fails with
// domain.ErrNotFound for unknown tenants and domain.ErrForbidden when the
// user has no active membership; callers must not let the two be told
// apart. Only the active-tenant field of the session is written.
func (m *Manager) SwitchTenant(ctx context.Context, sessionID, userID uuid.UUID, tenantID int64) (*domain.Tenant, error) {
	if sessionID == uuid.Nil || userID == uuid.Nil || tenantID <= 0 {
		return nil, fmt.Errorf("tenancy.SwitchTenant: %w", domain.ErrValidation)
	}

	// Session first: an expired session must not read as an unknown tenant.
	previous, hadPrevious, err := m.sessions.ActiveTenant(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("tenancy.SwitchTenant: %w", err)
	}

	t, err := m.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenancy.SwitchTenant: %w", err)
	}

	allowed, err := m.memberships.HasActiveMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenancy.SwitchTenant: %w", err)
	}
	if !allowed {
		log.Ctx(ctx).Info().
			Str("user_id", userID.String()).
			Int64("tenant_id", tenantID).
			Msg("tenancy: switch denied")
		return nil, fmt.Errorf("tenancy.SwitchTenant: %w", domain.ErrForbidden)
	}

	if err := m.sessions.SetActiveTenant(ctx, sessionID, tenantID); err != nil {
		return nil, fmt.Errorf("tenancy.SwitchTenant: %w", err)
	}

	if err := m.sessions.SetValue(ctx, sessionID, domain.SessionKeyFlashSuccess, fmt.Sprintf(FlashSwitched, t.Name)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("tenancy: store flash message")
	}

	details := map[string]any{"tenant_uuid": t.UUID.String()}
	if hadPrevious {
		details["previous_tenant_id"] = previous
	}
	m.record(ctx, &domain.AuditEntry{
		TenantID:  t.ID,
		ActorID:   userID,
		SessionID: sessionID,
		Action:    "tenant.switched",
		Details:   details,
	})
	m.publish(ctx, Event{
		Type:       EventSwitched,
		SessionID:  sessionID,
		TenantID:   t.ID,
		TenantUUID: t.UUID,
		TenantName: t.Name,
	})

	log.Ctx(ctx).Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID.String()).
		Int64("tenant_id", t.ID).
		Msg("tenancy: switched")

	return t, nil
}

// ClearActiveTenant removes the active tenant. Clearing an unset session is
// not an error.
func (m *Manager) ClearActiveTenant(ctx context.Context, sessionID uuid.UUID) error {
	if sessionID == uuid.Nil {
		return fmt.Errorf("tenancy.ClearActiveTenant: %w", domain.ErrValidation)
	}

	previous, had, err := m.sessions.ActiveTenant(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("tenancy.ClearActiveTenant: %w", err)
	}
	if err := m.sessions.ClearActiveTenant(ctx, sessionID); err != nil {
		return fmt.Errorf("tenancy.ClearActiveTenant: %w", err)
	}
	if had {
		m.publish(ctx, Event{Type: EventCleared, SessionID: sessionID, TenantID: previous})
	}
	return nil
}

// ListAvailableTenants returns the tenants the user may switch to, in the
// given order.
func (m *Manager) ListAvailableTenants(ctx context.Context, userID uuid.UUID, order domain.TenantOrder) ([]*domain.TenantMembership, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("tenancy.ListAvailableTenants: %w", domain.ErrValidation)
	}
	list, err := m.memberships.ListTenantsForUser(ctx, userID, order)
	if err != nil {
		return nil, fmt.Errorf("tenancy.ListAvailableTenants: %w", err)
	}
	return list, nil
}

// PopFlash returns and consumes the session's pending success message.
func (m *Manager) PopFlash(ctx context.Context, sessionID uuid.UUID) (string, bool, error) {
	msg, ok, err := m.sessions.PopValue(ctx, sessionID, domain.SessionKeyFlashSuccess)
	if err != nil {
		return "", false, fmt.Errorf("tenancy.PopFlash: %w", err)
	}
	return msg, ok, nil
}

func (m *Manager) record(ctx context.Context, entry *domain.AuditEntry) {
	if m.audit == nil {
		return
	}
	entry.ID = uuid.New()
	entry.CreatedAt = m.now()
	if err := m.audit.Record(ctx, entry); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("action", entry.Action).Msg("tenancy: audit record failed")
	}
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.events == nil {
		return
	}
	ev.At = m.now()
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("tenancy: marshal event")
		return
	}
	if err := m.events.Publish(ctx, redisstore.SessionChannel(ev.SessionID), payload); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("type", ev.Type).Msg("tenancy: publish event failed")
	}
}
