package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is server-side per-login state. ActiveTenantID is the active tenant
// context; it is owned by the session and addressed independently of Data so
// that switching never rewrites anything else.
type Session struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ActiveTenantID *int64
	Data           map[string]string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Well-known session data keys.
const (
	SessionKeyLoginMethod     = "login_method"
	SessionKeyAuthenticatedAt = "authenticated_at"
	SessionKeyFlashSuccess    = "flash.success"
)

// SessionStore persists sessions. Every method returns ErrNotFound when the
// session does not exist or has expired.
//
// SetActiveTenant must replace the active tenant atomically with respect to
// concurrent readers and writers of the same session, and must leave Data
// untouched.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error

	SetValue(ctx context.Context, id uuid.UUID, key, value string) error
	// PopValue returns and removes a value in one step (flash messages).
	PopValue(ctx context.Context, id uuid.UUID, key string) (string, bool, error)

	ActiveTenant(ctx context.Context, id uuid.UUID) (int64, bool, error)
	SetActiveTenant(ctx context.Context, id uuid.UUID, tenantID int64) error
	ClearActiveTenant(ctx context.Context, id uuid.UUID) error
	// CompareAndClearActiveTenant clears the active tenant only if it still
	// equals expected, reporting whether it did.
	CompareAndClearActiveTenant(ctx context.Context, id uuid.UUID, expected int64) (bool, error)
}
