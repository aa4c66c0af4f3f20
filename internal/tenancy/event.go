package tenancy

import (
	"time"

	"github.com/google/uuid"
)

// Event types published on a session's channel.
const (
	EventSwitched    = "tenant_switched"
	EventCleared     = "tenant_cleared"
	EventInvalidated = "tenant_invalidated"
)

// Event tells other tabs of the same session that the active tenant changed.
type Event struct {
	Type       string    `json:"type"`
	SessionID  uuid.UUID `json:"session_id"`
	TenantID   int64     `json:"tenant_id,omitempty"`
	TenantUUID uuid.UUID `json:"tenant_uuid,omitzero"`
	TenantName string    `json:"tenant_name,omitempty"`
	At         time.Time `json:"at"`
}
