package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/server/middleware"
	"github.com/gosuda/tenantctx/internal/tenancy"
)

// TenantView is a tenant as shown to a member, optionally with the caller's
// role in it.
type TenantView struct {
	ID          int64       `json:"id"`
	UUID        uuid.UUID   `json:"uuid"`
	Name        string      `json:"name"`
	Domain      string      `json:"domain,omitempty"`
	Role        domain.Role `json:"role,omitempty"`
	Permissions []string    `json:"permissions,omitempty"`
}

// TenantListInput selects the order of the tenant list.
type TenantListInput struct {
	Order string `query:"order" enum:"created,name" default:"created" doc:"created: membership creation order; name: alphabetical"`
}

func (in *TenantListInput) order() domain.TenantOrder {
	if in.Order == "name" {
		return domain.OrderName
	}
	return domain.OrderCreated
}

type ListTenantsOutput struct {
	Body struct {
		Tenants       []TenantView `json:"tenants"`
		CurrentTenant *TenantView  `json:"currentTenant"`
		Flash         string       `json:"flash,omitempty" doc:"Pending success message, consumed by this read"`
	}
}

type AvailableTenantsOutput struct {
	Body struct {
		Tenants       []TenantView `json:"tenants"`
		CurrentTenant *TenantView  `json:"currentTenant"`
	}
}

type SwitchTenantInput struct {
	Body struct {
		TenantID int64 `json:"tenant_id" minimum:"1" doc:"Internal id of the tenant to activate"`
	}
}

type SwitchTenantOutput struct {
	Body struct {
		Tenant  TenantView `json:"tenant"`
		Message string     `json:"message"`
	}
}

// RegisterTenantRoutes registers tenant selection and switching. These routes
// need an authenticated session but no active tenant.
func RegisterTenantRoutes(api huma.API, switcher TenantSwitcher) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants",
		Summary:     "Tenant selection data",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantListInput) (*ListTenantsOutput, error) {
		userID, sessionID, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		tenants, current, err := available(ctx, switcher, userID, sessionID, input.order())
		if err != nil {
			return nil, err
		}
		flash, _, err := switcher.PopFlash(ctx, sessionID)
		if err != nil {
			return nil, sessionError(err, "failed to read flash")
		}

		out := &ListTenantsOutput{}
		out.Body.Tenants = tenants
		out.Body.CurrentTenant = current
		out.Body.Flash = flash
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-available-tenants",
		Method:      http.MethodGet,
		Path:        "/tenants/available",
		Summary:     "List tenants the caller can switch to",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *TenantListInput) (*AvailableTenantsOutput, error) {
		userID, sessionID, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		tenants, current, err := available(ctx, switcher, userID, sessionID, input.order())
		if err != nil {
			return nil, err
		}

		out := &AvailableTenantsOutput{}
		out.Body.Tenants = tenants
		out.Body.CurrentTenant = current
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "switch-tenant",
		Method:      http.MethodPost,
		Path:        "/tenants/switch",
		Summary:     "Make a tenant the session's active tenant",
		Tags:        []string{"Tenants"},
	}, func(ctx context.Context, input *SwitchTenantInput) (*SwitchTenantOutput, error) {
		userID, sessionID, err := identity(ctx)
		if err != nil {
			return nil, err
		}

		t, err := switcher.SwitchTenant(ctx, sessionID, userID, input.Body.TenantID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrSessionNotFound):
				return nil, huma.Error401Unauthorized("session expired")
			// Unknown tenants and tenants without membership look the same.
			case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
				return nil, huma.Error404NotFound("tenant not found")
			case errors.Is(err, domain.ErrValidation):
				return nil, huma.Error422UnprocessableEntity("invalid tenant id")
			default:
				return nil, huma.Error500InternalServerError("failed to switch tenant", err)
			}
		}

		out := &SwitchTenantOutput{}
		out.Body.Tenant = viewOf(t)
		out.Body.Message = fmt.Sprintf(tenancy.FlashSwitched, t.Name)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-active-tenant",
		Method:        http.MethodDelete,
		Path:          "/tenants/active",
		Summary:       "Clear the session's active tenant",
		Tags:          []string{"Tenants"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		_, sessionID, err := identity(ctx)
		if err != nil {
			return nil, err
		}
		if err := switcher.ClearActiveTenant(ctx, sessionID); err != nil {
			return nil, sessionError(err, "failed to clear active tenant")
		}
		return nil, nil
	})
}

func identity(ctx context.Context) (userID, sessionID uuid.UUID, err error) {
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, uuid.Nil, huma.Error401Unauthorized("missing user context")
	}
	sessionID, ok = middleware.SessionIDFromContext(ctx)
	if !ok {
		return uuid.Nil, uuid.Nil, huma.Error401Unauthorized("missing session")
	}
	return userID, sessionID, nil
}

func available(ctx context.Context, switcher TenantSwitcher, userID, sessionID uuid.UUID, order domain.TenantOrder) ([]TenantView, *TenantView, error) {
	list, err := switcher.ListAvailableTenants(ctx, userID, order)
	if err != nil {
		return nil, nil, huma.Error500InternalServerError("failed to list tenants", err)
	}

	tenants := make([]TenantView, 0, len(list))
	for _, tm := range list {
		v := viewOf(tm.Tenant)
		v.Role = tm.Role
		v.Permissions = tm.Permissions
		tenants = append(tenants, v)
	}

	t, err := switcher.GetActiveTenant(ctx, sessionID, userID)
	switch {
	case errors.Is(err, tenancy.ErrUnset):
		return tenants, nil, nil
	case err != nil:
		return nil, nil, sessionError(err, "failed to read active tenant")
	}
	current := viewOf(t)
	return tenants, &current, nil
}

// sessionError maps a vanished session to 401 and everything else to 500.
func sessionError(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return huma.Error401Unauthorized("session expired")
	}
	return huma.Error500InternalServerError(msg, err)
}

func viewOf(t *domain.Tenant) TenantView {
	return TenantView{
		ID:     t.ID,
		UUID:   t.UUID,
		Name:   t.Name,
		Domain: t.Domain,
	}
}
