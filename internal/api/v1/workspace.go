package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/server/middleware"
)

type WorkspaceOutput struct {
	Body struct {
		Tenant     *domain.Tenant     `json:"tenant"`
		Membership *domain.Membership `json:"membership"`
	}
}

type UpdateWorkspaceInput struct {
	Body struct {
		Name   *string `json:"name,omitempty" minLength:"1" maxLength:"255" doc:"Tenant display name"`
		Domain *string `json:"domain,omitempty" maxLength:"255" doc:"Tenant domain; empty string removes it"`
	}
}

type UpdateWorkspaceOutput struct {
	Body *domain.Tenant
}

// RegisterWorkspaceRoutes registers routes scoped to the active tenant.
func RegisterWorkspaceRoutes(api huma.API, tenants TenantUpdater) {
	huma.Register(api, huma.Operation{
		OperationID: "get-workspace",
		Method:      http.MethodGet,
		Path:        "/workspace",
		Summary:     "Active tenant and the caller's membership",
		Tags:        []string{"Workspace"},
	}, func(ctx context.Context, _ *struct{}) (*WorkspaceOutput, error) {
		t, m, err := activeScope(ctx)
		if err != nil {
			return nil, err
		}

		out := &WorkspaceOutput{}
		out.Body.Tenant = t
		out.Body.Membership = m
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workspace",
		Method:      http.MethodPatch,
		Path:        "/workspace",
		Summary:     "Rename the active tenant or change its domain",
		Tags:        []string{"Workspace"},
	}, func(ctx context.Context, input *UpdateWorkspaceInput) (*UpdateWorkspaceOutput, error) {
		t, m, err := activeScope(ctx)
		if err != nil {
			return nil, err
		}
		if !m.HasRole(domain.RoleAdmin) {
			return nil, huma.Error403Forbidden("admin role required")
		}

		updated := *t
		if input.Body.Name != nil {
			updated.Name = *input.Body.Name
		}
		if input.Body.Domain != nil {
			updated.Domain = *input.Body.Domain
		}

		if err := tenants.Update(ctx, &updated); err != nil {
			switch {
			case errors.Is(err, domain.ErrConflict):
				return nil, huma.Error409Conflict("domain already in use")
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("tenant not found")
			default:
				return nil, huma.Error500InternalServerError("failed to update tenant", err)
			}
		}

		return &UpdateWorkspaceOutput{Body: &updated}, nil
	})
}

func activeScope(ctx context.Context) (*domain.Tenant, *domain.Membership, error) {
	t, ok := middleware.TenantFromContext(ctx)
	if !ok {
		return nil, nil, huma.Error409Conflict("no active tenant selected")
	}
	m, ok := middleware.MembershipFromContext(ctx)
	if !ok {
		return nil, nil, huma.Error409Conflict("no active tenant selected")
	}
	return t, m, nil
}
