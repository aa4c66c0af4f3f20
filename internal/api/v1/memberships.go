package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/server/middleware"
)

// PermissionManageMembers allows changing other members of the tenant.
const PermissionManageMembers = "members.manage"

type ListMembershipsOutput struct {
	Body []*domain.Membership
}

type UpdateMembershipInput struct {
	UserID string `path:"userID" format:"uuid" doc:"Member user id"`
	Body   struct {
		IsActive    *bool     `json:"is_active,omitempty" doc:"Suspend (false) or reactivate (true) the membership"`
		Role        *string   `json:"role,omitempty" minLength:"1" maxLength:"64" doc:"Membership role"`
		Permissions *[]string `json:"permissions,omitempty" doc:"Replacement permission list"`
	}
}

type UpdateMembershipOutput struct {
	Body *domain.Membership
}

type ListAuditInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Max results"`
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Offset for pagination"`
}

type AuditEntryView struct {
	ID        uuid.UUID      `json:"id"`
	ActorID   uuid.UUID      `json:"actor_id"`
	SessionID *uuid.UUID     `json:"session_id,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ListAuditOutput struct {
	Body []AuditEntryView
}

// RegisterMembershipRoutes registers the administrative routes of the active
// tenant.
func RegisterMembershipRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-memberships",
		Method:      http.MethodGet,
		Path:        "/memberships",
		Summary:     "List members of the active tenant",
		Tags:        []string{"Memberships"},
	}, func(ctx context.Context, _ *struct{}) (*ListMembershipsOutput, error) {
		t, m, err := activeScope(ctx)
		if err != nil {
			return nil, err
		}
		if !m.HasRole(domain.RoleAdmin) {
			return nil, huma.Error403Forbidden("admin role required")
		}

		list, err := store.Memberships().ListByTenant(ctx, t.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list memberships", err)
		}
		return &ListMembershipsOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit-log",
		Method:      http.MethodGet,
		Path:        "/audit-log",
		Summary:     "Audit trail of the active tenant, newest first",
		Tags:        []string{"Memberships"},
	}, func(ctx context.Context, input *ListAuditInput) (*ListAuditOutput, error) {
		t, m, err := activeScope(ctx)
		if err != nil {
			return nil, err
		}
		if !m.HasRole(domain.RoleAdmin) {
			return nil, huma.Error403Forbidden("admin role required")
		}

		entries, err := store.Audit().ListByTenant(ctx, t.ID, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list audit log", err)
		}

		views := make([]AuditEntryView, 0, len(entries))
		for _, e := range entries {
			v := AuditEntryView{
				ID:        e.ID,
				ActorID:   e.ActorID,
				Action:    e.Action,
				Details:   e.Details,
				CreatedAt: e.CreatedAt,
			}
			if e.SessionID != uuid.Nil {
				sid := e.SessionID
				v.SessionID = &sid
			}
			views = append(views, v)
		}
		return &ListAuditOutput{Body: views}, nil
	})
}

// RegisterMemberManagementRoutes registers the routes that change other
// members. They need the members.manage permission on top of the admin role.
func RegisterMemberManagementRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "update-membership",
		Method:      http.MethodPatch,
		Path:        "/memberships/{userID}",
		Summary:     "Suspend, reactivate or re-role a member",
		Tags:        []string{"Memberships"},
	}, func(ctx context.Context, input *UpdateMembershipInput) (*UpdateMembershipOutput, error) {
		t, m, err := activeScope(ctx)
		if err != nil {
			return nil, err
		}
		if !m.HasRole(domain.RoleAdmin) || !m.Can(PermissionManageMembers) {
			return nil, huma.Error403Forbidden("members.manage permission required")
		}

		userID, err := uuid.Parse(input.UserID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid user id")
		}
		if userID == m.UserID {
			return nil, huma.Error409Conflict("cannot modify own membership")
		}

		repo := store.Memberships()
		details := map[string]any{"user_id": userID.String()}
		if input.Body.IsActive != nil {
			if err := repo.SetActive(ctx, userID, t.ID, *input.Body.IsActive); err != nil {
				return nil, membershipError(err)
			}
			details["is_active"] = *input.Body.IsActive
		}
		if input.Body.Role != nil {
			if err := repo.UpdateRole(ctx, userID, t.ID, domain.Role(*input.Body.Role)); err != nil {
				return nil, membershipError(err)
			}
			details["role"] = *input.Body.Role
		}
		if input.Body.Permissions != nil {
			if err := repo.UpdatePermissions(ctx, userID, t.ID, *input.Body.Permissions); err != nil {
				return nil, membershipError(err)
			}
			details["permissions"] = *input.Body.Permissions
		}

		updated, err := repo.Get(ctx, userID, t.ID)
		if err != nil {
			return nil, membershipError(err)
		}

		sessionID, _ := middleware.SessionIDFromContext(ctx)
		entry := &domain.AuditEntry{
			ID:        uuid.New(),
			TenantID:  t.ID,
			ActorID:   m.UserID,
			SessionID: sessionID,
			Action:    "membership.updated",
			Details:   details,
			CreatedAt: time.Now(),
		}
		if err := store.Audit().Record(ctx, entry); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("membership: audit record failed")
		}

		return &UpdateMembershipOutput{Body: updated}, nil
	})
}

func membershipError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return huma.Error404NotFound("membership not found")
	}
	return huma.Error500InternalServerError("failed to update membership", err)
}
