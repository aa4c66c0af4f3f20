package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/tenantctx/internal/api/v1"
	"github.com/gosuda/tenantctx/internal/api/ws"
)

func registerAuthRoutes(api huma.API, deps Deps) {
	v1.RegisterAuthRoutes(api, deps.Auth)
}

func registerSessionRoutes(api huma.API, deps Deps) {
	v1.RegisterSessionRoutes(api, deps.Auth)
	v1.RegisterTenantRoutes(api, deps.Tenancy)
}

func registerWorkspaceRoutes(api huma.API, deps Deps) {
	v1.RegisterWorkspaceRoutes(api, deps.Directory)
}

func registerAdminRoutes(api huma.API, deps Deps) {
	v1.RegisterMembershipRoutes(api, deps.Store)
}

func registerMemberManagementRoutes(api huma.API, deps Deps) {
	v1.RegisterMemberManagementRoutes(api, deps.Store)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/session", hub.ServeSession)
}
