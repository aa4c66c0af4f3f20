package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	v1 "github.com/gosuda/tenantctx/internal/api/v1"
	"github.com/gosuda/tenantctx/internal/api/ws"
	"github.com/gosuda/tenantctx/internal/config"
	"github.com/gosuda/tenantctx/internal/server/middleware"
)

// SelectionPath is where requests without an active tenant are sent.
const SelectionPath = "/api/v1/tenants"

// Deps are the collaborators the HTTP layer is wired to.
type Deps struct {
	Store     v1.DataStore
	Sessions  middleware.SessionLookup
	Auth      v1.AuthService
	Tenancy   TenancyService
	Directory TenantDirectory
	Events    ws.Subscriber
}

// TenantDirectory is the cached tenant lookup. *directory.Directory
// satisfies it.
type TenantDirectory interface {
	v1.TenantUpdater
	middleware.TenantLookup
}

// TenancyService is the tenant switching surface plus the lookup the
// ActiveTenant middleware needs. *tenancy.Manager satisfies it.
type TenancyService interface {
	v1.TenantSwitcher
	middleware.ActiveTenantSource
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds the background
// cleanup of the rate limiters.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RealIP)
	router.Use(hlog.NewHandler(logger))
	router.Use(hlog.RequestIDHandler("req_id", "X-Request-ID"))
	router.Use(hlog.RemoteAddrHandler("ip"))
	router.Use(hlog.AccessHandler(accessLog))
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.HeaderTenantID, "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	authenticate := middleware.Auth(cfg.JWT.Secret, deps.Sessions)
	activeTenant := middleware.ActiveTenant(deps.Tenancy, SelectionPath, middleware.WithTenantLookup(deps.Directory))
	tenantLimit := middleware.RateLimit(ctx, cfg.RateLimit.TenantRPS, cfg.RateLimit.TenantBurst)

	// Mount API routes on /api/v1 with five sub-groups:
	// 1. Unauthenticated login/refresh, limited per IP.
	// 2. Authenticated, no tenant required (selection, switching, logout).
	// 3. Tenant-scoped, limited per tenant.
	// 4. Tenant-scoped admin routes.
	// 5. Admin routes that also need members.manage.
	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ctx, cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst))
			registerAuthRoutes(newAPI(r, "tenantctx Auth API"), deps)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			registerSessionRoutes(newAPI(r, "tenantctx Session API"), deps)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(activeTenant)
			r.Use(tenantLimit)
			registerWorkspaceRoutes(newAPI(r, "tenantctx Workspace API"), deps)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(activeTenant)
			r.Use(tenantLimit)
			r.Use(middleware.RequireAdmin())
			registerAdminRoutes(newAPI(r, "tenantctx Admin API"), deps)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(activeTenant)
			r.Use(tenantLimit)
			r.Use(middleware.RequireAdmin())
			r.Use(middleware.RequirePermission(v1.PermissionManageMembers))
			registerMemberManagementRoutes(newAPI(r, "tenantctx Member Management API"), deps)
		})
	})

	// WebSocket routes.
	router.Route("/ws", func(r chi.Router) {
		r.Use(authenticate)
		registerWSRoutes(r, ws.NewHub(deps.Events))
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func newAPI(r chi.Router, title string) huma.API {
	cfg := huma.DefaultConfig(title, "1.0.0")
	cfg.Servers = []*huma.Server{
		{URL: "/api/v1"},
	}
	return humachi.New(r, cfg)
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
