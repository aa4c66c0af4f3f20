package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tenantctx/internal/auth"
	"github.com/gosuda/tenantctx/internal/config"
	"github.com/gosuda/tenantctx/internal/directory"
	"github.com/gosuda/tenantctx/internal/domain"
	"github.com/gosuda/tenantctx/internal/seed"
	"github.com/gosuda/tenantctx/internal/server"
	"github.com/gosuda/tenantctx/internal/store/memory"
	"github.com/gosuda/tenantctx/internal/store/postgres"
	redisstore "github.com/gosuda/tenantctx/internal/store/redis"
	"github.com/gosuda/tenantctx/internal/tenancy"
)

// repos is satisfied by both *postgres.Store and *memory.Store.
type repos interface {
	Tenants() domain.TenantRepository
	Users() domain.UserRepository
	Memberships() domain.MembershipRepository
	Audit() domain.AuditRepository
}

type pubsub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

type backend struct {
	store    repos
	sessions domain.SessionStore
	events   pubsub
	closers  []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log)

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if cfg.SeedDemo {
		if err := seed.Demo(ctx, b.store); err != nil {
			return err
		}
		log.Info().Str("tenant", seed.DemoTenantName).Msg("demo data ready")
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dir := directory.New(
		b.store.Tenants(),
		cfg.Directory.CacheSize,
		cfg.Directory.CacheTTL,
		directory.WithInvalidation(b.events, redisstore.TenantInvalidationChannel),
	)
	go func() {
		if listenErr := dir.Listen(ctx, b.events, redisstore.TenantInvalidationChannel); listenErr != nil {
			log.Error().Err(listenErr).Msg("directory invalidation listener stopped")
		}
	}()

	manager := tenancy.NewManager(b.sessions, b.store.Memberships(), dir, b.store.Audit(), b.events)
	authSvc := auth.NewService(b.store.Users(), b.sessions, cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, cfg.Session.TTL,
		auth.WithTenantClearer(manager))

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, log.Logger, server.Deps{
		Store:     b.store,
		Sessions:  b.sessions,
		Auth:      authSvc,
		Tenancy:   manager,
		Directory: dir,
		Events:    b.events,
	})

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Backend).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

// setupLogging initializes the global structured logger.
func setupLogging(cfg config.LogConfig) {
	level, parseErr := zerolog.ParseLevel(cfg.Level)
	if parseErr != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	// log.Ctx falls back to the global logger outside HTTP requests.
	zerolog.DefaultContextLogger = &log.Logger
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Backend == config.BackendMemory {
		log.Warn().Msg("in-memory backend: data is lost on restart and not shared between instances")
		return &backend{
			store:    memory.New(),
			sessions: memory.NewSessionStore(),
			events:   memory.NewPubSub(),
		}, nil
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	b := &backend{}

	// Connect to PostgreSQL.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, store.Close)
	b.store = store

	if cfg.Migrate {
		if err := postgres.Migrate(ctx, store.Pool()); err != nil {
			b.close()
			return nil, err
		}
	}

	// Connect to Redis.
	client, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		b.close()
		return nil, err
	}
	events := redisstore.NewPubSub(client)
	b.closers = append(b.closers, func() { _ = events.Close() })
	b.events = events
	b.sessions = redisstore.NewSessionStore(client, cfg.Session.TTL)

	return b, nil
}
