package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Backend    string
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Server     ServerConfig
	Session    SessionConfig
	Directory  DirectoryConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Migrate    bool
	SeedDemo   bool
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // G117: JWT signing secret config
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// SessionConfig holds server-side session settings.
type SessionConfig struct {
	TTL time.Duration
}

// DirectoryConfig sizes the tenant lookup cache.
type DirectoryConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// RateLimitConfig holds per-tenant and per-IP (login) request limits.
type RateLimitConfig struct {
	TenantRPS   float64
	TenantBurst int
	LoginRPS    float64
	LoginBurst  int
}

// LogConfig selects the global logger level and output format.
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load reads configuration from environment variables, after merging a .env
// file (TENANTCTX_ENV_FILE, default ".env") when one exists. Variables that
// are already set win over the file.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	envFile := getEnv("TENANTCTX_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: reading %s: %w", envFile, err)
	}

	dbPort, err := getEnvInt("TENANTCTX_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TENANTCTX_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TENANTCTX_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	accessTTL, err := getEnvDuration("TENANTCTX_JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	refreshTTL, err := getEnvDuration("TENANTCTX_JWT_REFRESH_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TENANTCTX_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TENANTCTX_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionTTL, err := getEnvDuration("TENANTCTX_SESSION_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cacheSize, err := getEnvInt("TENANTCTX_DIRECTORY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cacheTTL, err := getEnvDuration("TENANTCTX_DIRECTORY_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tenantRPS, err := getEnvFloat("TENANTCTX_RATE_LIMIT_RPS", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	tenantBurst, err := getEnvInt("TENANTCTX_RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	loginRPS, err := getEnvFloat("TENANTCTX_LOGIN_RATE_LIMIT_RPS", 1)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	loginBurst, err := getEnvInt("TENANTCTX_LOGIN_RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	migrate, err := getEnvBool("TENANTCTX_MIGRATE", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	seedDemo, err := getEnvBool("TENANTCTX_SEED_DEMO", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("TENANTCTX_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("TENANTCTX_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Backend: strings.ToLower(getEnv("TENANTCTX_BACKEND", BackendPostgres)),
		Database: DatabaseConfig{
			Host:     getEnv("TENANTCTX_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("TENANTCTX_DB_USER", "tenantctx"),
			Password: getEnv("TENANTCTX_DB_PASSWORD", ""),
			DBName:   getEnv("TENANTCTX_DB_NAME", "tenantctx_dev"),
			SSLMode:  getEnv("TENANTCTX_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("TENANTCTX_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("TENANTCTX_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:     getEnv("TENANTCTX_JWT_SECRET", ""),
			AccessTTL:  accessTTL,
			RefreshTTL: refreshTTL,
		},
		Server: ServerConfig{
			Addr:         getEnv("TENANTCTX_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Session: SessionConfig{
			TTL: sessionTTL,
		},
		Directory: DirectoryConfig{
			CacheSize: cacheSize,
			CacheTTL:  cacheTTL,
		},
		RateLimit: RateLimitConfig{
			TenantRPS:   tenantRPS,
			TenantBurst: tenantBurst,
			LoginRPS:    loginRPS,
			LoginBurst:  loginBurst,
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("TENANTCTX_LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("TENANTCTX_LOG_FORMAT", "json")),
		},
		Migrate:    migrate,
		SeedDemo:   seedDemo,
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("TENANTCTX_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("TENANTCTX_JWT_SECRET must be at least 32 characters")
	}

	switch c.Backend {
	case BackendPostgres:
		if c.Database.SSLMode == "disable" && !c.SelfHosted {
			log.Warn().Msg("TENANTCTX_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("TENANTCTX_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("TENANTCTX_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("TENANTCTX_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Backend)
	}

	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("TENANTCTX_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("TENANTCTX_JWT_REFRESH_TTL must be positive, got %s", c.JWT.RefreshTTL)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("TENANTCTX_SESSION_TTL must be positive, got %s", c.Session.TTL)
	}
	if c.Session.TTL < c.JWT.RefreshTTL {
		log.Warn().
			Dur("session_ttl", c.Session.TTL).
			Dur("refresh_ttl", c.JWT.RefreshTTL).
			Msg("TENANTCTX_SESSION_TTL is shorter than the refresh token lifetime; refresh fails once the session expires")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TENANTCTX_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("TENANTCTX_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Directory.CacheSize < 1 {
		return fmt.Errorf("TENANTCTX_DIRECTORY_CACHE_SIZE must be >= 1, got %d", c.Directory.CacheSize)
	}
	if c.Directory.CacheTTL <= 0 {
		return fmt.Errorf("TENANTCTX_DIRECTORY_CACHE_TTL must be positive, got %s", c.Directory.CacheTTL)
	}
	if c.RateLimit.TenantRPS <= 0 || c.RateLimit.TenantBurst < 1 {
		return fmt.Errorf("TENANTCTX_RATE_LIMIT_RPS and _BURST must be positive, got %g/%d", c.RateLimit.TenantRPS, c.RateLimit.TenantBurst)
	}
	if c.RateLimit.LoginRPS <= 0 || c.RateLimit.LoginBurst < 1 {
		return fmt.Errorf("TENANTCTX_LOGIN_RATE_LIMIT_RPS and _BURST must be positive, got %g/%d", c.RateLimit.LoginRPS, c.RateLimit.LoginBurst)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("TENANTCTX_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
