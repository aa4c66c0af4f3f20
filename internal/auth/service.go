package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"

	"github.com/gosuda/tenantctx/internal/domain"
)

// Sentinel errors for the auth package.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSessionExpired     = errors.New("auth: session expired")
)

// argon2id parameters following OWASP recommendations.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// LoginMethodPassword is recorded in the session on password login.
const LoginMethodPassword = "password"

// Tokens is the result of a successful login.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	SessionID    uuid.UUID
	User         *domain.User
}

// TenantClearer drops a session's active tenant. *tenancy.Manager
// implements it and tells the session's other tabs.
type TenantClearer interface {
	ClearActiveTenant(ctx context.Context, sessionID uuid.UUID) error
}

// Service opens and closes server-side sessions and issues the JWTs bound
// to them.
type Service struct {
	userRepo   domain.UserRepository
	sessions   domain.SessionStore
	tenants    TenantClearer
	jwtSecret  string
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessionTTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithTenantClearer routes the logout-time clear through c instead of
// writing the session store directly.
func WithTenantClearer(c TenantClearer) Option {
	return func(s *Service) { s.tenants = c }
}

// NewService creates a new auth service.
func NewService(userRepo domain.UserRepository, sessions domain.SessionStore, jwtSecret string, accessTTL, refreshTTL, sessionTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		userRepo:   userRepo,
		sessions:   sessions,
		tenants:    sessions,
		jwtSecret:  jwtSecret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		sessionTTL: sessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login validates email/password, opens a session without an active tenant
// and returns access + refresh JWT tokens for it.
func (s *Service) Login(ctx context.Context, email, password string) (*Tokens, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("auth.Login: %w", err)
		}
		return nil, fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	}

	if !verifyPassword(password, user.PasswordHash) {
		return nil, fmt.Errorf("auth.Login: %w", ErrInvalidCredentials)
	}

	now := time.Now()
	sess := &domain.Session{
		ID:     uuid.New(),
		UserID: user.ID,
		Data: map[string]string{
			domain.SessionKeyLoginMethod:     LoginMethodPassword,
			domain.SessionKeyAuthenticatedAt: now.UTC().Format(time.RFC3339),
		},
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("auth.Login: %w", err)
	}

	access, err := IssueAccessToken(s.jwtSecret, user.ID, sess.ID, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth.Login: %w", err)
	}

	refresh, err := IssueRefreshToken(s.jwtSecret, user.ID, sess.ID, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth.Login: %w", err)
	}

	log.Ctx(ctx).Info().Str("user_id", user.ID.String()).Str("session_id", sess.ID.String()).Msg("session opened")

	return &Tokens{AccessToken: access, RefreshToken: refresh, SessionID: sess.ID, User: user}, nil
}

// RefreshToken validates a refresh token and issues a new access token for
// the same session. The session must still exist.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := ValidateToken(s.jwtSecret, refreshToken)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	if claims.TokenType != TokenTypeRefresh {
		return "", fmt.Errorf("auth.RefreshToken: %w", ErrInvalidToken)
	}

	userID, sessionID, err := claims.IDs()
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("auth.RefreshToken: %w", ErrSessionExpired)
		}
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}
	if sess.UserID != userID {
		return "", fmt.Errorf("auth.RefreshToken: %w", ErrInvalidToken)
	}

	newAccess, err := IssueAccessToken(s.jwtSecret, userID, sessionID, s.accessTTL)
	if err != nil {
		return "", fmt.Errorf("auth.RefreshToken: %w", err)
	}

	return newAccess, nil
}

// Logout clears the session's active tenant and then destroys the session.
// Logging out of an already closed session is not an error.
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.tenants.ClearActiveTenant(ctx, sessionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("auth.Logout: %w", err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("auth.Logout: %w", err)
	}

	log.Ctx(ctx).Info().Str("session_id", sessionID.String()).Msg("session closed")
	return nil
}

// GetUser returns the user behind a session.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("auth.GetUser: %w", err)
	}

	return user, nil
}

// HashPassword generates an argon2id hash with a random salt.
// Format: hex(salt) + "$" + hex(hash)
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

// verifyPassword checks a password against an argon2id hash.
func verifyPassword(password, encoded string) bool {
	// Split salt$hash
	var saltHex, hashHex string
	for i := range len(encoded) {
		if encoded[i] == '$' {
			saltHex = encoded[:i]
			hashHex = encoded[i+1:]
			break
		}
	}

	if saltHex == "" || hashHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}

	expectedHash, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Constant-time comparison to prevent timing attacks.
	if len(computed) != len(expectedHash) {
		return false
	}

	var diff byte
	for i := range computed {
		diff |= computed[i] ^ expectedHash[i]
	}

	return diff == 0
}
