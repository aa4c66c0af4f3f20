package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/tenantctx/internal/domain"
)

// jwtClaims mirrors auth.Claims; only access tokens are accepted here.
type jwtClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
}

// SessionLookup is the part of domain.SessionStore the Auth middleware needs.
type SessionLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
}

// Auth authenticates the bearer token and checks that the session it was
// issued for still exists and belongs to the same user.
func Auth(jwtSecret string, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				tok = r.URL.Query().Get("access_token") // websocket clients cannot set headers
			}
			if tok != "" {
				ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret, sessions)
				if ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret string, sessions SessionLookup) (context.Context, bool) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid || claims.TokenType != "access" {
		return ctx, false
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return ctx, false
	}

	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return ctx, false
	}

	sess, err := sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Ctx(ctx).Warn().Err(err).Msg("auth: session lookup failed")
		}
		return ctx, false
	}
	if sess.UserID != userID {
		return ctx, false
	}

	logger := log.Ctx(ctx).With().
		Str("user_id", userID.String()).
		Str("session_id", sessionID.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	return WithIdentity(ctx, userID, sessionID), true
}
