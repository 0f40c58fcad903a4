package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sand/storefront-payments/backend/internal/entities"
)

type callerKey struct{}

// Claims is the access token payload: sub is the user id, role is user or admin.
type Claims struct {
	Role entities.Role `json:"role"`
	jwt.RegisteredClaims
}

// AccessGuard resolves the bearer token of a request into an entities.Caller.
type AccessGuard struct {
	logger *slog.Logger
	secret []byte
}

func NewAccessGuard(logger *slog.Logger, secret string) *AccessGuard {
	return &AccessGuard{logger: logger, secret: []byte(secret)}
}

// Middleware rejects requests without a valid token with 401.
func (g *AccessGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondFailure(w, http.StatusUnauthorized, "Missing token")
			return
		}

		caller, err := g.Resolve(raw)
		if err != nil {
			g.logger.Debug("Rejected access token", "path", r.URL.Path, "error", err)
			respondFailure(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (g *AccessGuard) Resolve(raw string) (entities.Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return entities.Caller{}, err
	}
	if !token.Valid {
		return entities.Caller{}, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return entities.Caller{}, errors.New("token has no subject")
	}

	role := claims.Role
	if role == "" {
		role = entities.RoleUser
	}
	if role != entities.RoleUser && role != entities.RoleAdmin {
		return entities.Caller{}, fmt.Errorf("unknown role %q", role)
	}

	return entities.Caller{ID: claims.Subject, Role: role}, nil
}

// IssueToken signs an HS256 access token for caller.
func (g *AccessGuard) IssueToken(caller entities.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

func WithCaller(ctx context.Context, caller entities.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFrom(ctx context.Context) (entities.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(entities.Caller)
	return caller, ok
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter for browser WebSocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
