package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingIdentity = errors.New("missing caller identity")
	ErrInvalidToken    = errors.New("invalid bearer token")
)

type identityKey struct{}

// IdentityFrom returns the caller resolved by Authenticator.Middleware.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

type identityClaims struct {
	jwt.RegisteredClaims
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Authenticator resolves the caller. With a secret it accepts HS256 bearer
// tokens only; without one it trusts the X-User-* headers set by a gateway.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// IssueToken signs a bearer token for id.
func (a *Authenticator) IssueToken(id domain.Identity, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("token signing is disabled without a secret")
	}
	now := time.Now()
	claims := &identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name:   id.DisplayName,
		Avatar: id.Avatar,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Identify resolves the caller of r. WebSocket clients cannot set headers, so
// the access_token, userId and name query parameters are accepted as well.
func (a *Authenticator) Identify(r *http.Request) (domain.Identity, error) {
	if len(a.secret) > 0 {
		token := r.URL.Query().Get("access_token")
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			return domain.Identity{}, ErrMissingIdentity
		}
		return a.parse(token)
	}

	q := r.URL.Query()
	id := domain.Identity{
		ID:          firstNonEmpty(r.Header.Get("X-User-ID"), q.Get("userId")),
		DisplayName: firstNonEmpty(r.Header.Get("X-User-Name"), q.Get("name")),
		Avatar:      firstNonEmpty(r.Header.Get("X-User-Avatar"), q.Get("avatar")),
	}
	if strings.TrimSpace(id.ID) == "" {
		return domain.Identity{}, ErrMissingIdentity
	}
	if id.DisplayName == "" {
		id.DisplayName = id.ID
	}
	return id, nil
}

func (a *Authenticator) parse(raw string) (domain.Identity, error) {
	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.Subject == "" {
		return domain.Identity{}, ErrInvalidToken
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return domain.Identity{ID: claims.Subject, DisplayName: name, Avatar: claims.Avatar}, nil
}

// Middleware rejects requests without an identity.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Identify(r)
		if err != nil {
			respondJSON(w, http.StatusUnauthorized, NewAPIError(http.StatusUnauthorized, ErrCodeUnauthenticated, err.Error()))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
