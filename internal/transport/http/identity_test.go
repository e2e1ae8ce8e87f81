package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatorHeaders(t *testing.T) {
	auth := NewAuthenticator("", nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-User-Avatar", "https://img.example/u1.png")
	id, err := auth.Identify(req)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{ID: "u1", DisplayName: "u1", Avatar: "https://img.example/u1.png"}, id)

	_, err = auth.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, errors.Is(err, ErrMissingIdentity))
}

func TestAuthenticatorBearerToken(t *testing.T) {
	auth := NewAuthenticator("s3cret", nil)
	token, err := auth.IssueToken(domain.Identity{ID: "u2", DisplayName: "Una"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	id, err := auth.Identify(req)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.ID)
	assert.Equal(t, "Una", id.DisplayName)

	query := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	id, err = auth.Identify(query)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.ID)

	// headers are not trusted once tokens are required
	spoofed := httptest.NewRequest(http.MethodGet, "/", nil)
	spoofed.Header.Set("X-User-ID", "admin")
	_, err = auth.Identify(spoofed)
	assert.True(t, errors.Is(err, ErrMissingIdentity))
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator("s3cret", nil)

	expired, err := auth.IssueToken(domain.Identity{ID: "u3"}, -time.Minute)
	require.NoError(t, err)

	other := NewAuthenticator("different", nil)
	foreign, err := other.IssueToken(domain.Identity{ID: "u3"}, time.Minute)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u3"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{"expired": expired, "foreign": foreign, "none": none, "garbage": "abc"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			_, err := auth.Identify(req)
			assert.True(t, errors.Is(err, ErrInvalidToken))
		})
	}
}

func TestMiddlewareStoresIdentity(t *testing.T) {
	auth := NewAuthenticator("", nil)
	var seen domain.Identity
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u4")
	req.Header.Set("X-User-Name", "Uma")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "Uma", seen.DisplayName)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
