// ABOUTME: Tests for request authentication on channels and REST endpoints
// ABOUTME: Covers token sources, subject matching and disabled mode

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustToken(t *testing.T, v *JWTVerifier, sub Subject) string {
	t.Helper()
	tok, err := v.Generate(sub, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/user/1?token=abc", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	tok, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok, "query parameter wins")

	r = httptest.NewRequest(http.MethodGet, "/ws/user/1", nil)
	r.Header.Set("Authorization", "Bearer header-token")
	tok, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "header-token", tok)

	r = httptest.NewRequest(http.MethodGet, "/ws/user/1", nil)
	_, err = TokenFromRequest(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = TokenFromRequest(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthorizeChannel(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	a := NewAuthenticator(v)

	agent7 := mustToken(t, v, Subject{Kind: KindAgent, ID: 7})

	r := httptest.NewRequest(http.MethodGet, "/ws/agent/7?token="+agent7, nil)
	assert.NoError(t, a.AuthorizeChannel(r, KindAgent, 7))

	r = httptest.NewRequest(http.MethodGet, "/ws/agent/8?token="+agent7, nil)
	assert.ErrorIs(t, a.AuthorizeChannel(r, KindAgent, 8), ErrForbidden)

	r = httptest.NewRequest(http.MethodGet, "/ws/user/7?token="+agent7, nil)
	assert.ErrorIs(t, a.AuthorizeChannel(r, KindUser, 7), ErrForbidden)

	r = httptest.NewRequest(http.MethodGet, "/ws/user/7?token=junk", nil)
	assert.ErrorIs(t, a.AuthorizeChannel(r, KindUser, 7), ErrUnauthenticated)
}

func TestAuthorizeChannel_Disabled(t *testing.T) {
	a := NewAuthenticator(nil)
	assert.False(t, a.Enabled())

	r := httptest.NewRequest(http.MethodGet, "/ws/agent/7", nil)
	assert.NoError(t, a.AuthorizeChannel(r, KindAgent, 7))
}

func TestRequireKind(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	a := NewAuthenticator(v)

	var seen Subject
	handler := a.RequireKind(KindAgent)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"user token", "Bearer " + mustToken(t, v, Subject{Kind: KindUser, ID: 1}), http.StatusForbidden},
		{"agent token", "Bearer " + mustToken(t, v, Subject{Kind: KindAgent, ID: 3}), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/support-alerts", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.Equal(t, Subject{Kind: KindAgent, ID: 3}, seen)
}
