// ABOUTME: Request authentication for WebSocket handshakes and REST endpoints
// ABOUTME: Reads a JWT from the token query parameter or the Authorization header

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when a request carries no usable token.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrForbidden is returned when the token's subject may not act as requested.
var ErrForbidden = errors.New("forbidden")

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the token from ?token= or, failing that, the
// Authorization header.
func TokenFromRequest(r *http.Request) (string, error) {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	tok, msg := extractBearerToken(r.Header.Get("Authorization"))
	if msg != "" {
		return "", fmt.Errorf("%w: %s", ErrUnauthenticated, msg)
	}
	return tok, nil
}

// Authenticator checks request tokens. A nil verifier disables checks.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator creates an Authenticator. Pass nil to allow all requests.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Enabled reports whether tokens are checked.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.verifier != nil
}

// Authenticate verifies the request's token and returns its subject.
func (a *Authenticator) Authenticate(r *http.Request) (Subject, error) {
	tok, err := TokenFromRequest(r)
	if err != nil {
		return Subject{}, err
	}
	sub, err := a.verifier.Verify(tok)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return sub, nil
}

// AuthorizeChannel checks that the request may open the channel for
// (kind, id). The token subject must match exactly.
func (a *Authenticator) AuthorizeChannel(r *http.Request, kind string, id int64) error {
	if !a.Enabled() {
		return nil
	}
	sub, err := a.Authenticate(r)
	if err != nil {
		return err
	}
	if sub.Kind != kind || sub.ID != id {
		return fmt.Errorf("%w: token for %s cannot open %s:%d", ErrForbidden, sub, kind, id)
	}
	return nil
}

// RequireKind returns middleware that admits only subjects of the given kind.
// With authentication disabled it passes every request through.
func (a *Authenticator) RequireKind(kind string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			sub, err := a.Authenticate(r)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if sub.Kind != kind {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), sub)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
