// ABOUTME: JWT verification for channel handshakes and operator REST calls
// ABOUTME: HS256 tokens whose "sub" claim names a user or operator

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew is the leeway applied to exp and nbf.
const clockSkew = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier turns a bearer token into the Subject it was issued to.
type TokenVerifier interface {
	Verify(tokenString string) (Subject, error)
}

// JWTVerifier checks HS256 tokens against a shared secret. Tokens must carry
// sub and exp.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

func (v *JWTVerifier) keyFunc(*jwt.Token) (any, error) {
	return v.secret, nil
}

func (v *JWTVerifier) Verify(tokenString string) (Subject, error) {
	var claims jwt.RegisteredClaims
	if _, err := v.parser.ParseWithClaims(tokenString, &claims, v.keyFunc); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Subject{}, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return Subject{}, fmt.Errorf("%w: exp", ErrMissingClaim)
		}
		return Subject{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return Subject{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return ParseSubject(claims.Subject)
}

// Generate signs a token for subject valid for ttl. Tokens in production are
// minted by the identity service; this serves the CLI and tests.
func (v *JWTVerifier) Generate(subject Subject, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
