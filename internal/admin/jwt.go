// ABOUTME: JWT verification for the admin API
// ABOUTME: HS256 tokens with a subject and an admin role claim

package admin

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the JWT failed signature or claim checks.
	ErrInvalidToken = errors.New("invalid admin token")

	// ErrNotAdmin indicates a valid token without the admin role.
	ErrNotAdmin = errors.New("token does not carry the admin role")
)

// Claims are the JWT claims the admin API requires.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates admin JWTs signed with a shared HS256 secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token string, returning the subject on
// success. Only HS256 is accepted.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if claims.Role != "admin" {
		return "", ErrNotAdmin
	}

	return claims.Subject, nil
}

// Generate mints an admin token for the given subject. Used by the CLI
// bootstrap command and by tests.
func (v *Verifier) Generate(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
