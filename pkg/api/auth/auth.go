// Package auth implements token verification for the internal operator
// surface (spec §4's operator API: trigger recovery, force-delete). It is
// intentionally minimal — end-user authentication and JWT issuance are out
// of scope; only a single shared operator secret is verified here.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token fails signature or claim checks.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Claims identifies the operator holding a token.
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// Verifier validates operator bearer tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier from the configured operator secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// IssueToken mints an operator token. No endpoint exposes it; within this
// module only tests call it.
func (v *Verifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses and validates tokenString, returning its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
