// Package auth reads the user identity carried by bearer tokens and, on the
// development server, issues and verifies them.
package auth

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/inbox/internal/model"
)

// ErrNoIdentity is returned for tokens without an email claim.
var ErrNoIdentity = errors.New("auth: token carries no email")

// Claims are the claims of an inbox token.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	gojwt.RegisteredClaims
}

// User returns the user the claims describe.
func (c *Claims) User() model.User {
	return model.User{Name: c.Name, Email: c.Email}
}

// IdentityFromToken returns the user of token without checking its
// signature. The server checks it; the client only needs to know who it is.
func IdentityFromToken(token string) (model.User, error) {
	claims := &Claims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, claims); err != nil {
		return model.User{}, fmt.Errorf("auth: parse token: %w", err)
	}
	if claims.Email == "" {
		return model.User{}, ErrNoIdentity
	}
	return claims.User(), nil
}

// Issue signs an HS256 token for user, valid for ttl. A zero ttl never expires.
func Issue(secret []byte, user model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:  user.Email,
			IssuedAt: gojwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = gojwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verifier checks HS256 tokens.
type Verifier struct {
	secret []byte
	parser *gojwt.Parser
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: secret,
		parser: gojwt.NewParser(gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()})),
	}
}

// Verify checks the signature and expiry of token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}
	if claims.Email == "" {
		return nil, ErrNoIdentity
	}
	return claims, nil
}
