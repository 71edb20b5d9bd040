// ABOUTME: HS256 JWT rendering of capability tokens for external tool servers
// ABOUTME: External servers verify the grant themselves instead of trusting the caller's process

package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer errors
var (
	ErrInvalidSignedToken = errors.New("invalid signed token")
	ErrExpiredSignedToken = errors.New("signed token expired")
)

// Signer renders tokens as HS256-signed JWTs and verifies them back.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the given shared secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign renders the token as a signed JWT. The "exp" claim mirrors the
// token's own expiry, so a verifier applies the same time limit.
func (s *Signer) Sign(t *Token) (string, error) {
	claims := jwt.MapClaims{
		"jti":                t.ID,
		"sub":                t.Delegatee,
		"allowed_actions":    t.AllowedActions,
		"denied_actions":     t.DeniedActions,
		"data_scope":         t.DataScope,
		"time_limit_seconds": int64(t.TimeLimit / time.Second),
		"iat":                t.CreatedAt.Unix(),
		"exp":                t.CreatedAt.Add(t.TimeLimit).Unix(),
	}
	if t.GoalID != "" {
		claims["goal_id"] = t.GoalID
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates the signature and expiry and returns the claims.
func (s *Signer) Verify(tokenString string) (map[string]any, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredSignedToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignedToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidSignedToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidSignedToken
	}
	return claims, nil
}
