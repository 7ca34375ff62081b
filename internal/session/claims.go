package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token cannot be decoded or lacks
	// an expiry.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrEmptyToken is returned when an empty token is offered for adoption.
	ErrEmptyToken = errors.New("session: empty token")
)

// Claims is the decoded payload of a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"id,omitempty"`
}

// SubjectID returns the subject identifier, preferring the registered
// sub claim over the backend's id claim.
func (c *Claims) SubjectID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// ExpiresAtTime returns the exp claim as a time.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Expired reports whether exp is not in the future relative to now.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAtTime().After(now)
}

// DecodeClaims parses token without verifying its signature; the client
// holds no key and the backend re-validates every request. The token
// must carry an exp claim.
func DecodeClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}
	return claims, nil
}
