package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrTokenRequired   = errors.New("auth: token is required")
	ErrUnauthenticated = errors.New("auth: invalid token")
	ErrTokenExpired    = errors.New("auth: token expired")
)

type Token string

// Identity is the user bound to a verified bearer credential.
type Identity struct {
	UserID   string
	Username string
	Fullname string
	Email    string
	Role     string
}

func (i Identity) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	return role != "" && strings.ToLower(i.Role) == role
}

// Verifier validates bearer credentials issued elsewhere.
type Verifier interface {
	Verify(ctx context.Context, token Token) (*Identity, error)
}

// StripBearer removes an optional "Bearer " prefix.
func StripBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
