package user

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("user: not found")

// Profile holds the public fields other users may see. Credentials never live here.
type Profile struct {
	ID       string
	Username string
	Fullname string
	Avatar   string
}

// Directory resolves user ids to public profiles.
type Directory interface {
	Profile(ctx context.Context, id string) (*Profile, error)
}
