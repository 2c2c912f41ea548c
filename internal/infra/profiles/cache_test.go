package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainuser "petadopt/internal/domain/user"
)

type countingDirectory struct {
	calls    map[string]int
	profiles map[string]domainuser.Profile
}

func (d *countingDirectory) Profile(_ context.Context, id string) (*domainuser.Profile, error) {
	d.calls[id]++
	p, ok := d.profiles[id]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	return &p, nil
}

func TestCachedDirectoryServesRepeatLookups(t *testing.T) {
	next := &countingDirectory{calls: map[string]int{}, profiles: map[string]domainuser.Profile{"u1": {ID: "u1", Username: "uno"}}}
	dir, err := NewCachedDirectory(next, 8, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := dir.Profile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "uno", p.Username)
	}
	assert.Equal(t, 1, next.calls["u1"])

	_, err = dir.Profile(ctx, "ghost")
	assert.ErrorIs(t, err, domainuser.ErrNotFound)
	_, err = dir.Profile(ctx, "ghost")
	assert.ErrorIs(t, err, domainuser.ErrNotFound)
	assert.Equal(t, 2, next.calls["ghost"])
}

func TestCachedDirectoryExpiresEntries(t *testing.T) {
	next := &countingDirectory{calls: map[string]int{}, profiles: map[string]domainuser.Profile{"u1": {ID: "u1"}}}
	dir, err := NewCachedDirectory(next, 8, time.Minute)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return now }
	ctx := context.Background()

	_, err = dir.Profile(ctx, "u1")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = dir.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls["u1"])

	dir.Forget("u1")
	_, err = dir.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls["u1"])
}
