package memory

import (
	"context"
	"strings"
	"sync"

	domainuser "petadopt/internal/domain/user"
)

// ProfileDirectory resolves public profiles from memory.
type ProfileDirectory struct {
	mu    sync.RWMutex
	items map[string]domainuser.Profile
}

func NewProfileDirectory(profiles ...domainuser.Profile) *ProfileDirectory {
	d := &ProfileDirectory{items: make(map[string]domainuser.Profile, len(profiles))}
	for _, p := range profiles {
		d.Put(p)
	}
	return d
}

func (d *ProfileDirectory) Put(profile domainuser.Profile) {
	id := strings.TrimSpace(profile.ID)
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[id] = profile
}

func (d *ProfileDirectory) Profile(ctx context.Context, id string) (*domainuser.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.items[strings.TrimSpace(id)]
	if !ok {
		return nil, domainuser.ErrNotFound
	}
	return &p, nil
}

var _ domainuser.Directory = (*ProfileDirectory)(nil)
