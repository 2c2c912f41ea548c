package profiles

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	domainuser "petadopt/internal/domain/user"
)

const defaultTTL = 5 * time.Minute

// CachedDirectory keeps recently resolved profiles so a busy conversation does not hit the
// users collection on every message. Misses are not cached.
type CachedDirectory struct {
	next  domainuser.Directory
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

type entry struct {
	profile domainuser.Profile
	expires time.Time
}

func NewCachedDirectory(next domainuser.Directory, size int, ttl time.Duration) (*CachedDirectory, error) {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedDirectory{next: next, cache: cache, ttl: ttl, now: time.Now}, nil
}

func (d *CachedDirectory) Profile(ctx context.Context, id string) (*domainuser.Profile, error) {
	if val, ok := d.cache.Get(id); ok {
		e := val.(entry)
		if d.now().Before(e.expires) {
			p := e.profile
			return &p, nil
		}
		d.cache.Remove(id)
	}
	p, err := d.next.Profile(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.Add(id, entry{profile: *p, expires: d.now().Add(d.ttl)})
	out := *p
	return &out, nil
}

// Forget drops a cached profile, e.g. after the user renamed themselves.
func (d *CachedDirectory) Forget(id string) {
	d.cache.Remove(id)
}

var _ domainuser.Directory = (*CachedDirectory)(nil)
