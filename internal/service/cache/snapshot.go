package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// SnapshotCache keeps the last successful REST response per key so a failed
// poll can fall back to it. Entries are dropped after ttl.
type SnapshotCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &SnapshotCache{c: gocache.New(ttl, ttl/2), ttl: ttl}
}

func (s *SnapshotCache) Put(key string, value interface{}) {
	s.c.SetDefault(key, value)
}

func (s *SnapshotCache) Get(key string) (interface{}, bool) {
	return s.c.Get(key)
}

// Age reports how long ago key was stored.
func (s *SnapshotCache) Age(key string) (time.Duration, bool) {
	_, exp, ok := s.c.GetWithExpiration(key)
	if !ok {
		return 0, false
	}
	return s.ttl - time.Until(exp), true
}
