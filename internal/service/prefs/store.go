package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/303webhouse/pandoras-box-sub000/pkg/cache"
	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

// Store persists preferences in a cache.Service without expiry.
type Store struct {
	cache cache.Service
	log   *logger.Logger
}

func New(c cache.Service, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{cache: c, log: log.With(logger.String("component", "prefs"))}
}

// Open picks the backend named in cfg.Preferences. Redis is fronted by an
// in-process layer.
func Open(cfg *config.Config, log *logger.Logger) (*Store, error) {
	p := cfg.Preferences
	if p.Backend != "redis" {
		return New(cache.NewMemoryCache(), log), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(p.Redis.Host, p.Redis.Port),
		cache.WithRedisPassword(p.Redis.Password),
		cache.WithRedisDB(p.Redis.DB),
		cache.WithRedisPrefix(p.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("open preference store: %w", err)
	}
	return New(cache.NewLayeredCache(rc, 256), log), nil
}

// Get reads namespace/key into dest. A missing entry is (false, nil); an
// entry that does not decode is reported and treated as missing by callers.
func (s *Store) Get(ctx context.Context, namespace, key string, dest interface{}) (bool, error) {
	err := s.cache.Get(ctx, cache.Key(namespace, key), dest)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cache.ErrCacheMiss):
		return false, nil
	default:
		s.log.Warn("preference read failed", logger.String("namespace", namespace), logger.String("key", key), logger.Error(err))
		return false, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
}

func (s *Store) Set(ctx context.Context, namespace, key string, value interface{}) error {
	if err := s.cache.Set(ctx, cache.Key(namespace, key), value, 0); err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *Store) Close() error { return s.cache.Close() }
