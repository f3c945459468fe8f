package cache

import (
	"context"
	"errors"
	"time"

	pkgcache "TransitWatch/pkg/cache"
)

// RemoteCache shares rendered responses between instances through Redis.
type RemoteCache struct {
	c      pkgcache.Service
	prefix string
}

func NewRemoteCache(c pkgcache.Service, prefix string) *RemoteCache {
	if prefix == "" {
		prefix = "resp"
	}
	return &RemoteCache{c: c, prefix: prefix}
}

func (r *RemoteCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	var b []byte
	if err := r.c.Get(ctx, pkgcache.GenerateKey(r.prefix, key), &b); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (r *RemoteCache) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, pkgcache.GenerateKey(r.prefix, key), value, ttl)
}
