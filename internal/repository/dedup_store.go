package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TransitWatch/pkg/cache"
)

// MemoryDedupStore remembers claimed keys in memory. With a positive ttl a
// key may be claimed again once it expires, and expired keys are swept out
// during Claim at most once per sweep interval.
type MemoryDedupStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	sweepGap  time.Duration
	lastSweep time.Time
	now       func() time.Time
}

const maxDedupSweepGap = 10 * time.Minute

func NewMemoryDedupStore(ttl time.Duration) *MemoryDedupStore {
	return &MemoryDedupStore{
		seen:     make(map[string]time.Time),
		ttl:      ttl,
		sweepGap: min(ttl, maxDedupSweepGap),
		now:      time.Now,
	}
}

// SetClock replaces the time source, used by tests.
func (s *MemoryDedupStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.lastSweep = time.Time{}
	s.mu.Unlock()
}

func (s *MemoryDedupStore) Claim(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	if at, ok := s.seen[key]; ok && !s.expired(at, now) {
		return false, nil
	}
	s.seen[key] = now
	return true, nil
}

func (s *MemoryDedupStore) expired(at, now time.Time) bool {
	return s.ttl > 0 && now.Sub(at) >= s.ttl
}

func (s *MemoryDedupStore) sweepLocked(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < s.sweepGap {
		return
	}
	s.lastSweep = now
	for k, at := range s.seen {
		if s.expired(at, now) {
			delete(s.seen, k)
		}
	}
}

// Len reports the number of remembered keys.
func (s *MemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RedisDedupStore claims keys with SETNX so several instances share one
// delivered-alert set.
type RedisDedupStore struct {
	c      cache.Service
	prefix string
	ttl    time.Duration
}

func NewRedisDedupStore(c cache.Service, prefix string, ttl time.Duration) *RedisDedupStore {
	if prefix == "" {
		prefix = "dedup"
	}
	return &RedisDedupStore{c: c, prefix: prefix, ttl: ttl}
}

func (s *RedisDedupStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.c.TryLock(ctx, cache.GenerateKey(s.prefix, key), s.ttl)
	if err != nil {
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return ok, nil
}
