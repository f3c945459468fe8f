package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	domrepo "TransitWatch/internal/domain/repository"
	"TransitWatch/pkg/cache"
)

// MemoryBlobStore keeps blobs in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryBlobStore) Save(_ context.Context, id string, blob []byte) error {
	s.mu.Lock()
	s.blobs[id] = append([]byte(nil), blob...)
	s.mu.Unlock()
	return nil
}

// FileBlobStore writes one file per id under dir.
type FileBlobStore struct {
	dir string
}

func NewFileBlobStore(dir string) *FileBlobStore {
	return &FileBlobStore{dir: dir}
}

func (s *FileBlobStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileBlobStore) Load(_ context.Context, id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return b, nil
}

// Save writes to a temp file and renames it so readers never see a partial blob.
func (s *FileBlobStore) Save(_ context.Context, id string, blob []byte) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

// RedisBlobStore stores blobs through the remote cache without expiry.
type RedisBlobStore struct {
	c      cache.Service
	prefix string
}

func NewRedisBlobStore(c cache.Service, prefix string) *RedisBlobStore {
	if prefix == "" {
		prefix = "blob"
	}
	return &RedisBlobStore{c: c, prefix: prefix}
}

func (s *RedisBlobStore) Load(ctx context.Context, id string) ([]byte, error) {
	var b []byte
	if err := s.c.Get(ctx, cache.GenerateKey(s.prefix, id), &b); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("redis load blob: %w", err)
	}
	return b, nil
}

func (s *RedisBlobStore) Save(ctx context.Context, id string, blob []byte) error {
	if err := s.c.Set(ctx, cache.GenerateKey(s.prefix, id), blob, 0); err != nil {
		return fmt.Errorf("redis save blob: %w", err)
	}
	return nil
}
