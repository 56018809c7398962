package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/storage/memory/v2"
)

// MemoryStorage adapts the fiber in-process storage to the Storage interface.
// It backs tests and single-node deployments that run without redis. The
// underlying storage cannot report whether a deleted key existed, so a mutex
// serializes operations to keep Delete/Remove consume-once.
type MemoryStorage struct {
	mu  sync.Mutex
	mem *memory.Storage
}

func (s *MemoryStorage) Get(ctx context.Context, key string, val any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key, val)
}

func (s *MemoryStorage) get(key string, val any) error {
	data, err := s.mem.Get(key)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, val)
}

func (s *MemoryStorage) Set(ctx context.Context, key string, val any, expiresIn time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	if expiresIn < 0 {
		expiresIn = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Set(key, data, expiresIn)
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.mem.Get(key)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrNotFound
	}
	return s.mem.Delete(key)
}

func (s *MemoryStorage) Remove(ctx context.Context, key string, val any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.get(key, val); err != nil {
		return err
	}
	return s.mem.Delete(key)
}

func (s *MemoryStorage) Expire(ctx context.Context, key string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var raw json.RawMessage
	if err := s.get(key, &raw); err != nil {
		return err
	}
	// The underlying storage treats a non-positive duration as "no expiry", so
	// a deadline already in the past has to delete outright.
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.mem.Delete(key)
	}
	return s.mem.Set(key, raw, ttl)
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		mem: memory.New(),
	}
}
