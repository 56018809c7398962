package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage is the key-value collaborator backing the session and token
// registries. Delete and Remove must be atomic: when several callers race to
// consume the same key, exactly one wins.
type Storage interface {
	Get(ctx context.Context, key string, val any) error
	Set(ctx context.Context, key string, val any, expiresIn time.Duration) error
	Delete(ctx context.Context, key string) error
	Remove(ctx context.Context, key string, val any) error
	Expire(ctx context.Context, key string, expiresAt time.Time) error
}

// Store is a typed view over a Storage with a fixed key prefix.
type Store[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Set(ctx context.Context, key string, val T, expiresIn time.Duration) error
	Delete(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) (T, error)
	Expire(ctx context.Context, key string, expiresAt time.Time) error
}
