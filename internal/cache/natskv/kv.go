// Package natskv stores cache entries in a NATS JetStream key-value bucket.
// Bucket revisions back the compare-and-swap writes required by cache.Store.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/JakeFAU/fulltext-fetcher/internal/cache"
	"github.com/JakeFAU/fulltext-fetcher/internal/hash/sha256"
)

// Config describes the bucket to open.
type Config struct {
	Bucket string
	// TTL expires entries at the store level; zero keeps them forever.
	TTL      time.Duration
	Replicas int
}

// bucket is the subset of jetstream.KeyValue the cache uses.
type bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}

// KV adapts a JetStream bucket to cache.KV. Cache keys contain URLs, which
// JetStream keys cannot carry, so every key is stored under its SHA-256 digest.
type KV struct {
	bucket bucket
	hasher *sha256.Hasher
}

// New wraps an existing bucket.
func New(kv jetstream.KeyValue) *KV {
	return newKV(kv)
}

func newKV(b bucket) *KV {
	return &KV{bucket: b, hasher: sha256.New()}
}

// Open creates or updates the configured bucket and wraps it.
func Open(ctx context.Context, js jetstream.JetStream, cfg Config) (*KV, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "best known article per source and url",
		TTL:         cfg.TTL,
		History:     1,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", cfg.Bucket, err)
	}
	return New(kv), nil
}

// Get implements cache.KV.
func (s *KV) Get(ctx context.Context, key string) (cache.Entry, error) {
	entry, err := s.bucket.Get(ctx, s.hasher.Key(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return cache.Entry{}, cache.ErrKeyNotFound
		}
		return cache.Entry{}, fmt.Errorf("kv get: %w", err)
	}
	return cache.Entry{Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Create implements cache.KV.
func (s *KV) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.bucket.Create(ctx, s.hasher.Key(key), value)
	if err != nil {
		return 0, mapWriteError("kv create", err)
	}
	return rev, nil
}

// Update implements cache.KV.
func (s *KV) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	rev, err := s.bucket.Update(ctx, s.hasher.Key(key), value, revision)
	if err != nil {
		return 0, mapWriteError("kv update", err)
	}
	return rev, nil
}

// A stale revision surfaces as the same wrong-last-sequence API error that
// backs jetstream.ErrKeyExists.
func mapWriteError(op string, err error) error {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("%s: %w", op, cache.ErrConflict)
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return fmt.Errorf("%s: %w", op, cache.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
