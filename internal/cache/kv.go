package cache

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by KV.Get for absent keys.
	ErrKeyNotFound = errors.New("cache key not found")
	// ErrConflict is returned by KV.Create and KV.Update when the stored
	// revision no longer matches the caller's expectation.
	ErrConflict = errors.New("cache revision conflict")
)

// Entry is a raw stored value and the revision it was read at.
type Entry struct {
	Value    []byte
	Revision uint64
}

// KV is a key-value backend with compare-and-swap writes.
type KV interface {
	// Get returns the current entry or ErrKeyNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Create writes key only if it is absent, returning ErrConflict otherwise.
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	// Update writes key only if it is still at revision, returning
	// ErrConflict otherwise.
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}
