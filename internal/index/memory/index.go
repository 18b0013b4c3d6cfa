// Package memory provides an in-process metadata index.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/index"
)

// Index keeps metadata in a map keyed by cache key.
type Index struct {
	mu   sync.RWMutex
	rows map[string]article.Metadata
}

// New creates an empty Index.
func New() *Index {
	return &Index{rows: make(map[string]article.Metadata)}
}

// Upsert stores meta unless a row with an equal or greater length exists.
func (i *Index) Upsert(_ context.Context, meta article.Metadata) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if cur, ok := i.rows[meta.Key]; ok && cur.Length >= meta.Length {
		return nil
	}
	i.rows[meta.Key] = meta
	return nil
}

// Recent lists up to limit rows, newest first.
func (i *Index) Recent(_ context.Context, limit int) ([]article.Metadata, error) {
	i.mu.RLock()
	out := make([]article.Metadata, 0, len(i.rows))
	for _, m := range i.rows {
		out = append(out, m)
	}
	i.mu.RUnlock()

	index.SortRecent(out)
	if limit = index.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
