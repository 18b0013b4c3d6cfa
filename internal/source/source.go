// Package source holds the retrieval adapters and the plumbing they share:
// a registry that keeps them in race order and a decorator that puts the
// cache in front of every upstream call.
package source

import (
	"slices"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

// Registry holds the configured adapters in race order.
type Registry struct {
	fetchers []article.Fetcher
	bySource map[article.Source]article.Fetcher
}

// NewRegistry orders fetchers by source rank. A later fetcher for the same
// source replaces an earlier one.
func NewRegistry(fetchers ...article.Fetcher) *Registry {
	r := &Registry{bySource: make(map[article.Source]article.Fetcher, len(fetchers))}
	for _, f := range fetchers {
		if f == nil {
			continue
		}
		r.bySource[f.Source()] = f
	}
	for _, f := range r.bySource {
		r.fetchers = append(r.fetchers, f)
	}
	slices.SortFunc(r.fetchers, func(a, b article.Fetcher) int {
		return a.Source().Rank() - b.Source().Rank()
	})
	return r
}

// Get returns the fetcher registered for src.
func (r *Registry) Get(src article.Source) (article.Fetcher, bool) {
	f, ok := r.bySource[src]
	return f, ok
}

// Ordered returns every registered fetcher, fastest first.
func (r *Registry) Ordered() []article.Fetcher {
	return slices.Clone(r.fetchers)
}

// Sources lists the registered sources, fastest first.
func (r *Registry) Sources() []article.Source {
	out := make([]article.Source, 0, len(r.fetchers))
	for _, f := range r.fetchers {
		out = append(out, f.Source())
	}
	return out
}

// Except returns the registered fetchers whose source is not excluded.
func (r *Registry) Except(excluded ...article.Source) []article.Fetcher {
	out := make([]article.Fetcher, 0, len(r.fetchers))
	for _, f := range r.fetchers {
		if slices.Contains(excluded, f.Source()) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Len reports how many sources are registered.
func (r *Registry) Len() int { return len(r.fetchers) }
