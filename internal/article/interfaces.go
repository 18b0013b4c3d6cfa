package article

import (
	"context"
	"time"
)

// Fetcher retrieves one article for a URL from a single source.
type Fetcher interface {
	Source() Source
	Fetch(ctx context.Context, url string, opts FetchOptions) (*Article, error)
}

// FetchOptions tunes a single source call.
type FetchOptions struct {
	// BypassCache skips the cache read; the result is still written back.
	BypassCache bool
}

// Cache is the best-known-article store consulted by sources.
type Cache interface {
	Get(ctx context.Context, key string) (*Article, bool)
	Put(ctx context.Context, key string, a *Article) *Article
}

// Improvement describes a cache entry that grew.
type Improvement struct {
	ID             string    `json:"id"`
	Key            string    `json:"key"`
	Source         Source    `json:"source"`
	URL            string    `json:"url"`
	PreviousLength int       `json:"previousLength"`
	Length         int       `json:"length"`
	At             time.Time `json:"at"`
}

// Publisher announces cache improvements to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Improvement) error
}

// Hasher computes digests for storage keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
