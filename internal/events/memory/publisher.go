// Package memory keeps published events in memory for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []article.Improvement
	err    error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event, or returns the error set by Fail.
func (p *Publisher) Publish(_ context.Context, event article.Improvement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// Fail makes subsequent publishes return err. A nil err restores success.
func (p *Publisher) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (p *Publisher) Events() []article.Improvement {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]article.Improvement, len(p.events))
	copy(out, p.events)
	return out
}
