// Package slots bounds the number of outbound retrievals running at once.
//
// A Limiter admits up to Max concurrent holders. Further callers wait in a
// FIFO queue ordered by Acquire call order; a released slot passes straight
// to the head of the queue. Waiting is bounded by a slot timeout, after which
// Acquire fails with *article.SlotTimeoutError and the caller leaves the
// queue. Timeouts are never retried here.
package slots

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/metrics"
)

const (
	// DefaultMaxConcurrent matches MAX_CONCURRENT_FETCHES when unset.
	DefaultMaxConcurrent = 20
	// DefaultSlotTimeout matches FETCH_SLOT_TIMEOUT_MS when unset.
	DefaultSlotTimeout = 30 * time.Second
)

// ErrBusy is returned by Configure while slots are held or awaited.
var ErrBusy = errors.New("limiter has active or queued slots")

// Options sizes a Limiter.
type Options struct {
	MaxConcurrent int
	SlotTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.SlotTimeout <= 0 {
		o.SlotTimeout = DefaultSlotTimeout
	}
	return o
}

// Stats is a point-in-time view of limiter occupancy.
type Stats struct {
	Active int `json:"active"`
	Queued int `json:"queued"`
	Max    int `json:"max"`
}

// Limiter is a process-wide admission gate for outbound retrievals.
type Limiter struct {
	logger *zap.Logger

	mu      sync.Mutex
	max     int
	timeout time.Duration
	active  int
	queue   *list.List // of *waiter, head first
}

// waiter is one queued Acquire. ready is closed when Release hands it a slot.
type waiter struct {
	ready   chan struct{}
	granted bool
}

// New creates a Limiter. Zero options fall back to the package defaults.
func New(opts Options, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Limiter{
		logger:  logger,
		max:     opts.MaxConcurrent,
		timeout: opts.SlotTimeout,
		queue:   list.New(),
	}
}

// Configure resizes the limiter. It is a startup-only operation: calling it
// while any slot is held or awaited returns ErrBusy and changes nothing.
func (l *Limiter) Configure(opts Options) error {
	opts = opts.withDefaults()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 || l.queue.Len() > 0 {
		return ErrBusy
	}
	l.max = opts.MaxConcurrent
	l.timeout = opts.SlotTimeout
	l.logger.Info("fetch limiter configured",
		zap.Int("max_concurrent", l.max),
		zap.Duration("slot_timeout", l.timeout),
	)
	return nil
}

// Acquire blocks until a slot is granted, the slot timeout elapses, or ctx
// ends. Every successful Acquire must be paired with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for fetch slot: %w", err)
	}
	l.mu.Lock()
	// A free slot is only taken directly when nobody is queued ahead.
	if l.active < l.max && l.queue.Len() == 0 {
		l.active++
		l.publishLocked()
		l.mu.Unlock()
		return nil
	}
	w := &waiter{ready: make(chan struct{})}
	elem := l.queue.PushBack(w)
	timeout := l.timeout
	l.publishLocked()
	l.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case <-w.ready:
		metrics.ObserveSlotWait(time.Since(start))
		return nil
	case <-timer.C:
	case <-ctx.Done():
		cause = ctx.Err()
	}
	waited := time.Since(start)
	metrics.ObserveSlotWait(waited)

	l.mu.Lock()
	if w.granted {
		// Release handed us the slot while we were giving up.
		if cause == nil {
			l.mu.Unlock()
			return nil
		}
		l.releaseLocked()
	} else {
		l.queue.Remove(elem)
		l.publishLocked()
	}
	l.mu.Unlock()

	if cause != nil {
		return fmt.Errorf("wait for fetch slot: %w", cause)
	}
	metrics.ObserveSlotTimeout()
	l.logger.Warn("fetch slot timeout", zap.Duration("waited", waited), zap.Duration("timeout", timeout))
	return &article.SlotTimeoutError{Waited: waited}
}

// Release returns a slot. If callers are queued, the head of the queue is
// granted the slot directly and the active count does not drop. Releasing
// more slots than were acquired panics.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active <= 0 {
		panic("slots: Release without matching Acquire")
	}
	l.releaseLocked()
}

func (l *Limiter) releaseLocked() {
	if head := l.queue.Front(); head != nil {
		w := l.queue.Remove(head).(*waiter)
		w.granted = true
		close(w.ready)
	} else {
		l.active--
	}
	l.publishLocked()
}

// Do runs fn while holding a slot. The slot is released when fn returns,
// including on error.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// Stats reports current occupancy without consuming a slot.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Active: l.active, Queued: l.queue.Len(), Max: l.max}
}

func (l *Limiter) publishLocked() {
	metrics.SetSlots(l.active, l.queue.Len())
}
