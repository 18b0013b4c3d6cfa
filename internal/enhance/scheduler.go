package enhance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

const (
	// DefaultDelay is how long after a response the background check starts.
	DefaultDelay = 4 * time.Second
	// DefaultDedupeTTL is how long a URL stays marked as checked.
	DefaultDedupeTTL = 10 * time.Minute
)

type checker interface {
	Check(ctx context.Context, rawURL string, currentLength int, exclude []article.Source) Result
}

// SchedulerConfig tunes the Scheduler.
type SchedulerConfig struct {
	Delay     time.Duration
	DedupeTTL time.Duration
}

// Scheduler runs one deferred check per URL per TTL window, warming the
// cache so a later enhancement request is answered from it.
type Scheduler struct {
	checker checker
	cfg     SchedulerConfig
	logger  *zap.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	checked map[string]time.Time
	timers  map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(c checker, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultDedupeTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		checker: c,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		checked: make(map[string]time.Time),
		timers:  make(map[string]*time.Timer),
	}
}

// Schedule queues a check of rawURL unless one ran or is pending within the
// TTL window.
func (s *Scheduler) Schedule(rawURL string, currentLength int, exclude []article.Source) {
	url, err := article.NormalizeURL(rawURL)
	if err != nil {
		return
	}
	exclude = append([]article.Source(nil), exclude...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := s.now()
	s.pruneLocked(now)
	if _, ok := s.checked[url]; ok {
		return
	}
	s.checked[url] = now

	s.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(s.cfg.Delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		if s.timers[url] == timer {
			delete(s.timers, url)
		}
		s.mu.Unlock()

		res := s.checker.Check(s.ctx, url, currentLength, exclude)
		s.logger.Debug("scheduled enhancement check done",
			zap.String("url", url),
			zap.Bool("enhanced", res.Enhanced),
		)
	})
	s.timers[url] = timer
}

// Pending reports how many checks are waiting for their timer.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close drops pending checks and waits for running ones to return. Source
// calls already started keep running in the background.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for url, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, url)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) pruneLocked(now time.Time) {
	for url, at := range s.checked {
		if now.Sub(at) >= s.cfg.DedupeTTL {
			delete(s.checked, url)
		}
	}
}
