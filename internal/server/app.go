// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/JakeFAU/fulltext-fetcher/internal/api"
	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/cache"
	gcscache "github.com/JakeFAU/fulltext-fetcher/internal/cache/gcs"
	memorycache "github.com/JakeFAU/fulltext-fetcher/internal/cache/memory"
	"github.com/JakeFAU/fulltext-fetcher/internal/cache/natskv"
	"github.com/JakeFAU/fulltext-fetcher/internal/clock/system"
	"github.com/JakeFAU/fulltext-fetcher/internal/config"
	"github.com/JakeFAU/fulltext-fetcher/internal/enhance"
	"github.com/JakeFAU/fulltext-fetcher/internal/events"
	"github.com/JakeFAU/fulltext-fetcher/internal/events/natspub"
	"github.com/JakeFAU/fulltext-fetcher/internal/id/uuid"
	"github.com/JakeFAU/fulltext-fetcher/internal/index"
	indexmemory "github.com/JakeFAU/fulltext-fetcher/internal/index/memory"
	pgindex "github.com/JakeFAU/fulltext-fetcher/internal/index/postgres"
	"github.com/JakeFAU/fulltext-fetcher/internal/logging"
	"github.com/JakeFAU/fulltext-fetcher/internal/metrics"
	"github.com/JakeFAU/fulltext-fetcher/internal/policy/ratelimit"
	"github.com/JakeFAU/fulltext-fetcher/internal/race"
	"github.com/JakeFAU/fulltext-fetcher/internal/slots"
	"github.com/JakeFAU/fulltext-fetcher/internal/source"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/archive"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/direct"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/extraction"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/httpclient"
	"github.com/JakeFAU/fulltext-fetcher/internal/source/prerender"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	limiter      *slots.Limiter
	orchestrator *race.Orchestrator
	scheduler    *enhance.Scheduler
	store        *cache.Store
	natsConn     *nats.Conn
	storage      *storage.Client
	pgIndex      *pgindex.Store
	renderer     *prerender.ChromedpRenderer
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Articles returns the race orchestrator.
func (a *App) Articles() api.Articles {
	return a.orchestrator
}

// Build creates the application's dependencies. On error, everything built
// so far has already been released.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Int("max_concurrent_fetches", cfg.Fetch.MaxConcurrent),
	)

	kv, err := setupCacheBackend(ctx, app)
	if err != nil {
		return nil, err
	}
	idx, err := setupIndex(ctx, app)
	if err != nil {
		return nil, err
	}
	observers := []cache.Observer{index.NewRecorder(idx, system.New(), logger.Named("index"))}
	announcer, err := setupEvents(app)
	if err != nil {
		return nil, err
	}
	if announcer != nil {
		observers = append(observers, announcer)
	}

	codec, err := cache.NewCodec(cfg.Cache.Compression)
	if err != nil {
		return nil, fmt.Errorf("cache codec init failed: %w", err)
	}
	app.store = cache.NewStore(kv, codec, logger.Named("cache"), cache.WithObserver(observers...))

	registry, err := setupSources(app)
	if err != nil {
		return nil, err
	}

	app.limiter = slots.New(slots.Options{
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		SlotTimeout:   cfg.SlotTimeout(),
	}, logger.Named("slots"))

	checker := enhance.NewChecker(registry, app.limiter, logger.Named("enhance"))
	app.scheduler = enhance.NewScheduler(checker, enhance.SchedulerConfig{
		Delay:     cfg.EnhanceDelay(),
		DedupeTTL: cfg.DedupeTTL(),
	}, logger.Named("scheduler"))

	tiers, err := cfg.RaceTiers()
	if err != nil {
		return nil, err
	}
	app.orchestrator = race.New(registry, app.limiter, race.Config{
		MinLength:      cfg.Race.MinLength,
		CompleteLength: cfg.Race.CompleteLength,
		Tiers:          tiers,
	}, logger.Named("race"), race.WithScheduler(app.scheduler))

	app.apiServer = api.NewServer(api.Deps{
		Articles: app.orchestrator,
		Enhancer: checker,
		Slots:    app.limiter,
		Index:    idx,
		Ready:    app.ready,
	}, cfg, logger.Named("api"))

	return app, nil
}

// Run serves the API and blocks until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close stops background work, flushes pending cache writes, and releases
// connections. Outstanding retrievals are not awaited.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Close()
	}
	if a.store != nil {
		if err := a.store.Flush(ctx); err != nil {
			a.logger.Warn("cache flush incomplete", zap.Error(err))
		}
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("nats drain failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgIndex != nil {
		a.pgIndex.Close()
	}
}

func (a *App) ready(context.Context) error {
	if a.natsConn != nil && !a.natsConn.IsConnected() {
		return fmt.Errorf("nats connection is %s", a.natsConn.Status())
	}
	return nil
}

func (a *App) connectNATS() (*nats.Conn, error) {
	if a.natsConn != nil {
		return a.natsConn, nil
	}
	logger := a.logger.Named("nats")
	nc, err := nats.Connect(a.cfg.Cache.NATS.URL,
		nats.Name("fulltext-fetcher"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect failed: %w", err)
	}
	a.natsConn = nc
	return nc, nil
}

func setupCacheBackend(ctx context.Context, app *App) (cache.KV, error) {
	cfg := app.cfg.Cache
	switch cfg.Backend {
	case config.CacheNATS:
		nc, err := app.connectNATS()
		if err != nil {
			return nil, err
		}
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("jetstream init failed: %w", err)
		}
		kv, err := natskv.Open(ctx, js, natskv.Config{Bucket: cfg.NATS.Bucket, TTL: app.cfg.CacheTTL()})
		if err != nil {
			return nil, fmt.Errorf("nats cache init failed: %w", err)
		}
		app.logger.Info("using NATS key-value cache", zap.String("bucket", cfg.NATS.Bucket))
		return kv, nil
	case config.CacheGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		kv, err := gcscache.New(client, gcscache.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs cache init failed: %w", err)
		}
		app.logger.Info("using GCS cache", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
		return kv, nil
	default:
		app.logger.Info("using in-memory cache")
		return memorycache.New(), nil
	}
}

func setupIndex(ctx context.Context, app *App) (index.Index, error) {
	cfg := app.cfg.Index
	if cfg.DSN == "" {
		app.logger.Warn("no index DSN configured, keeping article metadata in memory")
		return indexmemory.New(), nil
	}
	store, err := pgindex.New(ctx, pgindex.Config{
		DSN:      cfg.DSN,
		Table:    cfg.Table,
		MaxConns: int32(cfg.MaxConns), //nolint:gosec // validated small
	})
	if err != nil {
		return nil, fmt.Errorf("index init failed: %w", err)
	}
	app.pgIndex = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("index schema init failed: %w", err)
	}
	app.logger.Info("postgres index initialized", zap.String("table", cfg.Table))
	return store, nil
}

func setupEvents(app *App) (*events.Announcer, error) {
	subject := app.cfg.Events.NATSSubject
	if subject == "" {
		app.logger.Info("improvement events disabled")
		return nil, nil
	}
	nc, err := app.connectNATS()
	if err != nil {
		return nil, err
	}
	app.logger.Info("publishing improvement events", zap.String("subject", subject))
	return events.NewAnnouncer(natspub.New(nc, subject), uuid.New(), system.New(), app.logger.Named("events")), nil
}

func setupSources(app *App) (*source.Registry, error) {
	cfg := app.cfg.Sources
	timeout := app.cfg.UpstreamTimeout()
	client := httpclient.New(httpclient.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   timeout,
		RetryMax:  cfg.MaxRetries,
	}, app.logger.Named("http"))

	var fetchers []article.Fetcher
	for _, st := range SourceStatuses(app.cfg) {
		if !st.Usable() {
			app.logger.Info("source skipped", zap.Stringer("source", st.Source), zap.String("reason", st.Reason))
			continue
		}
		var f article.Fetcher
		switch st.Source {
		case article.SourceDirect:
			pacer := ratelimit.New(ratelimit.Config{
				PerHostRPS:   cfg.Direct.PerHostRPS,
				PerHostBurst: cfg.Direct.PerHostBurst,
			})
			f = direct.New(direct.Config{
				UserAgent:     cfg.UserAgent,
				RespectRobots: cfg.Direct.RespectRobots,
				Timeout:       timeout,
			}, pacer, app.logger.Named("direct"))
		case article.SourcePrerendered:
			renderer, err := setupRenderer(app, client)
			if err != nil {
				return nil, err
			}
			f = prerender.New(renderer)
		case article.SourceArchive:
			f = archive.New(client, cfg.Archive.BaseURL)
		case article.SourceExtraction:
			f = extraction.New(client, extraction.Config{
				Endpoint: cfg.Extraction.Endpoint,
				Token:    cfg.Extraction.Token,
			})
		default:
			continue
		}
		fetchers = append(fetchers, source.NewCached(f, app.store, timeout, app.logger.Named("source")))
		app.logger.Info("source registered", zap.Stringer("source", st.Source))
	}

	registry := source.NewRegistry(fetchers...)
	if registry.Len() == 0 {
		return nil, errors.New("no usable sources: check sources.enabled and credentials")
	}
	return registry, nil
}

func setupRenderer(app *App, client *httpclient.Client) (prerender.Renderer, error) {
	cfg := app.cfg.Sources.Prerender
	if cfg.Mode != config.PrerenderChromedp {
		return prerender.NewRemoteRenderer(client, cfg.Endpoint, cfg.Token), nil
	}
	renderer, err := prerender.NewChromedpRenderer(prerender.ChromedpConfig{
		MaxParallel:       cfg.MaxParallel,
		UserAgent:         app.cfg.Sources.UserAgent,
		NavigationTimeout: app.cfg.NavTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("chromedp renderer init failed: %w", err)
	}
	app.renderer = renderer
	app.logger.Info("using headless renderer", zap.Int("max_parallel", cfg.MaxParallel))
	return renderer, nil
}
