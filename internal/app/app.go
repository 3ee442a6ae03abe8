// Package app builds the service's dependency graph from configuration and
// owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/api"
	"github.com/JakeFAU/site-health-crawler/internal/clock/system"
	"github.com/JakeFAU/site-health-crawler/internal/config"
	"github.com/JakeFAU/site-health-crawler/internal/crawler"
	"github.com/JakeFAU/site-health-crawler/internal/credentials"
	"github.com/JakeFAU/site-health-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/site-health-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/site-health-crawler/internal/hash/sha256"
	"github.com/JakeFAU/site-health-crawler/internal/id/uuid"
	"github.com/JakeFAU/site-health-crawler/internal/logging"
	"github.com/JakeFAU/site-health-crawler/internal/metrics"
	"github.com/JakeFAU/site-health-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/site-health-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-health-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/site-health-crawler/internal/recorder"
	"github.com/JakeFAU/site-health-crawler/internal/retention"
	"github.com/JakeFAU/site-health-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/site-health-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-health-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-health-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/site-health-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/site-health-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/site-health-crawler/internal/worker"
)

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	syncLogger func() error
	store      crawler.Store
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server
	scheduler  *scheduler.Scheduler
	closers    []closer
}

// Build creates the application's dependencies. On error, everything built
// so far is closed.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, syncLogger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger, syncLogger)
}

// BuildWithLogger is Build with a caller supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger, syncLogger func() error) (*App, error) {
	if syncLogger == nil {
		syncLogger = logger.Sync
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger, syncLogger: syncLogger}
	if err := a.build(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies",
		zap.String("db_driver", a.cfg.DB.Driver),
		zap.String("archive_provider", a.cfg.Archive.Provider),
		zap.Bool("pubsub_enabled", a.cfg.PubSub.Enabled),
		zap.Duration("interval", a.cfg.Crawl.Interval),
		zap.Int("retention", a.cfg.Crawl.Retention),
		zap.Int("concurrency", a.cfg.Crawl.Concurrency),
	)

	var err error
	a.store, err = a.setupStore(ctx)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closer{name: "store", fn: a.store.Close})

	encryptor, err := credentials.NewEncryptorFromSecret(a.cfg.Credentials.Secret)
	if err != nil {
		return fmt.Errorf("credentials init failed: %w", err)
	}

	var opts []worker.Option
	archive, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	if archive != nil {
		opts = append(opts, worker.WithArchive(archive, sha256.New()))
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if publisher != nil {
		opts = append(opts, worker.WithPublisher(publisher))
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS: a.cfg.Crawl.PerHostRPS,
		Burst:      a.cfg.Crawl.PerHostBurst,
	})
	if limiter.Enabled() {
		opts = append(opts, worker.WithRateLimiter(limiter))
		a.logger.Info("per-host probe rate limit enabled", zap.Float64("rps", a.cfg.Crawl.PerHostRPS))
	}

	pruner, err := retention.New(a.cfg.Crawl.Retention)
	if err != nil {
		return fmt.Errorf("retention init failed: %w", err)
	}
	clock := system.New()
	prober := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Crawl.UserAgent,
		Timeout:      a.cfg.Crawl.ProbeTimeout,
		MaxBodyBytes: a.cfg.Crawl.MaxBodyBytes,
	})
	a.logger.Info("using colly prober",
		zap.String("user_agent", a.cfg.Crawl.UserAgent),
		zap.Duration("timeout", a.cfg.Crawl.ProbeTimeout),
	)

	w := worker.New(
		prober,
		encryptor,
		recorder.New(clock, a.logger.Named("recorder")),
		pruner,
		worker.Config{
			HealthPath:    a.cfg.Crawl.HealthPath,
			ArchivePrefix: a.cfg.Archive.Prefix,
			Topic:         a.cfg.PubSub.Topic,
		},
		a.logger.Named("worker"),
		opts...,
	)
	a.dispatch = dispatcher.New(
		a.store,
		w,
		uuid.New(),
		clock,
		dispatcher.Config{Concurrency: a.cfg.Crawl.Concurrency},
		a.logger.Named("dispatcher"),
	)

	a.apiServer = api.NewServer(a.store, a.dispatch, encryptor, api.Options{
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, a.logger)

	a.scheduler, err = scheduler.New(a.cfg.Crawl.Interval, a.runCycleJob, a.logger.Named("scheduler"),
		scheduler.WithRunOnStart(a.cfg.Crawl.RunOnStart))
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) (crawler.Store, error) {
	switch a.cfg.DB.Driver {
	case config.DriverPostgres:
		a.logger.Info("using postgres store")
		store, err := pgstore.NewStore(ctx, pgstore.StoreConfig{
			DSN:      a.cfg.DB.DSN,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		a.logger.Info("using sqlite store", zap.String("dsn", a.cfg.DB.DSN))
		store, err := sqlitestore.New(ctx, a.cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Warn("using in-memory store; sites and results are lost on exit")
		return memorystorage.NewStore(), nil
	}
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case config.ArchiveGCS:
		store, err := gcsstorage.New(ctx, gcsstorage.Config{
			Bucket:          a.cfg.Archive.GCSBucket,
			CredentialsFile: a.cfg.Archive.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.closers = append(a.closers, closer{name: "gcs", fn: store.Close})
		a.logger.Info("archiving reports to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return store, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving reports locally", zap.String("path", store.BaseDir()))
		return store, nil
	case config.ArchiveMemory:
		a.logger.Info("archiving reports in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		return nil, nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("pubsub enabled without project_id, using in-memory publisher")
		pub := memorypublisher.New()
		a.closers = append(a.closers, closer{name: "publisher", fn: pub.Close})
		return pub, nil
	}
	pub, err := gcppublisher.New(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		Topic:     a.cfg.PubSub.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.closers = append(a.closers, closer{name: "pubsub", fn: pub.Close})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return pub, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunCycle crawls every registered site once.
func (a *App) RunCycle(ctx context.Context) (dispatcher.CycleReport, error) {
	report, err := a.dispatch.RunCycle(ctx)
	if err != nil {
		return report, fmt.Errorf("run cycle: %w", err)
	}
	return report, nil
}

// CrawlSite crawls one site by ID, then applies retention. A prune failure
// is logged and does not fail the call.
func (a *App) CrawlSite(ctx context.Context, siteID int64) (crawler.CrawlResult, error) {
	result, err := a.dispatch.CrawlSingleSite(ctx, siteID)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("crawl site %d: %w", siteID, err)
	}
	if _, err := a.dispatch.PruneSite(ctx, siteID); err != nil {
		a.logger.Warn("prune failed", zap.Int64("site_id", siteID), zap.Error(err))
	}
	return result, nil
}

func (a *App) runCycleJob(ctx context.Context) error {
	_, err := a.RunCycle(ctx)
	return err
}

// Run starts the scheduler and HTTP server and blocks until ctx is canceled
// or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("in-flight cycle abandoned at shutdown", zap.Error(err))
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases infrastructure and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	if err := a.syncLogger(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
