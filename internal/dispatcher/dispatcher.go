// Package dispatcher runs crawl cycles over every registered site.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
	"github.com/JakeFAU/site-health-crawler/internal/metrics"
	"github.com/JakeFAU/site-health-crawler/internal/worker"
)

// Cycle outcomes reported to metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// Config controls cycle fan-out.
type Config struct {
	// Concurrency is the number of sites crawled in parallel. Values below
	// one mean sequential.
	Concurrency int
}

// CycleReport summarises one pass over the registry.
type CycleReport struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Sites     int
	Recorded  int
	Failed    int
	Pruned    int
}

// Dispatcher fans sites out to the worker and applies retention.
type Dispatcher struct {
	store  crawler.Store
	worker *worker.Worker
	ids    crawler.IDGenerator
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(
	store crawler.Store,
	w *worker.Worker,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{
		store:  store,
		worker: w,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

type siteOutcome struct {
	recorded bool
	pruned   int
}

// RunCycle crawls every registered site once. Per-site failures are logged
// and counted; the only error returned is failure to load the site list.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{StartedAt: d.clock.Now()}
	if id, err := d.ids.NewID(); err == nil {
		report.CycleID = id
	} else {
		d.logger.Warn("generate cycle id failed", zap.Error(err))
	}
	logger := d.logger.With(zap.String("cycle_id", report.CycleID))

	sites, err := d.loadSites(ctx)
	if err != nil {
		report.Duration = time.Since(start)
		metrics.ObserveCycle(OutcomeFailed, report.Duration)
		logger.Error("load sites failed", zap.Error(err))
		return report, err
	}
	report.Sites = len(sites)
	if len(sites) == 0 {
		report.Duration = time.Since(start)
		metrics.ObserveCycle(OutcomeEmpty, report.Duration)
		logger.Info("no sites registered")
		return report, nil
	}
	logger.Info("crawl cycle started", zap.Int("sites", len(sites)), zap.Int("concurrency", d.cfg.Concurrency))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	jobs := make(chan crawler.Site)
	workers := min(d.cfg.Concurrency, len(sites))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for site := range jobs {
				out := d.crawlSite(ctx, logger, site)
				mu.Lock()
				if out.recorded {
					report.Recorded++
				} else {
					report.Failed++
				}
				report.Pruned += out.pruned
				mu.Unlock()
			}
		}()
	}

feed:
	for _, site := range sites {
		select {
		case jobs <- site:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	report.Duration = time.Since(start)
	metrics.ObserveCycle(OutcomeCompleted, report.Duration)
	logger.Info("crawl cycle finished",
		zap.Int("sites", report.Sites),
		zap.Int("recorded", report.Recorded),
		zap.Int("failed", report.Failed),
		zap.Int("pruned", report.Pruned),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// CrawlSingleSite loads a site by ID and crawls it. Retention is left to the
// caller; see PruneSite.
func (d *Dispatcher) CrawlSingleSite(ctx context.Context, siteID int64) (crawler.CrawlResult, error) {
	sess, err := d.store.Acquire(ctx)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("acquire session: %w", err)
	}
	defer sess.Release()

	site, err := sess.GetSite(ctx, siteID)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("load site %d: %w", siteID, err)
	}
	return d.worker.CrawlSite(ctx, sess, site)
}

// PruneSite applies retention to one site and returns the rows removed.
func (d *Dispatcher) PruneSite(ctx context.Context, siteID int64) (int, error) {
	sess, err := d.store.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire session: %w", err)
	}
	defer sess.Release()
	return d.worker.Prune(ctx, sess, siteID)
}

// CrawlAndPrune crawls site and applies retention. A prune failure is
// logged and does not fail the call.
func (d *Dispatcher) CrawlAndPrune(ctx context.Context, site crawler.Site) (crawler.CrawlResult, error) {
	sess, err := d.store.Acquire(ctx)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("acquire session: %w", err)
	}
	defer sess.Release()
	return d.crawlAndPrune(ctx, sess, site)
}

func (d *Dispatcher) crawlAndPrune(ctx context.Context, sess crawler.Session, site crawler.Site) (crawler.CrawlResult, error) {
	result, err := d.worker.CrawlSite(ctx, sess, site)
	if err != nil {
		return crawler.CrawlResult{}, err
	}
	if _, err := d.worker.Prune(ctx, sess, site.ID); err != nil {
		d.logger.Warn("prune failed", zap.Int64("site_id", site.ID), zap.Error(err))
	}
	return result, nil
}

func (d *Dispatcher) loadSites(ctx context.Context) ([]crawler.Site, error) {
	sess, err := d.store.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	defer sess.Release()

	sites, err := sess.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	return sites, nil
}

func (d *Dispatcher) crawlSite(ctx context.Context, logger *zap.Logger, site crawler.Site) siteOutcome {
	logger = logger.With(zap.Int64("site_id", site.ID), zap.String("url", site.URL))

	sess, err := d.store.Acquire(ctx)
	if err != nil {
		logger.Error("acquire session failed", zap.Error(err))
		return siteOutcome{}
	}
	defer sess.Release()

	if _, err := d.worker.CrawlSite(ctx, sess, site); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("site crawl canceled")
		} else {
			logger.Error("site crawl failed", zap.Error(err))
		}
		return siteOutcome{}
	}

	pruned, err := d.worker.Prune(ctx, sess, site.ID)
	if err != nil {
		logger.Warn("prune failed", zap.Error(err))
		return siteOutcome{recorded: true}
	}
	return siteOutcome{recorded: true, pruned: pruned}
}
