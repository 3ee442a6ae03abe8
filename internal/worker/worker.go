// Package worker runs the per-site crawl pipeline.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/credentials"
	"github.com/JakeFAU/site-health-crawler/internal/crawler"
	"github.com/JakeFAU/site-health-crawler/internal/metrics"
	"github.com/JakeFAU/site-health-crawler/internal/recorder"
	"github.com/JakeFAU/site-health-crawler/internal/retention"
)

// Failure stages reported to metrics.
const (
	StageEndpoint = "endpoint"
	StageDecrypt  = "decrypt"
	StageThrottle = "throttle"
	StageRecord   = "record"
	StagePrune    = "prune"
)

// Config controls Worker behavior.
type Config struct {
	HealthPath    string
	ArchivePrefix string
	ContentType   string
	Topic         string
}

// Option customizes a Worker.
type Option func(*Worker)

// WithArchive stores every 200 body under a digest-named object.
func WithArchive(store crawler.BlobStore, hasher crawler.Hasher) Option {
	return func(w *Worker) {
		w.blobStore = store
		w.hasher = hasher
	}
}

// RateLimiter delays a probe until its host may be contacted again.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// WithRateLimiter throttles probes per host.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(w *Worker) {
		w.limiter = limiter
	}
}

// WithPublisher emits a ResultEvent after each recorded result.
func WithPublisher(publisher crawler.Publisher) Option {
	return func(w *Worker) {
		w.publisher = publisher
	}
}

// Worker probes one site at a time and records the outcome.
type Worker struct {
	prober    crawler.Prober
	decrypter crawler.Decrypter
	recorder  *recorder.Recorder
	pruner    *retention.Pruner
	blobStore crawler.BlobStore
	hasher    crawler.Hasher
	publisher crawler.Publisher
	limiter   RateLimiter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	prober crawler.Prober,
	decrypter crawler.Decrypter,
	rec *recorder.Recorder,
	pruner *retention.Pruner,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = crawler.DefaultHealthPath
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	w := &Worker{
		prober:    prober,
		decrypter: decrypter,
		recorder:  rec,
		pruner:    pruner,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CrawlSite builds auth, probes the health endpoint, and records exactly one
// result. Archive and publish failures are logged and do not fail the call.
func (w *Worker) CrawlSite(ctx context.Context, store crawler.ResultStore, site crawler.Site) (crawler.CrawlResult, error) {
	logger := w.logger.With(zap.Int64("site_id", site.ID), zap.String("url", site.URL))

	endpoint, err := crawler.HealthEndpoint(site.URL, w.cfg.HealthPath)
	if err != nil {
		metrics.ObserveSiteFailure(StageEndpoint)
		return crawler.CrawlResult{}, fmt.Errorf("site %d: %w", site.ID, err)
	}

	headers, err := credentials.BasicAuthHeader(site, w.decrypter)
	if err != nil {
		metrics.ObserveSiteFailure(StageDecrypt)
		return crawler.CrawlResult{}, fmt.Errorf("site %d: %w", site.ID, err)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, endpoint); err != nil {
			metrics.ObserveSiteFailure(StageThrottle)
			return crawler.CrawlResult{}, fmt.Errorf("site %d: %w", site.ID, err)
		}
	}

	outcome := w.prober.Probe(ctx, endpoint, headers)
	metrics.ObserveProbe(outcome.Kind.String(), outcome.Elapsed)
	logger.Debug("probe finished",
		zap.String("outcome", outcome.Kind.String()),
		zap.Int("status", outcome.StatusCode),
		zap.Duration("elapsed", outcome.Elapsed),
	)

	result, err := w.recorder.Record(ctx, store, site, outcome)
	if err != nil {
		metrics.ObserveSiteFailure(StageRecord)
		return crawler.CrawlResult{}, fmt.Errorf("site %d: %w", site.ID, err)
	}

	archiveURI := w.archive(ctx, logger, site, outcome)
	w.publish(ctx, logger, site, result, archiveURI)
	return result, nil
}

// Prune applies the retention policy to one site.
func (w *Worker) Prune(ctx context.Context, store crawler.ResultStore, siteID int64) (int, error) {
	deleted, err := w.pruner.Prune(ctx, store, siteID)
	if err != nil {
		metrics.ObserveSiteFailure(StagePrune)
		return 0, err
	}
	return deleted, nil
}

func (w *Worker) archive(ctx context.Context, logger *zap.Logger, site crawler.Site, outcome crawler.ProbeOutcome) string {
	if w.blobStore == nil || w.hasher == nil {
		return ""
	}
	if outcome.Kind != crawler.OutcomeResponded || outcome.StatusCode != http.StatusOK || len(outcome.Body) == 0 {
		return ""
	}
	digest, err := w.hasher.Hash(outcome.Body)
	if err != nil {
		logger.Warn("hash health report failed", zap.Error(err))
		return ""
	}
	uri, err := w.blobStore.PutObject(ctx, w.archivePath(site.ID, digest), w.cfg.ContentType, bytes.NewReader(outcome.Body))
	if err != nil {
		logger.Warn("archive health report failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) archivePath(siteID int64, digest string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%d/%s.json", siteID, digest)
	}
	return fmt.Sprintf("%s/%d/%s.json", prefix, siteID, digest)
}

func (w *Worker) publish(
	ctx context.Context,
	logger *zap.Logger,
	site crawler.Site,
	result crawler.CrawlResult,
	archiveURI string,
) {
	if w.publisher == nil {
		return
	}
	event := crawler.ResultEvent{
		ResultID:       result.ID,
		SiteID:         site.ID,
		SiteURL:        site.URL,
		Classification: result.Classify(),
		StatusCode:     result.StatusCode,
		ResponseTimeMS: result.ResponseTimeMS,
		Timestamp:      result.Timestamp,
		ArchiveURI:     archiveURI,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		logger.Warn("publish result event failed", zap.Error(err))
	}
}
