// Package recorder turns probe outcomes into persisted crawl results.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
	"github.com/JakeFAU/site-health-crawler/internal/metrics"
)

// Recorder classifies outcomes and writes exactly one result per call.
type Recorder struct {
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs a Recorder.
func New(clock crawler.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{clock: clock, logger: logger}
}

// Classify builds the result row for an outcome. The returned error explains
// why a 200 response carried no details (decode failure or
// *crawler.MissingFieldsError); it is informational and the row is valid
// either way.
func Classify(siteID int64, outcome crawler.ProbeOutcome, now time.Time) (crawler.CrawlResult, error) {
	result := crawler.CrawlResult{
		SiteID:    siteID,
		Timestamp: now.UTC(),
	}
	if outcome.Kind != crawler.OutcomeResponded {
		return result, nil
	}

	status := outcome.StatusCode
	elapsed := outcome.ElapsedMS()
	result.StatusCode = &status
	result.ResponseTimeMS = &elapsed
	if status != http.StatusOK {
		return result, nil
	}

	report, err := crawler.ParseHealthReport(outcome.Body)
	if err != nil {
		return result, err
	}
	report.Apply(&result)
	return result, nil
}

// Record classifies outcome for site and inserts the row. The timestamp is
// taken now, at record time.
func (r *Recorder) Record(
	ctx context.Context,
	store crawler.ResultStore,
	site crawler.Site,
	outcome crawler.ProbeOutcome,
) (crawler.CrawlResult, error) {
	result, detailErr := Classify(site.ID, outcome, r.clock.Now())
	if detailErr != nil {
		var missing *crawler.MissingFieldsError
		if errors.As(detailErr, &missing) {
			r.logger.Debug("health report incomplete",
				zap.Int64("site_id", site.ID),
				zap.Strings("missing_fields", missing.Fields),
			)
		} else {
			r.logger.Debug("health report malformed", zap.Int64("site_id", site.ID), zap.Error(detailErr))
		}
	}
	if outcome.Kind == crawler.OutcomeTransportFailed {
		r.logger.Warn("site unreachable",
			zap.Int64("site_id", site.ID),
			zap.String("url", site.URL),
			zap.String("reason", outcome.Description),
		)
	}

	stored, err := store.InsertResult(ctx, result)
	if err != nil {
		return crawler.CrawlResult{}, fmt.Errorf("insert crawl result: %w", err)
	}
	metrics.ObserveResult(string(stored.Classify()))
	return stored, nil
}
