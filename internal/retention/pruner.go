// Package retention bounds per-site crawl history.
package retention

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
	"github.com/JakeFAU/site-health-crawler/internal/metrics"
)

// DefaultKeep is the number of results retained per site.
const DefaultKeep = 5

// Pruner keeps the most recent results per site and deletes the rest.
type Pruner struct {
	keep int
}

// New constructs a Pruner keeping keep rows per site.
func New(keep int) (*Pruner, error) {
	if keep < 1 {
		return nil, fmt.Errorf("retention count must be >= 1, got %d", keep)
	}
	return &Pruner{keep: keep}, nil
}

// Keep returns the configured retention count.
func (p *Pruner) Keep() int {
	return p.keep
}

// Prune deletes every result for siteID ranked below the newest Keep rows
// and returns how many were removed. Ranking is timestamp descending with
// the higher ID winning ties, so the earliest insert among equal timestamps
// goes first. All surplus rows are removed in one delete.
func (p *Pruner) Prune(ctx context.Context, store crawler.ResultStore, siteID int64) (int, error) {
	results, err := store.ListResults(ctx, siteID)
	if err != nil {
		return 0, fmt.Errorf("list results for site %d: %w", siteID, err)
	}
	surplus := Surplus(results, p.keep)
	if len(surplus) == 0 {
		return 0, nil
	}
	deleted, err := store.DeleteResults(ctx, surplus)
	if err != nil {
		return 0, fmt.Errorf("delete %d results for site %d: %w", len(surplus), siteID, err)
	}
	metrics.ObservePruned(int(deleted))
	return int(deleted), nil
}

// Surplus returns the IDs of rows outside the newest keep.
func Surplus(results []crawler.CrawlResult, keep int) []int64 {
	if len(results) <= keep {
		return nil
	}
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, newestFirst)
	ids := make([]int64, 0, len(ordered)-keep)
	for _, r := range ordered[keep:] {
		ids = append(ids, r.ID)
	}
	return ids
}

func newestFirst(a, b crawler.CrawlResult) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}
