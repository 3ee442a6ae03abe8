package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(store *fakeStore, siteID int64, n int) {
	for i := 0; i < n; i++ {
		store.add(crawler.CrawlResult{SiteID: siteID, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
}

func TestNewRejectsNonPositiveKeep(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	require.Error(t, err)
	p, err := New(DefaultKeep)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Keep())
}

func TestPruneKeepsMostRecent(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ keep, n int }{{1, 0}, {1, 1}, {1, 4}, {3, 3}, {3, 10}, {5, 9}, {7, 2}} {
		store := newFakeStore()
		seed(store, 1, tc.n)
		p, err := New(tc.keep)
		require.NoError(t, err)

		_, err = p.Prune(context.Background(), store, 1)
		require.NoError(t, err)

		left := store.rows(1)
		want := min(tc.n, tc.keep)
		require.Len(t, left, want, "keep=%d n=%d", tc.keep, tc.n)
		for i, r := range left {
			assert.Equal(t, base.Add(time.Duration(tc.n-1-i)*time.Minute), r.Timestamp)
		}
	}
}

func TestPruneNineRowsLeavesFiveIncludingNewest(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seed(store, 1, 8)
	newest := store.add(crawler.CrawlResult{SiteID: 1, Timestamp: base.Add(time.Hour)})

	p, err := New(5)
	require.NoError(t, err)
	deleted, err := p.Prune(context.Background(), store, 1)
	require.NoError(t, err)

	assert.Equal(t, 4, deleted)
	left := store.rows(1)
	require.Len(t, left, 5)
	assert.Equal(t, newest.ID, left[0].ID)
	assert.Equal(t, 1, store.deleteCalls, "surplus must be removed in one delete")
}

func TestPruneIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seed(store, 1, 12)
	p, err := New(5)
	require.NoError(t, err)

	first, err := p.Prune(context.Background(), store, 1)
	require.NoError(t, err)
	snapshot := store.rows(1)

	second, err := p.Prune(context.Background(), store, 1)
	require.NoError(t, err)

	assert.Equal(t, 7, first)
	assert.Zero(t, second)
	assert.Equal(t, snapshot, store.rows(1))
	assert.Equal(t, 1, store.deleteCalls, "no delete issued when nothing is over budget")
}

func TestPruneOnlyTouchesOneSite(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	seed(store, 1, 8)
	seed(store, 2, 8)
	p, err := New(5)
	require.NoError(t, err)

	_, err = p.Prune(context.Background(), store, 1)
	require.NoError(t, err)
	assert.Len(t, store.rows(1), 5)
	assert.Len(t, store.rows(2), 8)
}

func TestSurplusTieBreaksOnInsertOrder(t *testing.T) {
	t.Parallel()

	same := base
	results := []crawler.CrawlResult{
		{ID: 1, Timestamp: same},
		{ID: 2, Timestamp: same},
		{ID: 3, Timestamp: same},
		{ID: 4, Timestamp: base.Add(-time.Minute)},
	}
	assert.Equal(t, []int64{1, 4}, Surplus(results, 2))
	assert.Equal(t, []int64{4}, Surplus(results, 3))
	assert.Nil(t, Surplus(results, 4))
}

func TestPruneErrors(t *testing.T) {
	t.Parallel()

	p, err := New(1)
	require.NoError(t, err)

	listFail := newFakeStore()
	listFail.listErr = errors.New("conn reset")
	_, err = p.Prune(context.Background(), listFail, 1)
	require.ErrorContains(t, err, "conn reset")

	deleteFail := newFakeStore()
	seed(deleteFail, 1, 3)
	deleteFail.deleteErr = errors.New("locked")
	_, err = p.Prune(context.Background(), deleteFail, 1)
	require.ErrorContains(t, err, "locked")
	assert.Len(t, deleteFail.rows(1), 3)
}

type fakeStore struct {
	nextID      int64
	data        []crawler.CrawlResult
	listErr     error
	deleteErr   error
	deleteCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (s *fakeStore) add(r crawler.CrawlResult) crawler.CrawlResult {
	s.nextID++
	r.ID = s.nextID
	s.data = append(s.data, r)
	return r
}

// rows returns a site's rows newest first, the order ListResults promises.
func (s *fakeStore) rows(siteID int64) []crawler.CrawlResult {
	var out []crawler.CrawlResult
	for i := len(s.data) - 1; i >= 0; i-- {
		if s.data[i].SiteID == siteID {
			out = append(out, s.data[i])
		}
	}
	return out
}

func (s *fakeStore) InsertResult(_ context.Context, r crawler.CrawlResult) (crawler.CrawlResult, error) {
	return s.add(r), nil
}

// ListResults deliberately returns insertion order to prove Prune sorts.
func (s *fakeStore) ListResults(_ context.Context, siteID int64) ([]crawler.CrawlResult, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []crawler.CrawlResult
	for _, r := range s.data {
		if r.SiteID == siteID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) LatestResult(context.Context, int64) (crawler.CrawlResult, error) {
	return crawler.CrawlResult{}, crawler.ErrNoResults
}

func (s *fakeStore) DeleteResults(_ context.Context, ids []int64) (int64, error) {
	s.deleteCalls++
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.data[:0]
	var n int64
	for _, r := range s.data {
		if drop[r.ID] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.data = kept
	return n, nil
}
