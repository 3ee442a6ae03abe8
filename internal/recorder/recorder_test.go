package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

var fullBody = []byte(`{"wp_version":"6.4","health_rating":95,"updates_available":2}`)

func TestClassify_TransportFailed(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	result, err := Classify(7, crawler.TransportFailed("dial tcp: i/o timeout", 10*time.Second), now)
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.SiteID)
	assert.Equal(t, now, result.Timestamp)
	assert.Nil(t, result.StatusCode)
	assert.Nil(t, result.ResponseTimeMS)
	assert.False(t, result.HasDetails())
	assert.Nil(t, result.Multisite)
}

func TestClassify_NonOKStatus(t *testing.T) {
	t.Parallel()

	result, err := Classify(1, crawler.Responded(503, 120*time.Millisecond, fullBody), time.Now())
	require.NoError(t, err)

	require.NotNil(t, result.StatusCode)
	assert.Equal(t, 503, *result.StatusCode)
	assert.Equal(t, int64(120), *result.ResponseTimeMS)
	assert.False(t, result.HasDetails(), "details are only read from 200 responses")
}

func TestClassify_HealthyBody(t *testing.T) {
	t.Parallel()

	result, err := Classify(1, crawler.Responded(200, 42*time.Millisecond, fullBody), time.Now())
	require.NoError(t, err)

	require.True(t, result.HasDetails())
	assert.Equal(t, "6.4", *result.WPVersion)
	assert.Equal(t, 95, *result.HealthRating)
	assert.Equal(t, 2, *result.UpdatesAvailable)
	assert.Equal(t, 200, *result.StatusCode)
	assert.Equal(t, int64(42), *result.ResponseTimeMS)
	assert.Equal(t, crawler.ClassificationHealthy, result.Classify())
}

func TestClassify_MissingHealthRating(t *testing.T) {
	t.Parallel()

	body := []byte(`{"wp_version":"6.4","updates_available":2}`)
	result, err := Classify(1, crawler.Responded(200, 30*time.Millisecond, body), time.Now())

	var missing *crawler.MissingFieldsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"health_rating"}, missing.Fields)

	assert.Equal(t, 200, *result.StatusCode)
	assert.Equal(t, int64(30), *result.ResponseTimeMS)
	assert.Nil(t, result.WPVersion)
	assert.Nil(t, result.HealthRating)
	assert.Nil(t, result.UpdatesAvailable)
	assert.Equal(t, crawler.ClassificationIncomplete, result.Classify())
}

func TestClassify_MalformedBody(t *testing.T) {
	t.Parallel()

	result, err := Classify(1, crawler.Responded(200, time.Millisecond, []byte("<html>maintenance</html>")), time.Now())
	require.Error(t, err)
	assert.Equal(t, 200, *result.StatusCode)
	assert.False(t, result.HasDetails())
}

func TestClassify_Multisite(t *testing.T) {
	t.Parallel()

	body := []byte(`{"wp_version":"6.5","health_rating":70,"updates_available":4,"multisite":true,
		"subsites":[{"site_id":"1","site_url":"https://a.test","site_name":"A"},{"site_id":"2","site_url":"https://b.test","site_name":"B"}]}`)
	result, err := Classify(1, crawler.Responded(200, time.Millisecond, body), time.Now())
	require.NoError(t, err)

	require.NotNil(t, result.Multisite)
	assert.True(t, *result.Multisite)
	require.Len(t, result.Subsites, 2)
	assert.Equal(t, "B", result.Subsites[1].SiteName)
}

func TestRecorder_RecordInsertsOneRowAtRecordTime(t *testing.T) {
	t.Parallel()

	recordTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeResultStore{}
	rec := New(&fakeClock{now: recordTime}, zap.NewNop())

	site := crawler.Site{ID: 3, URL: "https://a.test"}
	stored, err := rec.Record(context.Background(), store, site, crawler.Responded(200, 10*time.Millisecond, fullBody))
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, int64(1), stored.ID)
	assert.Equal(t, recordTime, stored.Timestamp)
	assert.Equal(t, int64(3), stored.SiteID)
	assert.True(t, stored.HasDetails())
}

func TestRecorder_RecordTransportFailure(t *testing.T) {
	t.Parallel()

	store := &fakeResultStore{}
	rec := New(&fakeClock{now: time.Unix(0, 0)}, nil)

	stored, err := rec.Record(context.Background(), store, crawler.Site{ID: 9}, crawler.TransportFailed("timeout", time.Second))
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	assert.Nil(t, stored.StatusCode)
	assert.Nil(t, stored.ResponseTimeMS)
}

func TestRecorder_RecordInsertFailure(t *testing.T) {
	t.Parallel()

	store := &fakeResultStore{err: errors.New("disk full")}
	rec := New(&fakeClock{now: time.Unix(0, 0)}, zap.NewNop())

	_, err := rec.Record(context.Background(), store, crawler.Site{ID: 9}, crawler.Responded(200, 0, fullBody))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeResultStore struct {
	inserted []crawler.CrawlResult
	err      error
}

func (s *fakeResultStore) InsertResult(_ context.Context, result crawler.CrawlResult) (crawler.CrawlResult, error) {
	if s.err != nil {
		return crawler.CrawlResult{}, s.err
	}
	result.ID = int64(len(s.inserted) + 1)
	s.inserted = append(s.inserted, result)
	return result, nil
}

func (s *fakeResultStore) ListResults(context.Context, int64) ([]crawler.CrawlResult, error) {
	return s.inserted, nil
}

func (s *fakeResultStore) LatestResult(context.Context, int64) (crawler.CrawlResult, error) {
	return crawler.CrawlResult{}, crawler.ErrNoResults
}

func (s *fakeResultStore) DeleteResults(context.Context, []int64) (int64, error) {
	return 0, nil
}
