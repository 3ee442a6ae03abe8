package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-health-crawler/internal/clock/system"
	"github.com/JakeFAU/site-health-crawler/internal/credentials"
	"github.com/JakeFAU/site-health-crawler/internal/crawler"
	"github.com/JakeFAU/site-health-crawler/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/site-health-crawler/internal/publisher/memory"
	"github.com/JakeFAU/site-health-crawler/internal/recorder"
	"github.com/JakeFAU/site-health-crawler/internal/retention"
	"github.com/JakeFAU/site-health-crawler/internal/storage/memory"
)

const healthyBody = `{"wp_version":"6.4","health_rating":95,"updates_available":2}`

type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, url string, headers http.Header) crawler.ProbeOutcome {
	args := m.Called(ctx, url, headers)
	return args.Get(0).(crawler.ProbeOutcome)
}

type failingArchive struct{}

func (failingArchive) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}

type fixture struct {
	store  *memory.Store
	sess   crawler.Session
	enc    *credentials.Encryptor
	prober *mockProber
	clock  *system.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := credentials.DeriveKey("test-secret")
	require.NoError(t, err)
	enc, err := credentials.NewEncryptor(key)
	require.NoError(t, err)

	store := memory.NewStore()
	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(sess.Release)

	return &fixture{
		store:  store,
		sess:   sess,
		enc:    enc,
		prober: &mockProber{},
		clock:  system.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) site(t *testing.T, name, url, password string) crawler.Site {
	t.Helper()
	sealed, err := f.enc.Encrypt(password)
	require.NoError(t, err)
	site, err := f.sess.CreateSite(context.Background(), crawler.Site{
		Name: name, URL: url, Username: "monitor", AppPassword: sealed,
	})
	require.NoError(t, err)
	return site
}

func (f *fixture) worker(t *testing.T, cfg Config, opts ...Option) *Worker {
	t.Helper()
	pruner, err := retention.New(retention.DefaultKeep)
	require.NoError(t, err)
	return New(f.prober, f.enc, recorder.New(f.clock, zap.NewNop()), pruner, cfg, zap.NewNop(), opts...)
}

func TestCrawlSite_RecordsHealthyResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "A", "https://a.test/", "app-pass")

	f.prober.On("Probe", mock.Anything, "https://a.test/wp-json/relay/v1/core", mock.MatchedBy(func(h http.Header) bool {
		return h.Get("Authorization") == "Basic bW9uaXRvcjphcHAtcGFzcw=="
	})).Return(crawler.Responded(http.StatusOK, 140*time.Millisecond, []byte(healthyBody))).Once()

	result, err := f.worker(t, Config{}).CrawlSite(context.Background(), f.sess, site)
	require.NoError(t, err)
	f.prober.AssertExpectations(t)

	assert.Positive(t, result.ID)
	assert.Equal(t, 200, *result.StatusCode)
	assert.Equal(t, int64(140), *result.ResponseTimeMS)
	assert.Equal(t, "6.4", *result.WPVersion)
	assert.Equal(t, 95, *result.HealthRating)
	assert.Equal(t, 2, *result.UpdatesAvailable)
	assert.Equal(t, f.clock.Now(), result.Timestamp)

	stored, err := f.sess.ListResults(context.Background(), site.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestCrawlSite_TransportFailureStillRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "B", "https://b.test", "pw")
	f.prober.On("Probe", mock.Anything, mock.Anything, mock.Anything).
		Return(crawler.TransportFailed("context deadline exceeded", 10*time.Second)).Once()

	result, err := f.worker(t, Config{}).CrawlSite(context.Background(), f.sess, site)
	require.NoError(t, err)
	assert.Nil(t, result.StatusCode)
	assert.Nil(t, result.ResponseTimeMS)
	assert.False(t, result.HasDetails())
	assert.Equal(t, crawler.ClassificationUnreachable, result.Classify())
}

func TestCrawlSite_DecryptFailureSkipsProbe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site, err := f.sess.CreateSite(context.Background(), crawler.Site{
		Name: "C", URL: "https://c.test", Username: "u", AppPassword: "not-ciphertext",
	})
	require.NoError(t, err)

	_, err = f.worker(t, Config{}).CrawlSite(context.Background(), f.sess, site)
	var decErr *credentials.DecryptionError
	require.ErrorAs(t, err, &decErr)
	f.prober.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything, mock.Anything)

	stored, err := f.sess.ListResults(context.Background(), site.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCrawlSite_InvalidURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "D", "ftp://d.test", "pw")

	_, err := f.worker(t, Config{}).CrawlSite(context.Background(), f.sess, site)
	require.Error(t, err)
	f.prober.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything, mock.Anything)
}

func TestCrawlSite_RecordFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "E", "https://e.test", "pw")
	require.NoError(t, f.sess.DeleteSite(context.Background(), site.ID))
	f.prober.On("Probe", mock.Anything, mock.Anything, mock.Anything).
		Return(crawler.Responded(http.StatusOK, time.Millisecond, []byte(healthyBody))).Once()

	_, err := f.worker(t, Config{}).CrawlSite(context.Background(), f.sess, site)
	require.ErrorContains(t, err, "insert crawl result")
}

func TestCrawlSite_ArchivesAndPublishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "F", "https://f.test", "pw")
	f.prober.On("Probe", mock.Anything, "https://f.test/relay/v1/core", mock.Anything).
		Return(crawler.Responded(http.StatusOK, 5*time.Millisecond, []byte(healthyBody))).Once()

	blobs := memory.NewBlobStore()
	pub := pubmemory.New()
	w := f.worker(t,
		Config{HealthPath: crawler.LegacyHealthPath, ArchivePrefix: "/reports/", Topic: "crawl-results"},
		WithArchive(blobs, sha256.New()),
		WithPublisher(pub),
	)

	result, err := w.CrawlSite(context.Background(), f.sess, site)
	require.NoError(t, err)

	digest, err := sha256.New().Hash([]byte(healthyBody))
	require.NoError(t, err)
	path := fmt.Sprintf("reports/%d/%s.json", site.ID, digest)
	body, ok := blobs.Object(path)
	require.True(t, ok, "expected archive at %s", path)
	assert.JSONEq(t, healthyBody, string(body))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crawl-results", msgs[0].Topic)
	event, ok := msgs[0].Payload.(crawler.ResultEvent)
	require.True(t, ok)
	assert.Equal(t, result.ID, event.ResultID)
	assert.Equal(t, crawler.ClassificationHealthy, event.Classification)
	assert.Equal(t, "memory://"+path, event.ArchiveURI)
}

func TestCrawlSite_NonOKIsNotArchived(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "G", "https://g.test", "pw")
	f.prober.On("Probe", mock.Anything, mock.Anything, mock.Anything).
		Return(crawler.Responded(http.StatusUnauthorized, time.Millisecond, []byte(`{"code":"rest_forbidden"}`))).Once()

	blobs := memory.NewBlobStore()
	_, err := f.worker(t, Config{}, WithArchive(blobs, sha256.New())).CrawlSite(context.Background(), f.sess, site)
	require.NoError(t, err)
	assert.Zero(t, blobs.Len())
}

func TestCrawlSite_SideEffectFailuresAreIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "H", "https://h.test", "pw")
	f.prober.On("Probe", mock.Anything, mock.Anything, mock.Anything).
		Return(crawler.Responded(http.StatusOK, time.Millisecond, []byte(healthyBody))).Once()

	pub := pubmemory.New()
	pub.FailWith(errors.New("topic not found"))
	w := f.worker(t, Config{}, WithArchive(failingArchive{}, sha256.New()), WithPublisher(pub))

	result, err := w.CrawlSite(context.Background(), f.sess, site)
	require.NoError(t, err)
	assert.Equal(t, crawler.ClassificationHealthy, result.Classify())
}

func TestPruneDelegatesToPruner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "I", "https://i.test", "pw")
	for i := range 8 {
		_, err := f.sess.InsertResult(context.Background(), crawler.CrawlResult{
			SiteID: site.ID, Timestamp: f.clock.Now().Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	deleted, err := f.worker(t, Config{}).Prune(context.Background(), f.sess, site.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
}

type recordingLimiter struct {
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, url string) error {
	l.urls = append(l.urls, url)
	return l.err
}

func TestCrawlSite_WaitsOnRateLimiter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "F", "https://f.test", "pw")
	f.prober.On("Probe", mock.Anything, mock.Anything, mock.Anything).
		Return(crawler.Responded(http.StatusOK, time.Millisecond, []byte(healthyBody))).Once()
	limiter := &recordingLimiter{}

	_, err := f.worker(t, Config{}, WithRateLimiter(limiter)).CrawlSite(context.Background(), f.sess, site)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://f.test/wp-json/relay/v1/core"}, limiter.urls)
}

func TestCrawlSite_RateLimiterCanceled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	site := f.site(t, "G", "https://g.test", "pw")
	limiter := &recordingLimiter{err: context.Canceled}

	_, err := f.worker(t, Config{}, WithRateLimiter(limiter)).CrawlSite(context.Background(), f.sess, site)
	require.ErrorIs(t, err, context.Canceled)
	f.prober.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything, mock.Anything)

	stored, err := f.sess.ListResults(context.Background(), site.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
