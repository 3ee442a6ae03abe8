package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-health-crawler/internal/crawler"
)

func TestProbeRespondedWithBodyAndAuth(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"wp_version":"6.4"}`))
	}))
	defer srv.Close()

	p := New(Config{UserAgent: "health-bot/1.0", Timeout: time.Second})
	out := p.Probe(context.Background(), srv.URL+"/wp-json/relay/v1/core", http.Header{"Authorization": {"Basic abc"}})

	require.Equal(t, crawler.OutcomeResponded, out.Kind, out.Description)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.JSONEq(t, `{"wp_version":"6.4"}`, string(out.Body))
	got := <-seen
	assert.Equal(t, "Basic abc", got.Get("Authorization"))
	assert.Equal(t, "health-bot/1.0", got.Get("User-Agent"))
	assert.Positive(t, out.Elapsed)
}

func TestProbeNonSuccessStatusIsResponded(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("nope"))
		}))
		p := New(Config{Timeout: time.Second})
		out := p.Probe(context.Background(), srv.URL, nil)
		srv.Close()

		require.Equal(t, crawler.OutcomeResponded, out.Kind, "status %d: %s", status, out.Description)
		assert.Equal(t, status, out.StatusCode)
	}
}

func TestProbeTimeoutIsTransportFailure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := New(Config{Timeout: 50 * time.Millisecond})
	out := p.Probe(context.Background(), srv.URL, nil)

	require.Equal(t, crawler.OutcomeTransportFailed, out.Kind)
	assert.NotEmpty(t, out.Description)
	assert.GreaterOrEqual(t, out.Elapsed, 50*time.Millisecond)
}

func TestProbeUntrustedCertificateIsTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{Timeout: time.Second})
	out := p.Probe(context.Background(), srv.URL, nil)

	require.Equal(t, crawler.OutcomeTransportFailed, out.Kind)
	assert.Contains(t, out.Description, "certificate")
}

func TestProbeTrustedCertificate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	p := New(Config{Timeout: time.Second, Transport: srv.Client().Transport})
	out := p.Probe(context.Background(), srv.URL, nil)

	require.Equal(t, crawler.OutcomeResponded, out.Kind, out.Description)
	assert.Equal(t, http.StatusOK, out.StatusCode)
}

func TestProbeConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := New(Config{Timeout: time.Second}).Probe(context.Background(), url, nil)
	require.Equal(t, crawler.OutcomeTransportFailed, out.Kind)
}

func TestProbeCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := New(Config{}).Probe(ctx, "https://example.invalid", nil)
	require.Equal(t, crawler.OutcomeTransportFailed, out.Kind)
	assert.Contains(t, out.Description, "canceled")
}

func TestProbeSameURLTwice(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	p := New(Config{Timeout: time.Second})
	for range 2 {
		out := p.Probe(context.Background(), srv.URL, nil)
		require.Equal(t, crawler.OutcomeResponded, out.Kind, out.Description)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	state := &probeState{}
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, http.Header{"Authorization": {"Basic xyz"}}, state)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"Authorization": {"stale"}}}
	hooks.onRequest(collyReq)
	assert.Equal(t, []string{"Basic xyz"}, collyReq.Headers.Values("Authorization"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusAccepted, Body: []byte("body")})
	assert.True(t, state.got)
	assert.Equal(t, http.StatusAccepted, state.status)
	assert.Equal(t, "body", string(state.body))

	failed := &probeState{}
	configureCollectorHooks(hooks, nil, failed)
	hooks.onError(&colly.Response{}, errors.New("boom"))
	assert.False(t, failed.got)
	assert.EqualError(t, failed.fetchErr, "boom")
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	assert.Equal(t, DefaultTimeout, p.cfg.Timeout)
	assert.True(t, p.baseCollector.AllowURLRevisit)
	assert.True(t, p.baseCollector.ParseHTTPErrorResponse)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
