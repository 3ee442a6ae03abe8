package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-health-crawler/internal/metrics"
)

func TestLimiterSpacesSameHost(t *testing.T) {
	t.Parallel()
	metrics.Init()
	l := New(Config{PerHostRPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.example/wp-json/relay/v1/core"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.example/other"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterIsolatesHosts(t *testing.T) {
	t.Parallel()
	metrics.Init()
	l := New(Config{PerHostRPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()
	l := New(Config{})
	assert.False(t, l.Enabled())
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "https://a.example"))
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()
	metrics.Init()
	l := New(Config{PerHostRPS: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example"))
}
