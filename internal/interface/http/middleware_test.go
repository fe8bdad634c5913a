package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/clinic-console/internal/infra/config"
)

func TestIPRateLimiterRefills(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2}, func() time.Time { return now })

	ok, _ := limiter.allow("10.0.0.1")
	require.True(t, ok)
	ok, _ = limiter.allow("10.0.0.1")
	require.True(t, ok)
	ok, wait := limiter.allow("10.0.0.1")
	require.False(t, ok)
	require.Equal(t, time.Second, wait)

	ok, _ = limiter.allow("10.0.0.2")
	require.True(t, ok, "buckets are per client")

	now = now.Add(time.Second)
	ok, _ = limiter.allow("10.0.0.1")
	require.True(t, ok)
}

func TestIPRateLimiterForgetsIdleClients(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1}, func() time.Time { return now })

	limiter.allow("10.0.0.1")
	now = now.Add(6 * time.Minute)
	limiter.allow("10.0.0.2")
	require.Len(t, limiter.visitors, 1)
}
