package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_WindowExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mc := NewMemoryCache()
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := mc.IncrWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	val, err := mc.IncrWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	now = now.Add(31 * time.Second)
	val, err = mc.IncrWithExpiry(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val, "new window after expiry")
}

func TestMemoryCache_SweepsExpiredKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mc := NewMemoryCache()
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := mc.IncrWithExpiry(ctx, k, time.Second)
		require.NoError(t, err)
	}

	now = now.Add(2 * sweepEvery)
	_, err := mc.IncrWithExpiry(ctx, "d", time.Second)
	require.NoError(t, err)
	assert.Len(t, mc.counters, 1)
}
