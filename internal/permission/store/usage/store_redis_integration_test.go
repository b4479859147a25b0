//go:build integration

package usage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/internal/permission/store/usage"
	"concord/pkg/testutil/containers"
)

func TestRedisUsage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	store := usage.NewRedis(rc.Client)
	ctx := context.Background()

	t.Run("daily counters are per key and day", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))

		for i := 1; i <= 3; i++ {
			n, err := store.IncrementDaily(ctx, "roleperm:abc", "2026-03-02")
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}

		count, err := store.DailyCount(ctx, "roleperm:abc", "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		// Day rollover is a fresh key, not a reset.
		count, err = store.DailyCount(ctx, "roleperm:abc", "2026-03-03")
		require.NoError(t, err)
		assert.Zero(t, count)

		count, err = store.DailyCount(ctx, "roleperm:other", "2026-03-02")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("last use round trip", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))

		last, err := store.LastUse(ctx, "roleperm:abc")
		require.NoError(t, err)
		assert.Nil(t, last)

		at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
		require.NoError(t, store.MarkUse(ctx, "roleperm:abc", at))

		last, err = store.LastUse(ctx, "roleperm:abc")
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.Equal(at))
	})
}
