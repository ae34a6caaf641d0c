package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStore_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRateLimitStore(client)
	fixed := time.Unix(1_790_000_040, 0)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			result, err := store.Allow(ctx, "vendor1:payouts_create", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "request %d should be allowed", i)
			assert.Equal(t, int64(3), result.Limit)
			assert.Equal(t, 3-i, result.Remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		result, err := store.Allow(ctx, "vendor1:payouts_create", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(0), result.Remaining)
	})

	t.Run("different keys are independent", func(t *testing.T) {
		result, err := store.Allow(ctx, "vendor2:payouts_create", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(4), result.Remaining)
	})

	t.Run("next window starts over", func(t *testing.T) {
		key := "vendor3:read"
		_, err := store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)

		result, err := store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)

		store.now = func() time.Time { return fixed.Add(time.Minute) }
		defer func() { store.now = func() time.Time { return fixed } }()

		result, err = store.Allow(ctx, key, 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("counter expires", func(t *testing.T) {
		_, err := store.Allow(ctx, "vendor4:webhooks", 10, time.Minute)
		require.NoError(t, err)
		windowKey := "ratelimit:vendor4:webhooks:" + "29833334"
		assert.True(t, mr.Exists(windowKey))
		mr.FastForward(62 * time.Second)
		assert.False(t, mr.Exists(windowKey))
	})

	t.Run("sets ResetAt to end of window", func(t *testing.T) {
		result, err := store.Allow(ctx, "vendor5:read", 10, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1_790_000_040/60+1)*60, result.ResetAt)
	})
}
