package idempotency

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreDeduplicates(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	store := NewRedisStore(client, "test:seen", time.Hour)

	seen, err := store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = store.Seen(context.Background(), "evt-2")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestRedisStoreWindowExpiry(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	store := NewRedisStore(client, "test:seen", time.Minute)

	seen, err := store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	require.False(t, seen)

	mini.FastForward(2 * time.Minute)

	seen, err = store.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	require.False(t, seen)
}
