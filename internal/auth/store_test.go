package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRefreshStore(t *testing.T, store RefreshStore) {
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "a", 1, time.Hour))
	require.NoError(t, store.Save(ctx, "b", 1, time.Hour))
	require.NoError(t, store.Save(ctx, "c", 2, time.Hour))

	userId, ok, err := store.Consume(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok, "expected token to be found")
	assert.Equal(t, 1, userId)

	_, ok, err = store.Consume(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "expected token to be consumed only once")

	require.NoError(t, store.RevokeAll(ctx, 1))

	_, ok, err = store.Consume(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "expected revoked token to be gone")

	userId, ok, err = store.Consume(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok, "expected other user's token to survive revocation")
	assert.Equal(t, 2, userId)
}

func TestMemoryRefreshStore(t *testing.T) {
	testRefreshStore(t, NewMemoryRefreshStore())
}

func TestMemoryRefreshStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, "a", 1, time.Minute))

	now = now.Add(2 * time.Minute)
	_, ok, err := store.Consume(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "expected expired token to be rejected")
	assert.Empty(t, store.byUser, "expected expired token to be removed")
}

// TestRedisRefreshStore requires Redis at ROOMCHAT_TEST_REDIS_ADDR or
// localhost:6379 and is skipped otherwise.
func TestRedisRefreshStore(t *testing.T) {
	addr := os.Getenv("ROOMCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}

	prefix := "roomchat-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})

	testRefreshStore(t, NewRedisRefreshStore(client, prefix))
}
