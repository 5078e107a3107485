package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/slotbooking/internal/domain/providers"
	redisclient "github.com/zatekoja/slotbooking/internal/infrastructure/clients/redis"
)

func newTestAdapter(t *testing.T) (providers.CacheProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisclient.NewClientFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisAdapter(client), mr
}

func TestRedisAdapter_GetSet(t *testing.T) {
	adapter, mr := newTestAdapter(t)
	ctx := context.Background()

	_, err := adapter.Get(ctx, "slots:spec-1:all")
	assert.ErrorIs(t, err, providers.ErrCacheMiss)

	require.NoError(t, adapter.Set(ctx, "slots:spec-1:all", []byte(`[]`), 30))
	value, err := adapter.Get(ctx, "slots:spec-1:all")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), value)

	mr.FastForward(31 * time.Second)
	_, err = adapter.Get(ctx, "slots:spec-1:all")
	assert.ErrorIs(t, err, providers.ErrCacheMiss)
}

func TestRedisAdapter_DeletePattern(t *testing.T) {
	adapter, mr := newTestAdapter(t)
	ctx := context.Background()

	// More keys than one SCAN batch
	for i := 0; i < scanBatch+25; i++ {
		require.NoError(t, adapter.Set(ctx, fmt.Sprintf("slots:spec-1:page-%d", i), []byte(`[]`), 60))
	}
	require.NoError(t, adapter.Set(ctx, "slots:spec-2:all", []byte(`[]`), 60))

	require.NoError(t, adapter.DeletePattern(ctx, "slots:spec-1:*"))

	assert.Equal(t, []string{"slots:spec-2:all"}, mr.Keys())
}

func TestRedisAdapter_Unavailable(t *testing.T) {
	adapter, mr := newTestAdapter(t)
	mr.Close()

	_, err := adapter.Get(context.Background(), "slots:spec-1:all")
	require.Error(t, err)
	assert.NotErrorIs(t, err, providers.ErrCacheMiss)
}
