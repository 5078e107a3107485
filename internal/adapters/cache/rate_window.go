package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/zatekoja/slotbooking/internal/infrastructure/clients/redis"
)

// rateKeyPrefix namespaces rate-limit windows in the shared keyspace
const rateKeyPrefix = "rl:"

// RedisRateWindow is a sliding-window request limiter kept in Redis so every
// API instance spends the same budget. Each key is a sorted set of request
// timestamps in milliseconds.
type RedisRateWindow struct {
	client *redisclient.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisRateWindow allows limit requests per key within any window
func NewRedisRateWindow(client *redisclient.Client, limit int, window time.Duration) *RedisRateWindow {
	return &RedisRateWindow{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a request for key when the window has room for it
func (w *RedisRateWindow) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	rdb := w.client.Client()
	redisKey := rateKeyPrefix + key
	nowMs := w.now().UnixMilli()
	windowMs := w.window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + ":" + uuid.NewString()

	// The request is counted before the decision so concurrent callers on
	// other instances see it
	var count *redis.IntCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(nowMs-windowMs, 10))
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(nowMs), Member: member})
		count = pipe.ZCard(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, w.window+5*time.Second)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to record request: %w", err)
	}
	if count.Val() <= int64(w.limit) {
		return true, 0, nil
	}

	if err := rdb.ZRem(ctx, redisKey, member).Err(); err != nil {
		return false, 0, fmt.Errorf("failed to withdraw refused request: %w", err)
	}

	retryAfter := w.window
	oldest, err := rdb.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		retryAfter = time.Duration(int64(oldest[0].Score)+windowMs-nowMs) * time.Millisecond
	}
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
