package dedupe

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// RedisGuard externalizes the per-user slot so multiple instances share one
// view of recent interactions.
type RedisGuard struct {
	data *cache.Cache
	ttl  time.Duration
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(redisURL string, ttl time.Duration) (*RedisGuard, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(10_000, ttl),
	})
	return &RedisGuard{data: data, ttl: ttl}, nil
}

func redisGuardKey(userID int64) string {
	return "dedupe/" + strconv.FormatInt(userID, 10)
}

func (g *RedisGuard) Check(ctx context.Context, userID int64, key string) (bool, error) {
	var last string
	err := g.data.Get(ctx, redisGuardKey(userID), &last)
	if err != nil && err != cache.ErrCacheMiss {
		return false, err
	}
	if err == nil && last == key {
		return true, nil
	}
	err = g.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisGuardKey(userID),
		Value: key,
		TTL:   g.ttl,
	})
	if err != nil {
		return false, err
	}
	return false, nil
}
