package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker — распределенная блокировка на SetNX, чтобы только один инстанс
// выполнял эксклюзивную операцию (например, discovery одной платформы).
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// Acquire пытается взять блокировку. acquired=false — ее держит другой инстанс.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (release func(), acquired bool, err error) {
	ok, err := l.rdb.SetNX(ctx, key, "processing", l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// Используем Background: исходный контекст к этому моменту может быть отменен
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.rdb.Del(rctx, key)
	}
	return release, true, nil
}
