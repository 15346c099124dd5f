package engine

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisLocker_UnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	l := NewRedisLocker(rdb, 0)
	assert.Equal(t, 2*time.Minute, l.ttl)

	release, acquired, err := l.Acquire(context.Background(), "cubcen:lock:discovery:p1")
	assert.Error(t, err)
	assert.False(t, acquired)
	assert.Nil(t, release)
}
