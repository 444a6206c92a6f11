package lock

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLocker holds keys with SET NX PX and releases them only while the caller's token still owns them.
type RedisLocker struct {
	rdb    redis.Cmdable
	prefix string
}

// DefaultPrefix namespaces lock keys; keys are stored as "<prefix>:<key>".
const DefaultPrefix = "spabook:lock"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(rdb redis.Cmdable, prefix string) *RedisLocker {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisLocker{rdb: rdb, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.prefix+":"+key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	return releaseScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, token).Err()
}
