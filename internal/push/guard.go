package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard serialises invocations of the same notification type across
// dispatcher instances. Acquire returns ok=false when another invocation
// holds the key.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool)
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard takes a SET NX lock per key with a TTL so a crashed holder
// cannot block the type forever.
type RedisGuard struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisGuard{rdb: rdb, ttl: ttl, prefix: "nudge:dispatch:", logger: logger}
}

// Acquire fails open: if Redis is unreachable the invocation proceeds unguarded.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), bool) {
	lockKey := g.prefix + key
	token := uuid.NewString()

	ok, err := g.rdb.SetNX(ctx, lockKey, token, g.ttl).Result()
	if err != nil {
		g.logger.Warn("dispatch guard unavailable, running unguarded", "key", lockKey, "error", err)
		return func() {}, true
	}
	if !ok {
		return nil, false
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.rdb, []string{lockKey}, token).Err(); err != nil {
			g.logger.Warn("release dispatch guard", "key", lockKey, "error", err)
		}
	}, true
}
