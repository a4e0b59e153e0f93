package guard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock taken over by another instance is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisGuard shares held keys between service instances. Redis errors fail
// open: the submission proceeds unguarded.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	script *redis.Script
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, prefix string) *RedisGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		script: redis.NewScript(releaseScript),
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if g == nil || g.client == nil || key == "" {
		return noop, nil
	}
	redisKey := key
	if g.prefix != "" {
		redisKey = g.prefix + ":" + key
	}
	token := uuid.NewString()

	opCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	ok, err := g.client.SetNX(opCtx, redisKey, token, g.ttl).Result()
	if err != nil {
		return noop, nil
	}
	if !ok {
		return nil, ErrHeld
	}
	return func() {
		relCtx, relCancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer relCancel()
		_ = g.script.Run(relCtx, g.client, []string{redisKey}, token).Err()
	}, nil
}
