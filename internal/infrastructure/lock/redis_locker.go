package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sign-vrtl/internal/infrastructure/redis"
)

const (
	defaultLockTTL = 30 * time.Second
	retryInterval  = 50 * time.Millisecond
	keyPrefix      = "sign:lock:"
)

// releaseScript deletes the key only if it still holds our token, so an expired lock
// taken over by another instance is never released by the previous owner.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	rc     *redis.RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(rc *redis.RedisClient, ttl time.Duration, logger *zap.Logger) Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &redisLocker{
		rc:     rc,
		ttl:    ttl,
		logger: logger,
	}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.rc.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// release even if the caller's context is already canceled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rc.Client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release lock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}, nil
}
