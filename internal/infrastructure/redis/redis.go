package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
)

var Module = fx.Module("redis",
	fx.Provide(NewRedisClient),
)

// ErrNil is returned by Get and LPop when the key does not exist
var ErrNil = redis.Nil

type RedisClient struct {
	Client *redis.Client
	logger *zap.Logger
}

// NewRedisClient connects to Redis. It returns a nil client when Redis is disabled;
// consumers then fall back to in-process implementations.
func NewRedisClient(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*RedisClient, error) {
	if !cfg.Redis.Enabled {
		logger.Info("Redis disabled, using in-process locks and queues")
		return nil, nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connected successfully",
		zap.String("addr", addr),
		zap.Int("db", cfg.Redis.DB),
	)

	rc := &RedisClient{
		Client: client,
		logger: logger,
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rc.Close()
		},
	})
	return rc, nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *redis.Client, logger *zap.Logger) *RedisClient {
	return &RedisClient{Client: client, logger: logger}
}

// SetNX stores value only when key is absent and reports whether it did
func (r *RedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, key, value, expiration).Result()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.Client.Get(ctx, key).Result()
}

func (r *RedisClient) RPush(ctx context.Context, key string, values ...interface{}) error {
	return r.Client.RPush(ctx, key, values...).Err()
}

// LPop removes and returns the head of a list; ok is false when the list is empty
func (r *RedisClient) LPop(ctx context.Context, key string) (value string, ok bool, err error) {
	value, err = r.Client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisClient) LLen(ctx context.Context, key string) (int64, error) {
	return r.Client.LLen(ctx, key).Result()
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}
