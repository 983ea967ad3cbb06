package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/infrastructure/redis"
)

const retryQueueKey = "sign:mail:retry"

type redisRetryQueue struct {
	rc     *redis.RedisClient
	logger *zap.Logger
}

func NewRedisRetryQueue(rc *redis.RedisClient, logger *zap.Logger) RetryQueue {
	return &redisRetryQueue{
		rc:     rc,
		logger: logger,
	}
}

func (q *redisRetryQueue) Push(ctx context.Context, msg *entity.MailMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode mail message: %w", err)
	}
	if err := q.rc.RPush(ctx, retryQueueKey, payload); err != nil {
		return fmt.Errorf("failed to queue mail message: %w", err)
	}
	return nil
}

func (q *redisRetryQueue) Pop(ctx context.Context, max int) ([]*entity.MailMessage, error) {
	var out []*entity.MailMessage
	for len(out) < max {
		raw, ok, err := q.rc.LPop(ctx, retryQueueKey)
		if err != nil {
			return out, fmt.Errorf("failed to dequeue mail message: %w", err)
		}
		if !ok {
			break
		}
		var msg entity.MailMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			q.logger.Error("Dropping undecodable mail message", zap.Error(err))
			continue
		}
		out = append(out, &msg)
	}
	return out, nil
}

func (q *redisRetryQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rc.LLen(ctx, retryQueueKey)
	return int(n), err
}

type memoryRetryQueue struct {
	mu    sync.Mutex
	items []*entity.MailMessage
}

func NewMemoryRetryQueue() RetryQueue {
	return &memoryRetryQueue{}
}

func (q *memoryRetryQueue) Push(ctx context.Context, msg *entity.MailMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := *msg
	q.items = append(q.items, &c)
	return nil
}

func (q *memoryRetryQueue) Pop(ctx context.Context, max int) ([]*entity.MailMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > len(q.items) {
		max = len(q.items)
	}
	out := q.items[:max:max]
	q.items = q.items[max:]
	return out, nil
}

func (q *memoryRetryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
