// Package lock serializes work on a single sign request across goroutines and, with
// Redis enabled, across service instances.
package lock

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/infrastructure/redis"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

// Locker acquires an exclusive lock on key, blocking until it is free or ctx is done.
// The returned function releases it and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func NewLocker(cfg *config.Config, rc *redis.RedisClient, logger *zap.Logger) Locker {
	if rc == nil {
		return NewMemoryLocker()
	}
	return NewRedisLocker(rc, cfg.Sign.LockTTL, logger)
}

type memoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker returns a keyed mutex living in process memory
func NewMemoryLocker() Locker {
	return &memoryLocker{slots: make(map[string]*slot)}
}

func (l *memoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *memoryLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
