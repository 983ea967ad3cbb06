package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/lock"
)

// Clock is the time source of every usecase
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func NewClock() Clock { return systemClock{} }

type scopeKey struct{}

// scope is carried by the context of a running unit of work
type scope struct {
	base  context.Context
	hooks []func(ctx context.Context)
	held  map[int64]bool
}

// TxRunner runs units of work in a transaction and, for WithRequest, under the
// request's lock. Hooks registered with afterCommit run once the outermost unit has
// committed and released its lock; their failures never undo the committed change.
type TxRunner struct {
	tx       repository.Transactor
	locker   lock.Locker
	requests repository.SignRequestRepository
	logger   *zap.Logger
}

func NewTxRunner(
	tx repository.Transactor,
	locker lock.Locker,
	requests repository.SignRequestRepository,
	logger *zap.Logger,
) *TxRunner {
	return &TxRunner{
		tx:       tx,
		locker:   locker,
		requests: requests,
		logger:   logger,
	}
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// afterCommit defers fn until the surrounding unit of work has committed. Outside a
// unit of work fn runs immediately.
func afterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if s := scopeFrom(ctx); s != nil {
		s.hooks = append(s.hooks, fn)
		return
	}
	fn(ctx)
}

// Run executes fn in a transaction
func (r *TxRunner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if scopeFrom(ctx) != nil {
		return r.tx.WithinTx(ctx, fn)
	}

	s := &scope{base: ctx, held: map[int64]bool{}}
	if err := r.tx.WithinTx(context.WithValue(ctx, scopeKey{}, s), fn); err != nil {
		return err
	}
	r.runHooks(s)
	return nil
}

// WithRequest serializes fn with every other unit of work on the same request. The
// request passed to fn is row-locked for the duration of the transaction.
func (r *TxRunner) WithRequest(ctx context.Context, requestID int64, fn func(ctx context.Context, req *entity.SignRequest) error) error {
	if s := scopeFrom(ctx); s != nil && s.held[requestID] {
		return r.tx.WithinTx(ctx, func(ctx context.Context) error {
			return r.lockAndRun(ctx, requestID, fn)
		})
	}

	unlock, err := r.locker.Lock(ctx, fmt.Sprintf("sign_request:%d", requestID))
	if err != nil {
		return fmt.Errorf("failed to lock sign request %d: %w", requestID, err)
	}

	outer := scopeFrom(ctx)
	s := outer
	if s == nil {
		s = &scope{base: ctx, held: map[int64]bool{}}
		ctx = context.WithValue(ctx, scopeKey{}, s)
	}
	s.held[requestID] = true

	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		return r.lockAndRun(ctx, requestID, fn)
	})
	delete(s.held, requestID)
	unlock()

	if err != nil || outer != nil {
		return err
	}
	r.runHooks(s)
	return nil
}

func (r *TxRunner) lockAndRun(ctx context.Context, requestID int64, fn func(ctx context.Context, req *entity.SignRequest) error) error {
	req, err := r.requests.LockByID(ctx, requestID)
	if err != nil {
		return err
	}
	return fn(ctx, req)
}

func (r *TxRunner) runHooks(s *scope) {
	if len(s.hooks) == 0 {
		return
	}
	// hooks outlive the caller's request, so cancellation of the original context does not abort them
	ctx := context.WithoutCancel(s.base)
	for _, hook := range s.hooks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("Post-commit hook panicked", zap.Any("panic", rec))
				}
			}()
			hook(ctx)
		}()
	}
}
