package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
)

type SweepResult struct {
	Checked  int `json:"checked"`
	Expired  int `json:"expired"`
	Reminded int `json:"reminded"`
	Failed   int `json:"failed"`
}

type ReminderUsecase interface {
	// CronReminder expires sent requests past their validity and reminds the pending
	// signers of the others. Running it twice on the same day changes nothing the second time.
	CronReminder(ctx context.Context) (*SweepResult, error)
}

type reminderUsecase struct {
	config        *config.Config
	requests      repository.SignRequestRepository
	items         repository.SignRequestItemRepository
	runner        *TxRunner
	audit         AuditUsecase
	notifications NotificationUsecase
	clock         Clock
	logger        *zap.Logger
}

func NewReminderUsecase(
	cfg *config.Config,
	requests repository.SignRequestRepository,
	items repository.SignRequestItemRepository,
	runner *TxRunner,
	audit AuditUsecase,
	notifications NotificationUsecase,
	clock Clock,
	logger *zap.Logger,
) ReminderUsecase {
	return &reminderUsecase{
		config:        cfg,
		requests:      requests,
		items:         items,
		runner:        runner,
		audit:         audit,
		notifications: notifications,
		clock:         clock,
		logger:        logger,
	}
}

type sweepOutcome int

const (
	sweepUntouched sweepOutcome = iota
	sweepExpired
	sweepReminded
)

func (u *reminderUsecase) CronReminder(ctx context.Context) (*SweepResult, error) {
	ids, err := u.requests.ListIDsByState(ctx, entity.RequestStateSent)
	if err != nil {
		return nil, err
	}

	workers := u.config.Sign.SweepWorkers
	if workers <= 0 {
		workers = 4
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result = &SweepResult{}
		sem    = make(chan struct{}, workers)
	)

	now := u.clock.Now()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := u.sweep(ctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			result.Checked++
			switch {
			case err != nil:
				result.Failed++
				u.logger.Error("Reminder sweep failed for request",
					zap.Int64("request_id", id),
					zap.Error(err),
				)
			case outcome == sweepExpired:
				result.Expired++
			case outcome == sweepReminded:
				result.Reminded++
			}
		}(id)
	}
	wg.Wait()

	u.logger.Info("Reminder sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("expired", result.Expired),
		zap.Int("reminded", result.Reminded),
		zap.Int("failed", result.Failed),
	)
	return result, ctx.Err()
}

// sweep handles one request under its lock. The state is re-read there, so a request
// signed or canceled since the listing is left alone.
func (u *reminderUsecase) sweep(ctx context.Context, id int64, now time.Time) (sweepOutcome, error) {
	outcome := sweepUntouched
	err := u.runner.WithRequest(ctx, id, func(ctx context.Context, req *entity.SignRequest) error {
		if req.State != entity.RequestStateSent {
			return nil
		}

		if req.IsExpiredAt(now) {
			if err := req.TransitionTo(entity.RequestStateExpired); err != nil {
				return err
			}
			if err := u.requests.Update(ctx, req); err != nil {
				return err
			}
			if _, err := u.audit.Record(ctx, entity.LogActionUpdate, req, nil, entity.SystemActor()); err != nil {
				return err
			}
			outcome = sweepExpired
			u.logger.Info("Sign request expired",
				zap.Int64("request_id", req.ID),
				zap.Time("validity", *req.Validity),
			)
			return nil
		}

		if !req.ReminderDue(now) {
			return nil
		}

		items, err := u.items.ListByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		var pending []int64
		for _, item := range items {
			if item.State == entity.ItemStateSent {
				pending = append(pending, item.ID)
			}
		}

		req.LastReminder = entity.DateOf(now)
		if err := u.requests.Update(ctx, req); err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		outcome = sweepReminded
		afterCommit(ctx, func(ctx context.Context) {
			n, err := u.notifications.SendAccessMails(ctx, id, pending, entity.MailTemplateReminder)
			if err != nil {
				u.logger.Error("Failed to send reminders",
					zap.Int64("request_id", id),
					zap.Error(err),
				)
				return
			}
			u.logger.Info("Reminders sent",
				zap.Int64("request_id", id),
				zap.Int("signers", n),
			)
		})
		return nil
	})
	return outcome, err
}
