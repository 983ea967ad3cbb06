package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/usecase"
)

var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(func(*Scheduler) {}),
)

// jobTimeout bounds a single tick so a stuck sweep cannot block the next one forever
const jobTimeout = 10 * time.Minute

// Scheduler runs the reminder sweep and the mail retry on their cron specs
type Scheduler struct {
	cron     *cron.Cron
	reminder usecase.ReminderUsecase
	notify   usecase.NotificationUsecase
	logger   *zap.Logger
}

func NewScheduler(
	lc fx.Lifecycle,
	cfg *config.Config,
	reminder usecase.ReminderUsecase,
	notify usecase.NotificationUsecase,
	logger *zap.Logger,
) (*Scheduler, error) {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		reminder: reminder,
		notify:   notify,
		logger:   logger,
	}

	if cfg.Sign.ReminderCron != "" {
		if _, err := s.cron.AddFunc(cfg.Sign.ReminderCron, s.RunReminder); err != nil {
			return nil, fmt.Errorf("invalid reminder cron %q: %w", cfg.Sign.ReminderCron, err)
		}
	}
	if cfg.Sign.RetryCron != "" {
		if _, err := s.cron.AddFunc(cfg.Sign.RetryCron, s.RunRetry); err != nil {
			return nil, fmt.Errorf("invalid retry cron %q: %w", cfg.Sign.RetryCron, err)
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting scheduler",
				zap.String("reminder_cron", cfg.Sign.ReminderCron),
				zap.String("retry_cron", cfg.Sign.RetryCron),
			)
			s.cron.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping scheduler")
			select {
			case <-s.cron.Stop().Done():
			case <-ctx.Done():
				logger.Warn("Scheduler jobs still running at shutdown")
			}
			return nil
		},
	})

	return s, nil
}

func (s *Scheduler) RunReminder() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.reminder.CronReminder(ctx); err != nil {
		s.logger.Error("Reminder sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) RunRetry() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.notify.RetryFailed(ctx); err != nil {
		s.logger.Error("Mail retry failed", zap.Error(err))
	}
}
