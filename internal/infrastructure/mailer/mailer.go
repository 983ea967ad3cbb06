package mailer

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/infrastructure/document"
	"sign-vrtl/internal/infrastructure/redis"
)

var Module = fx.Module("mailer",
	fx.Provide(NewMailer),
	fx.Provide(NewRetryQueue),
)

// Mailer dispatches a templated notification and returns the provider's handle
type Mailer interface {
	Send(ctx context.Context, msg *entity.MailMessage) (*entity.DeliveryHandle, error)
}

// RetryQueue holds messages whose delivery failed
type RetryQueue interface {
	Push(ctx context.Context, msg *entity.MailMessage) error
	Pop(ctx context.Context, max int) ([]*entity.MailMessage, error)
	Len(ctx context.Context) (int, error)
}

func NewMailer(cfg *config.Config, store document.AttachmentStore, logger *zap.Logger) (Mailer, error) {
	switch cfg.Mail.Provider {
	case config.MailProviderSES:
		return NewSESMailer(context.Background(), cfg, store, logger)
	case config.MailProviderLog, "":
		return NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Mail.Provider)
	}
}

func NewRetryQueue(rc *redis.RedisClient, logger *zap.Logger) RetryQueue {
	if rc == nil {
		return NewMemoryRetryQueue()
	}
	return NewRedisRetryQueue(rc, logger)
}

type logMailer struct {
	logger *zap.Logger
}

// NewLogMailer writes messages to the log instead of sending them
func NewLogMailer(logger *zap.Logger) Mailer {
	return &logMailer{logger: logger}
}

func (m *logMailer) Send(ctx context.Context, msg *entity.MailMessage) (*entity.DeliveryHandle, error) {
	m.logger.Info("Mail dispatched",
		zap.String("message_id", msg.ID),
		zap.String("template", string(msg.Template)),
		zap.Strings("to", msg.To),
		zap.Strings("cc", msg.CC),
		zap.String("subject", msg.Subject),
		zap.Int64("request_id", msg.RequestID),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return &entity.DeliveryHandle{MessageID: msg.ID, Provider: config.MailProviderLog}, nil
}
