package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/geoip"
)

type AuditUsecase interface {
	// Record appends a chained log entry for the request, optionally scoped to one item
	Record(ctx context.Context, action entity.LogAction, req *entity.SignRequest, item *entity.SignRequestItem, actor entity.ActorContext) (*entity.SignLog, error)

	ListLogs(ctx context.Context, requestID int64) ([]*entity.SignLog, error)

	// CheckIntegrity recomputes the request's hash chain
	CheckIntegrity(ctx context.Context, requestID int64) (*entity.IntegrityReport, error)
}

type auditUsecase struct {
	requests repository.SignRequestRepository
	logs     repository.SignLogRepository
	geo      geoip.Resolver
	clock    Clock
	logger   *zap.Logger
}

func NewAuditUsecase(
	requests repository.SignRequestRepository,
	logs repository.SignLogRepository,
	geo geoip.Resolver,
	clock Clock,
	logger *zap.Logger,
) AuditUsecase {
	return &auditUsecase{
		requests: requests,
		logs:     logs,
		geo:      geo,
		clock:    clock,
		logger:   logger,
	}
}

func (u *auditUsecase) Record(ctx context.Context, action entity.LogAction, req *entity.SignRequest, item *entity.SignRequestItem, actor entity.ActorContext) (*entity.SignLog, error) {
	entry := &entity.SignLog{
		Date:         u.clock.Now(),
		RequestID:    req.ID,
		UserID:       actor.UserID,
		IP:           actor.RemoteIP(),
		Action:       action,
		RequestState: req.State,
	}

	if item != nil {
		itemID, partnerID := item.ID, item.PartnerID
		entry.ItemID = &itemID
		entry.PartnerID = &partnerID
		entry.Token = item.AccessToken.Reveal()
		if item.State == entity.ItemStateSent {
			entry.Latitude, entry.Longitude = item.Latitude, item.Longitude
		} else {
			geo := u.geo.Resolve(ctx, entry.IP)
			entry.Latitude, entry.Longitude = geo.Latitude, geo.Longitude
		}
	} else {
		entry.PartnerID = actor.PartnerID
		geo := u.geo.Resolve(ctx, entry.IP)
		entry.Latitude, entry.Longitude = geo.Latitude, geo.Longitude
	}

	if err := u.logs.AppendChained(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record %s log: %w", action, err)
	}

	u.logger.Debug("Sign log recorded",
		zap.Int64("request_id", req.ID),
		zap.String("action", string(action)),
		zap.String("state", string(req.State)),
		zap.Int64("log_id", entry.ID),
	)
	return entry, nil
}

func (u *auditUsecase) ListLogs(ctx context.Context, requestID int64) ([]*entity.SignLog, error) {
	if _, err := u.requests.FindByID(ctx, requestID); err != nil {
		return nil, err
	}
	return u.logs.ListByRequest(ctx, requestID)
}

func (u *auditUsecase) CheckIntegrity(ctx context.Context, requestID int64) (*entity.IntegrityReport, error) {
	logs, err := u.ListLogs(ctx, requestID)
	if err != nil {
		return nil, err
	}

	report, err := entity.VerifyChain(requestID, logs)
	if err != nil {
		return nil, err
	}

	if !report.Intact {
		u.logger.Error("Sign log chain broken",
			zap.Int64("request_id", requestID),
			zap.Int64("log_id", *report.FirstBrokenID),
		)
	}
	return &report, nil
}
