package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/document"
)

// SignedLink carries the expiring link parameters a signer arrived with, if any
type SignedLink struct {
	Timestamp string
	Signature string
}

// SignInput carries the payload either decoded in Signature or as submitted in
// EncodedSignature (raw base64 or a data URL). It is only looked at once the token is
// accepted.
type SignInput struct {
	RequestID        int64
	Token            string
	Signature        []byte
	EncodedSignature string
	Link             *SignedLink
}

type RefuseInput struct {
	RequestID int64
	Token     string
	Reason    string
	Link      *SignedLink
}

type SignItemUsecase interface {
	Sign(ctx context.Context, in *SignInput, actor entity.ActorContext) (*entity.SignRequestItem, error)
	Refuse(ctx context.Context, in *RefuseInput, actor entity.ActorContext) (*entity.SignRequestItem, error)

	// Cancel withdraws one signer. With revoke the signer's token stops working immediately.
	Cancel(ctx context.Context, requestID, itemID int64, revoke bool, actor entity.ActorContext) (*entity.SignRequestItem, error)

	UpdateSignerEmail(ctx context.Context, requestID, itemID int64, email string, actor entity.ActorContext) (*entity.SignRequestItem, error)
}

type signItemUsecase struct {
	requests      repository.SignRequestRepository
	items         repository.SignRequestItemRepository
	runner        *TxRunner
	audit         AuditUsecase
	notifications NotificationUsecase
	handler       ItemEventHandler
	validator     SignatureValidator
	store         document.AttachmentStore
	links         LinkSigner
	clock         Clock
	logger        *zap.Logger
}

func NewSignItemUsecase(
	requests repository.SignRequestRepository,
	items repository.SignRequestItemRepository,
	runner *TxRunner,
	audit AuditUsecase,
	notifications NotificationUsecase,
	handler ItemEventHandler,
	validator SignatureValidator,
	store document.AttachmentStore,
	links LinkSigner,
	clock Clock,
	logger *zap.Logger,
) SignItemUsecase {
	return &signItemUsecase{
		requests:      requests,
		items:         items,
		runner:        runner,
		audit:         audit,
		notifications: notifications,
		handler:       handler,
		validator:     validator,
		store:         store,
		links:         links,
		clock:         clock,
		logger:        logger,
	}
}

// authorize resolves the signer behind token. Every failure before the state checks
// is reported as the same access denial.
func (u *signItemUsecase) authorize(ctx context.Context, req *entity.SignRequest, token string, link *SignedLink) (*entity.SignRequestItem, error) {
	items, err := u.items.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	item := entity.FindItemByToken(items, token)
	if item == nil {
		return nil, entity.ErrAccessDenied
	}
	if link != nil {
		if err := u.links.Verify(item.ID, link.Timestamp, link.Signature, u.clock.Now()); err != nil {
			return nil, err
		}
	}
	if req.State != entity.RequestStateSent {
		return nil, entity.NewStateConflictError("sign request %d is %s", req.ID, req.State)
	}
	return item, nil
}

func (u *signItemUsecase) Sign(ctx context.Context, in *SignInput, actor entity.ActorContext) (*entity.SignRequestItem, error) {
	var signed *entity.SignRequestItem
	err := u.runner.WithRequest(ctx, in.RequestID, func(ctx context.Context, req *entity.SignRequest) error {
		item, err := u.authorize(ctx, req, in.Token, in.Link)
		if err != nil {
			return err
		}
		if item.State != entity.ItemStateSent {
			return entity.NewStateConflictError("sign request item %d is %s", item.ID, item.State)
		}

		payload := in.Signature
		if payload == nil && in.EncodedSignature != "" {
			if payload, err = DecodeSignature(in.EncodedSignature); err != nil {
				return err
			}
		}
		contentType, err := u.validator.Validate(payload)
		if err != nil {
			return err
		}

		name := fmt.Sprintf("%s-%d%s", req.Reference, item.ID, signatureExtensions[contentType])
		ref, err := u.store.Store(ctx, document.KindSignature, name, contentType, payload)
		if err != nil {
			return fmt.Errorf("failed to store signature: %w", err)
		}

		if err := item.Sign(ref, u.clock.Now()); err != nil {
			return err
		}
		if err := u.items.Update(ctx, item); err != nil {
			return err
		}
		if _, err := u.audit.Record(ctx, entity.LogActionSign, req, item, actor); err != nil {
			return err
		}

		signed = item
		return u.handler.HandleItemEvent(ctx, entity.ItemEvent{
			Kind:      entity.ItemEventCompleted,
			RequestID: req.ID,
			ItemID:    item.ID,
			PartnerID: item.PartnerID,
			Actor:     actor,
		})
	})
	if err != nil {
		return nil, u.deny(in.RequestID, actor, err)
	}

	u.logger.Info("Signer completed",
		zap.Int64("request_id", in.RequestID),
		zap.Int64("item_id", signed.ID),
	)
	return signed, nil
}

func (u *signItemUsecase) Refuse(ctx context.Context, in *RefuseInput, actor entity.ActorContext) (*entity.SignRequestItem, error) {
	reason := strings.TrimSpace(in.Reason)

	var refused *entity.SignRequestItem
	err := u.runner.WithRequest(ctx, in.RequestID, func(ctx context.Context, req *entity.SignRequest) error {
		item, err := u.authorize(ctx, req, in.Token, in.Link)
		if err != nil {
			return err
		}
		if reason == "" {
			return entity.NewValidationError("refusal reason is required")
		}
		if err := item.Refuse(reason, u.clock.Now()); err != nil {
			return err
		}
		if err := u.items.Update(ctx, item); err != nil {
			return err
		}
		if _, err := u.audit.Record(ctx, entity.LogActionRefuse, req, item, actor); err != nil {
			return err
		}

		refused = item
		return u.handler.HandleItemEvent(ctx, entity.ItemEvent{
			Kind:      entity.ItemEventRefused,
			RequestID: req.ID,
			ItemID:    item.ID,
			PartnerID: item.PartnerID,
			Reason:    reason,
			Actor:     actor,
		})
	})
	if err != nil {
		return nil, u.deny(in.RequestID, actor, err)
	}

	u.logger.Info("Signer refused",
		zap.Int64("request_id", in.RequestID),
		zap.Int64("item_id", refused.ID),
	)
	return refused, nil
}

// deny hides whether a request exists from token holders
func (u *signItemUsecase) deny(requestID int64, actor entity.ActorContext, err error) error {
	if errors.Is(err, entity.ErrNotFound) || errors.Is(err, entity.ErrAccessDenied) {
		u.logger.Warn("Signer access denied",
			zap.Int64("request_id", requestID),
			zap.String("ip", actor.RemoteIP()),
		)
		return entity.ErrAccessDenied
	}
	return err
}

func (u *signItemUsecase) findItem(ctx context.Context, requestID, itemID int64) (*entity.SignRequestItem, error) {
	item, err := u.items.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.RequestID != requestID {
		return nil, entity.NewNotFoundError("sign request item %d not found in request %d", itemID, requestID)
	}
	return item, nil
}

func (u *signItemUsecase) Cancel(ctx context.Context, requestID, itemID int64, revoke bool, actor entity.ActorContext) (*entity.SignRequestItem, error) {
	var canceled *entity.SignRequestItem
	err := u.runner.WithRequest(ctx, requestID, func(ctx context.Context, req *entity.SignRequest) error {
		item, err := u.findItem(ctx, requestID, itemID)
		if err != nil {
			return err
		}
		if err := item.Cancel(revoke); err != nil {
			return err
		}
		if err := u.items.Update(ctx, item); err != nil {
			return err
		}
		if _, err := u.audit.Record(ctx, entity.LogActionCancel, req, item, actor); err != nil {
			return err
		}

		canceled = item
		return u.handler.HandleItemEvent(ctx, entity.ItemEvent{
			Kind:      entity.ItemEventCanceled,
			RequestID: req.ID,
			ItemID:    item.ID,
			PartnerID: item.PartnerID,
			Actor:     actor,
		})
	})
	if err != nil {
		return nil, err
	}
	return canceled, nil
}

func (u *signItemUsecase) UpdateSignerEmail(ctx context.Context, requestID, itemID int64, email string, actor entity.ActorContext) (*entity.SignRequestItem, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	var updated *entity.SignRequestItem
	err := u.runner.WithRequest(ctx, requestID, func(ctx context.Context, req *entity.SignRequest) error {
		item, err := u.findItem(ctx, requestID, itemID)
		if err != nil {
			return err
		}
		if item.State != entity.ItemStateSent {
			return entity.NewStateConflictError("sign request item %d is %s", item.ID, item.State)
		}
		if item.SignerEmail == email {
			updated = item
			return nil
		}

		item.SignerEmail = email
		item.IsMailSent = false
		if err := u.items.Update(ctx, item); err != nil {
			return err
		}
		if _, err := u.audit.Record(ctx, entity.LogActionUpdateMail, req, item, actor); err != nil {
			return err
		}

		updated = item
		if req.State == entity.RequestStateSent {
			afterCommit(ctx, func(ctx context.Context) {
				if _, err := u.notifications.SendAccessMails(ctx, requestID, []int64{itemID}, entity.MailTemplateAccess); err != nil {
					u.logger.Error("Failed to resend access mail",
						zap.Int64("request_id", requestID),
						zap.Int64("item_id", itemID),
						zap.Error(err),
					)
				}
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
