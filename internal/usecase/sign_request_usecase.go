package usecase

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
)

// ItemEventHandler receives terminal item transitions. It is called inside the item's
// unit of work, so the request is already locked.
type ItemEventHandler interface {
	HandleItemEvent(ctx context.Context, ev entity.ItemEvent) error
}

type SignRequestUsecase interface {
	ItemEventHandler

	Create(ctx context.Context, in *CreateSignRequestInput, actor entity.ActorContext) (*SignRequestDetail, error)
	Get(ctx context.Context, id int64) (*SignRequestDetail, error)

	// Send moves a shared request to sent and mails the signers
	Send(ctx context.Context, id int64, actor entity.ActorContext) (*SignRequestDetail, error)

	Cancel(ctx context.Context, id int64, actor entity.ActorContext) error

	// BulkCancel cancels each request in its own unit of work; one failure does not stop the others
	BulkCancel(ctx context.Context, ids []int64, actor entity.ActorContext) []BulkCancelResult

	Archive(ctx context.Context, id int64, actor entity.ActorContext) error

	// MarkDecrypted clears the encryption gate and releases a held completed document
	MarkDecrypted(ctx context.Context, id int64, actor entity.ActorContext) error

	PartnerSignatures(ctx context.Context, partnerID int64) (*PartnerSignatures, error)
}

type SignerInput struct {
	PartnerID int64  `json:"partner_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

type CreateSignRequestInput struct {
	Reference         string        `json:"reference"`
	Subject           string        `json:"subject"`
	Message           string        `json:"message"`
	Validity          *time.Time    `json:"-"`
	Reminder          int           `json:"reminder"`
	Shared            bool          `json:"shared"`
	EncryptionPending bool          `json:"encryption_pending"`
	CCEmails          []string      `json:"cc_emails"`
	Signers           []SignerInput `json:"signers"`
}

type SignRequestDetail struct {
	Request   *entity.SignRequest       `json:"request"`
	Items     []*entity.SignRequestItem `json:"items"`
	Stats     entity.RequestStats       `json:"stats"`
	ShareLink string                    `json:"share_link,omitempty"`
}

type BulkCancelResult struct {
	ID       int64            `json:"id"`
	Canceled bool             `json:"canceled"`
	Code     entity.ErrorKind `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type PartnerSignatures struct {
	PartnerID      int64                 `json:"partner_id"`
	SignatureCount int                   `json:"signature_count"`
	Requests       []*entity.SignRequest `json:"requests"`
}

const maxReminderDays = 365

type signRequestUsecase struct {
	config        *config.Config
	requests      repository.SignRequestRepository
	items         repository.SignRequestItemRepository
	runner        *TxRunner
	audit         AuditUsecase
	notifications NotificationUsecase
	clock         Clock
	logger        *zap.Logger
}

func NewSignRequestUsecase(
	cfg *config.Config,
	requests repository.SignRequestRepository,
	items repository.SignRequestItemRepository,
	runner *TxRunner,
	audit AuditUsecase,
	notifications NotificationUsecase,
	clock Clock,
	logger *zap.Logger,
) SignRequestUsecase {
	return &signRequestUsecase{
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

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return entity.NewValidationError("invalid email address %q", email)
	}
	return nil
}

func (in *CreateSignRequestInput) validate(today time.Time) error {
	if strings.TrimSpace(in.Reference) == "" {
		return entity.NewValidationError("reference is required")
	}
	if len(in.Signers) == 0 {
		return entity.NewValidationError("at least one signer is required")
	}
	if in.Reminder < 0 || in.Reminder > maxReminderDays {
		return entity.NewValidationError("reminder must be between 0 and %d days", maxReminderDays)
	}
	if in.Validity != nil && entity.DateOf(*in.Validity).Before(today) {
		return entity.NewValidationError("validity cannot be in the past")
	}
	for i, s := range in.Signers {
		if s.PartnerID <= 0 {
			return entity.NewValidationError("signer %d: partner is required", i+1)
		}
		if strings.TrimSpace(s.Role) == "" {
			return entity.NewValidationError("signer %d: role is required", i+1)
		}
		if err := validateEmail(s.Email); err != nil {
			return err
		}
	}
	for _, cc := range in.CCEmails {
		if err := validateEmail(cc); err != nil {
			return err
		}
	}
	return nil
}

func (u *signRequestUsecase) Create(ctx context.Context, in *CreateSignRequestInput, actor entity.ActorContext) (*SignRequestDetail, error) {
	now := u.clock.Now()
	if err := in.validate(entity.DateOf(now)); err != nil {
		return nil, err
	}

	state := entity.RequestStateSent
	if in.Shared {
		state = entity.RequestStateShared
	}

	req := &entity.SignRequest{
		Reference:         strings.TrimSpace(in.Reference),
		Subject:           in.Subject,
		Message:           in.Message,
		AccessToken:       entity.NewAccessToken(),
		State:             state,
		Reminder:          in.Reminder,
		LastReminder:      entity.DateOf(now),
		EncryptionPending: in.EncryptionPending,
		CCEmails:          in.CCEmails,
		Active:            true,
		CreatedBy:         actor.UserID,
		CreatedAt:         now,
	}
	if req.Subject == "" {
		req.Subject = fmt.Sprintf("Signature request - %s", req.Reference)
	}
	if in.Validity != nil {
		v := entity.DateOf(*in.Validity)
		req.Validity = &v
	} else {
		v := req.DefaultValidity()
		req.Validity = &v
	}

	var items []*entity.SignRequestItem
	err := u.runner.Run(ctx, func(ctx context.Context) error {
		if err := u.requests.Create(ctx, req); err != nil {
			return err
		}
		for _, s := range in.Signers {
			item := &entity.SignRequestItem{
				RequestID:   req.ID,
				PartnerID:   s.PartnerID,
				SignerName:  s.Name,
				SignerEmail: s.Email,
				Role:        s.Role,
				AccessToken: entity.NewAccessToken(),
				State:       entity.ItemStateSent,
			}
			if err := u.items.Create(ctx, item); err != nil {
				return err
			}
			items = append(items, item)
		}
		if _, err := u.audit.Record(ctx, entity.LogActionCreate, req, nil, actor); err != nil {
			return err
		}
		if req.State == entity.RequestStateSent {
			u.sendAccessMailsAfterCommit(ctx, req.ID, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.logger.Info("Sign request created",
		zap.Int64("request_id", req.ID),
		zap.String("reference", req.Reference),
		zap.String("state", string(req.State)),
		zap.Int("signers", len(items)),
	)
	return u.detail(req, items), nil
}

func (u *signRequestUsecase) sendAccessMailsAfterCommit(ctx context.Context, requestID int64, itemIDs []int64) {
	afterCommit(ctx, func(ctx context.Context) {
		if _, err := u.notifications.SendAccessMails(ctx, requestID, itemIDs, entity.MailTemplateAccess); err != nil {
			u.logger.Error("Failed to send access mails",
				zap.Int64("request_id", requestID),
				zap.Error(err),
			)
		}
	})
}

func (u *signRequestUsecase) detail(req *entity.SignRequest, items []*entity.SignRequestItem) *SignRequestDetail {
	d := &SignRequestDetail{
		Request: req,
		Items:   items,
		Stats:   entity.ComputeStats(items),
	}
	if req.State == entity.RequestStateShared {
		d.ShareLink = fmt.Sprintf("%s/sign/document/%d/%s",
			strings.TrimRight(u.config.App.BaseURL, "/"), req.ID, req.AccessToken.Reveal())
	}
	return d
}

func (u *signRequestUsecase) Get(ctx context.Context, id int64) (*SignRequestDetail, error) {
	req, err := u.requests.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := u.items.ListByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.detail(req, items), nil
}

func (u *signRequestUsecase) Send(ctx context.Context, id int64, actor entity.ActorContext) (*SignRequestDetail, error) {
	err := u.runner.WithRequest(ctx, id, func(ctx context.Context, req *entity.SignRequest) error {
		if err := req.TransitionTo(entity.RequestStateSent); err != nil {
			return err
		}
		items, err := u.items.ListByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if !anyPending(items) {
			return entity.NewStateConflictError("sign request %d has no signer left to send to", req.ID)
		}
		req.LastReminder = entity.DateOf(u.clock.Now())
		if err := u.requests.Update(ctx, req); err != nil {
			return err
		}
		if _, err := u.audit.Record(ctx, entity.LogActionUpdate, req, nil, actor); err != nil {
			return err
		}
		u.sendAccessMailsAfterCommit(ctx, req.ID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u.Get(ctx, id)
}

func (u *signRequestUsecase) HandleItemEvent(ctx context.Context, ev entity.ItemEvent) error {
	req, err := u.requests.FindByID(ctx, ev.RequestID)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case entity.ItemEventRefused:
		return u.refuse(ctx, req, ev)
	case entity.ItemEventCompleted, entity.ItemEventCanceled:
		if req.State != entity.RequestStateSent && req.State != entity.RequestStateShared {
			return nil
		}
		items, err := u.items.ListByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		if ev.Kind == entity.ItemEventCanceled && allCanceled(items) {
			return u.cancel(ctx, req, items, ev.Actor)
		}
		if req.State != entity.RequestStateSent || !entity.AllSigned(items) {
			return nil
		}
		return u.sign(ctx, req, items, ev.Actor)
	default:
		return fmt.Errorf("unknown item event %q", ev.Kind)
	}
}

func anyPending(items []*entity.SignRequestItem) bool {
	for _, item := range items {
		if item.State == entity.ItemStateSent {
			return true
		}
	}
	return false
}

func allCanceled(items []*entity.SignRequestItem) bool {
	for _, item := range items {
		if item.State != entity.ItemStateCanceled {
			return false
		}
	}
	return true
}

// sign completes the request. It is only valid once every non-canceled item is
// completed; completed document delivery runs after the commit.
func (u *signRequestUsecase) sign(ctx context.Context, req *entity.SignRequest, items []*entity.SignRequestItem, actor entity.ActorContext) error {
	if req.State != entity.RequestStateSent || !entity.AllSigned(items) {
		return entity.NewStateConflictError("sign request %d cannot be signed before every signer has completed", req.ID)
	}
	if err := req.TransitionTo(entity.RequestStateSigned); err != nil {
		return err
	}
	now := u.clock.Now()
	req.CompletionDate = &now
	if err := u.requests.Update(ctx, req); err != nil {
		return err
	}
	if _, err := u.audit.Record(ctx, entity.LogActionUpdate, req, nil, actor); err != nil {
		return err
	}

	u.logger.Info("Sign request signed",
		zap.Int64("request_id", req.ID),
		zap.String("reference", req.Reference),
		zap.Bool("encryption_pending", req.EncryptionPending),
	)

	if !req.EncryptionPending {
		u.deliverCompletedAfterCommit(ctx, req.ID)
	}
	return nil
}

func (u *signRequestUsecase) deliverCompletedAfterCommit(ctx context.Context, requestID int64) {
	afterCommit(ctx, func(ctx context.Context) {
		if err := u.notifications.DeliverCompleted(ctx, requestID); err != nil {
			u.logger.Error("Failed to deliver completed document",
				zap.Int64("request_id", requestID),
				zap.Error(err),
			)
		}
	})
}

func (u *signRequestUsecase) refuse(ctx context.Context, req *entity.SignRequest, ev entity.ItemEvent) error {
	if err := req.TransitionTo(entity.RequestStateRefused); err != nil {
		return err
	}
	if err := u.requests.Update(ctx, req); err != nil {
		return err
	}

	actor := ev.Actor
	partnerID := ev.PartnerID
	actor.PartnerID = &partnerID
	if _, err := u.audit.Record(ctx, entity.LogActionRefuse, req, nil, actor); err != nil {
		return err
	}

	u.logger.Info("Sign request refused",
		zap.Int64("request_id", req.ID),
		zap.Int64("item_id", ev.ItemID),
	)

	afterCommit(ctx, func(ctx context.Context) {
		if err := u.notifications.NotifyRefused(ctx, req.ID, ev.ItemID); err != nil {
			u.logger.Error("Failed to send refusal notice",
				zap.Int64("request_id", req.ID),
				zap.Error(err),
			)
		}
	})
	return nil
}

func (u *signRequestUsecase) Cancel(ctx context.Context, id int64, actor entity.ActorContext) error {
	return u.runner.WithRequest(ctx, id, func(ctx context.Context, req *entity.SignRequest) error {
		items, err := u.items.ListByRequest(ctx, id)
		if err != nil {
			return err
		}
		return u.cancel(ctx, req, items, actor)
	})
}

// cancel regenerates the request token, cascades to pending items and writes a single
// request-level cancel entry.
func (u *signRequestUsecase) cancel(ctx context.Context, req *entity.SignRequest, items []*entity.SignRequestItem, actor entity.ActorContext) error {
	if err := req.Cancel(); err != nil {
		return err
	}
	if err := u.requests.Update(ctx, req); err != nil {
		return err
	}

	for _, item := range items {
		if item.State.IsTerminal() {
			continue
		}
		if err := item.Cancel(true); err != nil {
			return err
		}
		if err := u.items.Update(ctx, item); err != nil {
			return err
		}
	}

	if _, err := u.audit.Record(ctx, entity.LogActionCancel, req, nil, actor); err != nil {
		return err
	}

	u.logger.Info("Sign request canceled", zap.Int64("request_id", req.ID))
	return nil
}

func (u *signRequestUsecase) BulkCancel(ctx context.Context, ids []int64, actor entity.ActorContext) []BulkCancelResult {
	results := make([]BulkCancelResult, 0, len(ids))
	for _, id := range ids {
		res := BulkCancelResult{ID: id}
		if err := u.Cancel(ctx, id, actor); err != nil {
			res.Code = entity.KindOf(err)
			res.Error = err.Error()
			u.logger.Warn("Bulk cancel skipped request",
				zap.Int64("request_id", id),
				zap.Error(err),
			)
		} else {
			res.Canceled = true
		}
		results = append(results, res)
	}
	return results
}

func (u *signRequestUsecase) Archive(ctx context.Context, id int64, actor entity.ActorContext) error {
	return u.runner.WithRequest(ctx, id, func(ctx context.Context, req *entity.SignRequest) error {
		if !req.Active {
			return nil
		}
		req.Active = false
		if err := u.requests.Update(ctx, req); err != nil {
			return err
		}
		_, err := u.audit.Record(ctx, entity.LogActionUpdate, req, nil, actor)
		return err
	})
}

func (u *signRequestUsecase) MarkDecrypted(ctx context.Context, id int64, actor entity.ActorContext) error {
	return u.runner.WithRequest(ctx, id, func(ctx context.Context, req *entity.SignRequest) error {
		if !req.EncryptionPending {
			return nil
		}
		req.EncryptionPending = false
		if err := u.requests.Update(ctx, req); err != nil {
			return err
		}
		if _, err := u.audit.Record(ctx, entity.LogActionUpdate, req, nil, actor); err != nil {
			return err
		}
		if req.State == entity.RequestStateSigned {
			u.deliverCompletedAfterCommit(ctx, req.ID)
		}
		return nil
	})
}

func (u *signRequestUsecase) PartnerSignatures(ctx context.Context, partnerID int64) (*PartnerSignatures, error) {
	items, err := u.items.ListByPartner(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	out := &PartnerSignatures{PartnerID: partnerID}
	seen := make(map[int64]bool)
	var ids []int64
	for _, item := range items {
		if item.State == entity.ItemStateSent || item.State == entity.ItemStateCompleted {
			out.SignatureCount++
		}
		if !seen[item.RequestID] {
			seen[item.RequestID] = true
			ids = append(ids, item.RequestID)
		}
	}

	out.Requests, err = u.requests.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return out, nil
}
