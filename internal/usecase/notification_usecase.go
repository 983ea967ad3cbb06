package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/certificate"
	"sign-vrtl/internal/infrastructure/document"
	"sign-vrtl/internal/infrastructure/mailer"
)

type NotificationUsecase interface {
	// SendAccessMails sends signing links to the request's pending signers, limited to
	// itemIDs when given, and returns how many were accepted by the mailer.
	SendAccessMails(ctx context.Context, requestID int64, itemIDs []int64, template entity.MailTemplate) (int, error)

	// DeliverCompleted renders the completed document once and mails it to every signer
	DeliverCompleted(ctx context.Context, requestID int64) error

	NotifyRefused(ctx context.Context, requestID, refusedItemID int64) error

	// RetryFailed resends queued messages that are still relevant
	RetryFailed(ctx context.Context) (*RetryResult, error)

	Deliveries(ctx context.Context, requestID int64) ([]*entity.MailDelivery, error)
}

type RetryResult struct {
	Sent      int `json:"sent"`
	Requeued  int `json:"requeued"`
	Dropped   int `json:"dropped"`
	Abandoned int `json:"abandoned"`
}

type notificationUsecase struct {
	config     *config.Config
	requests   repository.SignRequestRepository
	items      repository.SignRequestItemRepository
	logs       repository.SignLogRepository
	deliveries repository.MailDeliveryRepository
	runner     *TxRunner
	mailer     mailer.Mailer
	queue      mailer.RetryQueue
	store      document.AttachmentStore
	renderer   certificate.Renderer
	links      LinkSigner
	clock      Clock
	logger     *zap.Logger
}

func NewNotificationUsecase(
	cfg *config.Config,
	requests repository.SignRequestRepository,
	items repository.SignRequestItemRepository,
	logs repository.SignLogRepository,
	deliveries repository.MailDeliveryRepository,
	runner *TxRunner,
	m mailer.Mailer,
	queue mailer.RetryQueue,
	store document.AttachmentStore,
	renderer certificate.Renderer,
	links LinkSigner,
	clock Clock,
	logger *zap.Logger,
) NotificationUsecase {
	return &notificationUsecase{
		config:     cfg,
		requests:   requests,
		items:      items,
		logs:       logs,
		deliveries: deliveries,
		runner:     runner,
		mailer:     m,
		queue:      queue,
		store:      store,
		renderer:   renderer,
		links:      links,
		clock:      clock,
		logger:     logger,
	}
}

func (u *notificationUsecase) baseURL() string {
	return strings.TrimRight(u.config.App.BaseURL, "/")
}

func (u *notificationUsecase) newMessage(template entity.MailTemplate, req *entity.SignRequest, subject string) *entity.MailMessage {
	return &entity.MailMessage{
		ID:        uuid.NewString(),
		Template:  template,
		Subject:   subject,
		RequestID: req.ID,
		Context: map[string]interface{}{
			"reference": req.Reference,
			"subject":   req.Subject,
		},
		CreatedAt: u.clock.Now(),
	}
}

func (u *notificationUsecase) accessMessage(req *entity.SignRequest, item *entity.SignRequestItem, template entity.MailTemplate) *entity.MailMessage {
	timestamp, signature := u.links.Sign(item.ID, req.LinkExpiry())
	link := fmt.Sprintf("%s/sign/document/mail/%d/%s?timestamp=%s&exp=%s",
		u.baseURL(), req.ID, item.AccessToken.Reveal(), timestamp, signature)

	msg := u.newMessage(template, req, fmt.Sprintf("Signature request - %s", req.Reference))
	itemID := item.ID
	msg.ItemID = &itemID
	msg.To = []string{item.SignerEmail}
	msg.Context["signer_name"] = item.SignerName
	msg.Context["message"] = req.Message
	msg.Context["link"] = link
	msg.Context["reminder"] = template == entity.MailTemplateReminder
	if !req.HasDefaultValidity() {
		msg.Context["validity"] = req.Validity.Format("2006-01-02")
	}
	return msg
}

// dispatch sends msg and queues it for retry on failure. It reports whether the
// mailer accepted the message.
func (u *notificationUsecase) dispatch(ctx context.Context, msg *entity.MailMessage) bool {
	handle, err := u.mailer.Send(ctx, msg)
	u.recordSend(ctx, msg, handle, err)
	if err == nil {
		u.logger.Info("Notification sent",
			zap.Int64("request_id", msg.RequestID),
			zap.String("template", string(msg.Template)),
			zap.String("provider_message_id", handle.MessageID),
		)
		return true
	}

	msg.Attempts++
	u.logger.Warn("Notification failed, queued for retry",
		zap.Int64("request_id", msg.RequestID),
		zap.String("template", string(msg.Template)),
		zap.Int("attempts", msg.Attempts),
		zap.Error(err),
	)
	if qErr := u.queue.Push(ctx, msg); qErr != nil {
		u.logger.Error("Failed to queue notification",
			zap.Int64("request_id", msg.RequestID),
			zap.String("message_id", msg.ID),
			zap.Error(qErr),
		)
	}
	return false
}

func (u *notificationUsecase) SendAccessMails(ctx context.Context, requestID int64, itemIDs []int64, template entity.MailTemplate) (int, error) {
	req, err := u.requests.FindByID(ctx, requestID)
	if err != nil {
		return 0, err
	}
	if req.State != entity.RequestStateSent {
		return 0, nil
	}

	items, err := u.items.ListByRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}

	wanted := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		wanted[id] = true
	}

	var delivered []int64
	for _, item := range items {
		if item.State != entity.ItemStateSent || (len(wanted) > 0 && !wanted[item.ID]) {
			continue
		}
		if u.dispatch(ctx, u.accessMessage(req, item, template)) {
			delivered = append(delivered, item.ID)
		}
	}

	if err := u.markMailSent(ctx, requestID, delivered); err != nil {
		u.logger.Error("Failed to flag delivered access mails",
			zap.Int64("request_id", requestID),
			zap.Error(err),
		)
	}
	return len(delivered), nil
}

func (u *notificationUsecase) markMailSent(ctx context.Context, requestID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return u.runner.WithRequest(ctx, requestID, func(ctx context.Context, req *entity.SignRequest) error {
		for _, id := range itemIDs {
			item, err := u.items.FindByID(ctx, id)
			if err != nil {
				return err
			}
			if item.IsMailSent {
				continue
			}
			item.IsMailSent = true
			if err := u.items.Update(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (u *notificationUsecase) DeliverCompleted(ctx context.Context, requestID int64) error {
	req, err := u.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req.State != entity.RequestStateSigned {
		return entity.NewStateConflictError("sign request %d is %s, not signed", requestID, req.State)
	}
	if req.EncryptionPending {
		u.logger.Info("Completed document delivery deferred until decryption",
			zap.Int64("request_id", requestID),
		)
		return nil
	}

	items, err := u.items.ListByRequest(ctx, requestID)
	if err != nil {
		return err
	}

	ref, err := u.completedDocument(ctx, req, items)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/sign/document/%d/%s", u.baseURL(), req.ID, req.AccessToken.Reveal())
	for _, item := range items {
		if item.State == entity.ItemStateCanceled {
			continue
		}
		msg := u.newMessage(entity.MailTemplateCompleted, req, fmt.Sprintf("%s has been signed", req.Reference))
		itemID := item.ID
		msg.ItemID = &itemID
		msg.To = []string{item.SignerEmail}
		msg.CC = req.CCEmails
		msg.Attachments = []string{ref}
		msg.Context["signer_name"] = item.SignerName
		msg.Context["link"] = link
		u.dispatch(ctx, msg)
	}
	return nil
}

// completedDocument renders and stores the certificate unless the request already has one
func (u *notificationUsecase) completedDocument(ctx context.Context, req *entity.SignRequest, items []*entity.SignRequestItem) (string, error) {
	if req.CompletedDocument != "" {
		return req.CompletedDocument, nil
	}

	logs, err := u.logs.ListByRequest(ctx, req.ID)
	if err != nil {
		return "", err
	}
	pdf, err := u.renderer.Render(req, items, logs)
	if err != nil {
		return "", err
	}
	ref, err := u.store.Store(ctx, document.KindCompleted, req.Reference+".pdf", "application/pdf", pdf)
	if err != nil {
		return "", fmt.Errorf("failed to store completed document: %w", err)
	}

	err = u.runner.WithRequest(ctx, req.ID, func(ctx context.Context, locked *entity.SignRequest) error {
		if locked.CompletedDocument != "" {
			ref = locked.CompletedDocument
			return nil
		}
		locked.CompletedDocument = ref
		return u.requests.Update(ctx, locked)
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (u *notificationUsecase) NotifyRefused(ctx context.Context, requestID, refusedItemID int64) error {
	req, err := u.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	items, err := u.items.ListByRequest(ctx, requestID)
	if err != nil {
		return err
	}

	var refuser *entity.SignRequestItem
	var recipients []string
	for _, item := range items {
		switch {
		case item.ID == refusedItemID:
			refuser = item
		case item.State != entity.ItemStateCanceled:
			recipients = append(recipients, item.SignerEmail)
		}
	}
	if len(recipients) == 0 && len(req.CCEmails) == 0 {
		return nil
	}

	msg := u.newMessage(entity.MailTemplateRefused, req, fmt.Sprintf("%s has been refused", req.Reference))
	msg.To = recipients
	msg.CC = req.CCEmails
	if refuser != nil {
		msg.Context["refused_by"] = refuser.SignerName
		msg.Context["reason"] = refuser.RefusalReason
	}
	u.dispatch(ctx, msg)
	return nil
}

func (u *notificationUsecase) RetryFailed(ctx context.Context) (*RetryResult, error) {
	batch := u.config.Sign.RetryBatch
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := u.config.Sign.MaxMailAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	msgs, err := u.queue.Pop(ctx, batch)
	if err != nil {
		return nil, err
	}

	result := &RetryResult{}
	for _, msg := range msgs {
		if !u.stillRelevant(ctx, msg) {
			result.Dropped++
			u.record(ctx, msg, entity.DeliveryStatusDropped, "", nil)
			continue
		}

		handle, err := u.mailer.Send(ctx, msg)
		u.recordSend(ctx, msg, handle, err)
		if err == nil {
			result.Sent++
			if msg.ItemID != nil && (msg.Template == entity.MailTemplateAccess || msg.Template == entity.MailTemplateReminder) {
				if err := u.markMailSent(ctx, msg.RequestID, []int64{*msg.ItemID}); err != nil {
					u.logger.Error("Failed to flag delivered access mail", zap.Error(err))
				}
			}
			continue
		}

		msg.Attempts++
		if msg.Attempts >= maxAttempts {
			result.Abandoned++
			u.record(ctx, msg, entity.DeliveryStatusAbandoned, "", nil)
			u.logger.Error("Notification abandoned",
				zap.Int64("request_id", msg.RequestID),
				zap.String("message_id", msg.ID),
				zap.Int("attempts", msg.Attempts),
			)
			continue
		}
		if err := u.queue.Push(ctx, msg); err != nil {
			return result, err
		}
		result.Requeued++
	}

	if len(msgs) > 0 {
		u.logger.Info("Notification retry finished",
			zap.Int("sent", result.Sent),
			zap.Int("requeued", result.Requeued),
			zap.Int("dropped", result.Dropped),
			zap.Int("abandoned", result.Abandoned),
		)
	}
	return result, nil
}

// stillRelevant drops queued mail whose request or signer moved on, such as access
// links for a canceled request or an item whose email was changed.
func (u *notificationUsecase) stillRelevant(ctx context.Context, msg *entity.MailMessage) bool {
	req, err := u.requests.FindByID(ctx, msg.RequestID)
	if err != nil {
		return false
	}

	switch msg.Template {
	case entity.MailTemplateAccess, entity.MailTemplateReminder:
		if req.State != entity.RequestStateSent || msg.ItemID == nil {
			return false
		}
		item, err := u.items.FindByID(ctx, *msg.ItemID)
		if err != nil || item.State != entity.ItemStateSent {
			return false
		}
		return len(msg.To) == 1 && msg.To[0] == item.SignerEmail
	case entity.MailTemplateCompleted:
		return req.State == entity.RequestStateSigned
	case entity.MailTemplateRefused:
		return req.State == entity.RequestStateRefused
	}
	return false
}

func (u *notificationUsecase) Deliveries(ctx context.Context, requestID int64) ([]*entity.MailDelivery, error) {
	if _, err := u.requests.FindByID(ctx, requestID); err != nil {
		return nil, err
	}
	return u.deliveries.ListByRequest(ctx, requestID)
}

func (u *notificationUsecase) recordSend(ctx context.Context, msg *entity.MailMessage, handle *entity.DeliveryHandle, err error) {
	if err != nil {
		u.record(ctx, msg, entity.DeliveryStatusFailed, "", err)
		return
	}
	var providerID string
	if handle != nil {
		providerID = handle.MessageID
	}
	u.record(ctx, msg, entity.DeliveryStatusSent, providerID, nil)
}

// record keeps the dispatch history. Failing to write it never fails the send.
func (u *notificationUsecase) record(ctx context.Context, msg *entity.MailMessage, status entity.DeliveryStatus, providerID string, sendErr error) {
	delivery := &entity.MailDelivery{
		MessageID:         msg.ID,
		RequestID:         msg.RequestID,
		ItemID:            msg.ItemID,
		Template:          msg.Template,
		Recipients:        append(append([]string{}, msg.To...), msg.CC...),
		Status:            status,
		ProviderMessageID: providerID,
		Attempt:           msg.Attempts + 1,
		CreatedAt:         u.clock.Now(),
	}
	if status == entity.DeliveryStatusAbandoned {
		delivery.Attempt = msg.Attempts
	}
	if sendErr != nil {
		delivery.Error = sendErr.Error()
	}
	if err := u.deliveries.Save(ctx, delivery); err != nil {
		u.logger.Warn("Failed to record notification delivery",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}
