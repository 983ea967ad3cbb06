package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/infrastructure/awscloud"
	"sign-vrtl/internal/infrastructure/document"
)

// sesAPI is the subset of the SES v2 client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type attachmentLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type sesMailer struct {
	client sesAPI
	store  document.AttachmentStore
	cfg    *config.MailConfig
	logger *zap.Logger
}

func NewSESMailer(ctx context.Context, cfg *config.Config, store document.AttachmentStore, logger *zap.Logger) (Mailer, error) {
	if cfg.Mail.From == "" {
		return nil, fmt.Errorf("mail.from is required for the ses provider")
	}
	awsCfg, err := awscloud.LoadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSESMailer(sesv2.NewFromConfig(awsCfg), store, &cfg.Mail, logger), nil
}

func newSESMailer(client sesAPI, store document.AttachmentStore, cfg *config.MailConfig, logger *zap.Logger) *sesMailer {
	return &sesMailer{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Send uses an SES stored template. Attachments travel as presigned links in the
// template data since templated sends cannot carry MIME parts.
func (m *sesMailer) Send(ctx context.Context, msg *entity.MailMessage) (*entity.DeliveryHandle, error) {
	data := make(map[string]interface{}, len(msg.Context)+2)
	for k, v := range msg.Context {
		data[k] = v
	}
	data["subject"] = msg.Subject

	var links []attachmentLink
	for _, ref := range msg.Attachments {
		url, err := m.store.URL(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve attachment link: %w", err)
		}
		if url != "" {
			links = append(links, attachmentLink{Name: "document.pdf", URL: url})
		}
	}
	if len(links) > 0 {
		data["attachments"] = links
	}

	templateData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template data: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.cfg.From),
		Destination: &types.Destination{
			ToAddresses: msg.To,
			CcAddresses: msg.CC,
		},
		Content: &types.EmailContent{
			Template: &types.Template{
				TemplateName: aws.String(m.cfg.TemplateName(string(msg.Template))),
				TemplateData: aws.String(string(templateData)),
			},
		},
	}
	if m.cfg.ReplyTo != "" {
		input.ReplyToAddresses = []string{m.cfg.ReplyTo}
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("Failed to send mail",
			zap.String("message_id", msg.ID),
			zap.String("template", string(msg.Template)),
			zap.Int64("request_id", msg.RequestID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send mail: %w", err)
	}

	handle := &entity.DeliveryHandle{Provider: config.MailProviderSES}
	if out.MessageId != nil {
		handle.MessageID = *out.MessageId
	}
	return handle, nil
}
