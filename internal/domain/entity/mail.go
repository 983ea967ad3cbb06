package entity

import "time"

// MailTemplate names a template registered with the mail provider
type MailTemplate string

const (
	MailTemplateAccess    MailTemplate = "sign_access"
	MailTemplateReminder  MailTemplate = "sign_reminder"
	MailTemplateCompleted MailTemplate = "sign_completed"
	MailTemplateRefused   MailTemplate = "sign_refused"
)

// MailMessage is one outgoing notification. ID doubles as the idempotency key when
// the message is retried.
type MailMessage struct {
	ID          string                 `json:"id"`
	Template    MailTemplate           `json:"template"`
	To          []string               `json:"to"`
	CC          []string               `json:"cc,omitempty"`
	Subject     string                 `json:"subject"`
	Context     map[string]interface{} `json:"context"`
	Attachments []string               `json:"attachments,omitempty"`
	RequestID   int64                  `json:"request_id"`
	ItemID      *int64                 `json:"item_id,omitempty"`
	Attempts    int                    `json:"attempts"`
	CreatedAt   time.Time              `json:"created_at"`
}

// DeliveryHandle identifies a message accepted by the provider
type DeliveryHandle struct {
	MessageID string `json:"message_id"`
	Provider  string `json:"provider"`
}

// DeliveryStatus is the outcome of one dispatch attempt
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusDropped   DeliveryStatus = "dropped"
	DeliveryStatusAbandoned DeliveryStatus = "abandoned"
)

// MailDelivery records a dispatch attempt so failed notifications can be reported
type MailDelivery struct {
	ID                int64          `json:"id"`
	MessageID         string         `json:"message_id"`
	RequestID         int64          `json:"sign_request_id"`
	ItemID            *int64         `json:"sign_request_item_id,omitempty"`
	Template          MailTemplate   `json:"template"`
	Recipients        []string       `json:"recipients"`
	Status            DeliveryStatus `json:"status"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	Attempt           int            `json:"attempt"`
	CreatedAt         time.Time      `json:"created_at"`
}
