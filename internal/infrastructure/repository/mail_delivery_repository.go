package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/database"
)

type mailDeliveryRepository struct {
	db     *database.Database
	logger *zap.Logger
}

// NewMailDeliveryRepository creates a new mail delivery repository
func NewMailDeliveryRepository(db *database.Database, logger *zap.Logger) repository.MailDeliveryRepository {
	return &mailDeliveryRepository{
		db:     db,
		logger: logger,
	}
}

// Save saves a delivery attempt to the database
func (r *mailDeliveryRepository) Save(ctx context.Context, d *entity.MailDelivery) error {
	query := `
		INSERT INTO mail_deliveries (message_id, sign_request_id, sign_request_item_id, template, recipients,
			status, provider_message_id, error, attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	var itemID sql.NullInt64
	if d.ItemID != nil {
		itemID = sql.NullInt64{Int64: *d.ItemID, Valid: true}
	}

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		d.MessageID,
		d.RequestID,
		itemID,
		string(d.Template),
		pq.Array(d.Recipients),
		string(d.Status),
		d.ProviderMessageID,
		d.Error,
		d.Attempt,
		d.CreatedAt,
	).Scan(&d.ID)

	if err != nil {
		r.logger.Error("Failed to save mail delivery",
			zap.String("message_id", d.MessageID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save mail delivery: %w", err)
	}

	return nil
}

func (r *mailDeliveryRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.MailDelivery, error) {
	query := `
		SELECT id, message_id, sign_request_id, sign_request_item_id, template, recipients,
			status, provider_message_id, error, attempt, created_at
		FROM mail_deliveries
		WHERE sign_request_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mail deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*entity.MailDelivery
	for rows.Next() {
		var d entity.MailDelivery
		var itemID sql.NullInt64
		var template, status string
		if err := rows.Scan(
			&d.ID,
			&d.MessageID,
			&d.RequestID,
			&itemID,
			&template,
			pq.Array(&d.Recipients),
			&status,
			&d.ProviderMessageID,
			&d.Error,
			&d.Attempt,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mail delivery: %w", err)
		}
		if itemID.Valid {
			v := itemID.Int64
			d.ItemID = &v
		}
		d.Template = entity.MailTemplate(template)
		d.Status = entity.DeliveryStatus(status)
		d.CreatedAt = d.CreatedAt.UTC()
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}
