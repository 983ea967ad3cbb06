package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/database"
)

const signRequestItemColumns = `id, sign_request_id, partner_id, signer_name, signer_email, role, access_token,
	access_via_link, state, signing_date, signature_ref, refusal_reason, latitude, longitude, is_mail_sent,
	created_at, updated_at`

type signRequestItemRepository struct {
	db     *database.Database
	logger *zap.Logger
}

func NewSignRequestItemRepository(db *database.Database, logger *zap.Logger) repository.SignRequestItemRepository {
	return &signRequestItemRepository{
		db:     db,
		logger: logger,
	}
}

func scanSignRequestItem(row rowScanner) (*entity.SignRequestItem, error) {
	var item entity.SignRequestItem
	var token string
	var signingDate sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.RequestID,
		&item.PartnerID,
		&item.SignerName,
		&item.SignerEmail,
		&item.Role,
		&token,
		&item.AccessViaLink,
		&item.State,
		&signingDate,
		&item.SignatureRef,
		&item.RefusalReason,
		&item.Latitude,
		&item.Longitude,
		&item.IsMailSent,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.AccessToken = entity.AccessToken(token)
	if signingDate.Valid {
		d := signingDate.Time
		item.SigningDate = &d
	}
	return &item, nil
}

func (r *signRequestItemRepository) Create(ctx context.Context, item *entity.SignRequestItem) error {
	query := `
		INSERT INTO sign_request_items (sign_request_id, partner_id, signer_name, signer_email, role,
			access_token, access_via_link, state, signing_date, signature_ref, refusal_reason, latitude,
			longitude, is_mail_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id
	`

	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		item.RequestID,
		item.PartnerID,
		item.SignerName,
		item.SignerEmail,
		item.Role,
		item.AccessToken.Reveal(),
		item.AccessViaLink,
		item.State,
		nullTime(item.SigningDate),
		item.SignatureRef,
		item.RefusalReason,
		item.Latitude,
		item.Longitude,
		item.IsMailSent,
		item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		r.logger.Error("Failed to create sign request item",
			zap.Int64("request_id", item.RequestID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to create sign request item: %w", err)
	}

	return nil
}

func (r *signRequestItemRepository) FindByID(ctx context.Context, id int64) (*entity.SignRequestItem, error) {
	query := `SELECT ` + signRequestItemColumns + ` FROM sign_request_items WHERE id = $1`

	item, err := scanSignRequestItem(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("sign request item %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sign request item %d: %w", id, err)
	}
	return item, nil
}

func (r *signRequestItemRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.SignRequestItem, error) {
	query := `SELECT ` + signRequestItemColumns + ` FROM sign_request_items WHERE sign_request_id = $1 ORDER BY id`
	return r.list(ctx, query, requestID)
}

func (r *signRequestItemRepository) ListByPartner(ctx context.Context, partnerID int64) ([]*entity.SignRequestItem, error) {
	query := `SELECT ` + signRequestItemColumns + ` FROM sign_request_items WHERE partner_id = $1 ORDER BY id`
	return r.list(ctx, query, partnerID)
}

func (r *signRequestItemRepository) list(ctx context.Context, query string, arg interface{}) ([]*entity.SignRequestItem, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign request items: %w", err)
	}
	defer rows.Close()

	var items []*entity.SignRequestItem
	for rows.Next() {
		item, err := scanSignRequestItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sign request item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *signRequestItemRepository) Update(ctx context.Context, item *entity.SignRequestItem) error {
	query := `
		UPDATE sign_request_items SET
			signer_name = $2, signer_email = $3, role = $4, access_token = $5, access_via_link = $6,
			state = $7, signing_date = $8, signature_ref = $9, refusal_reason = $10, latitude = $11,
			longitude = $12, is_mail_sent = $13, updated_at = $14
		WHERE id = $1
	`

	item.UpdatedAt = time.Now()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		item.ID,
		item.SignerName,
		item.SignerEmail,
		item.Role,
		item.AccessToken.Reveal(),
		item.AccessViaLink,
		item.State,
		nullTime(item.SigningDate),
		item.SignatureRef,
		item.RefusalReason,
		item.Latitude,
		item.Longitude,
		item.IsMailSent,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update sign request item %d: %w", item.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return entity.NewNotFoundError("sign request item %d not found", item.ID)
	}
	return nil
}
