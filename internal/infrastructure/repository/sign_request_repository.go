package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/database"
)

const signRequestColumns = `id, reference, subject, message, access_token, state, validity, reminder,
	last_reminder, completed_document, completion_date, encryption_pending, cc_emails, active,
	created_by, created_at, updated_at`

type signRequestRepository struct {
	db     *database.Database
	logger *zap.Logger
}

func NewSignRequestRepository(db *database.Database, logger *zap.Logger) repository.SignRequestRepository {
	return &signRequestRepository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignRequest(row rowScanner) (*entity.SignRequest, error) {
	var req entity.SignRequest
	var token string
	var validity, completionDate sql.NullTime
	var createdBy sql.NullInt64

	err := row.Scan(
		&req.ID,
		&req.Reference,
		&req.Subject,
		&req.Message,
		&token,
		&req.State,
		&validity,
		&req.Reminder,
		&req.LastReminder,
		&req.CompletedDocument,
		&completionDate,
		&req.EncryptionPending,
		pq.Array(&req.CCEmails),
		&req.Active,
		&createdBy,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.AccessToken = entity.AccessToken(token)
	if validity.Valid {
		v := validity.Time
		req.Validity = &v
	}
	if completionDate.Valid {
		d := completionDate.Time
		req.CompletionDate = &d
	}
	if createdBy.Valid {
		id := createdBy.Int64
		req.CreatedBy = &id
	}
	return &req, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (r *signRequestRepository) Create(ctx context.Context, req *entity.SignRequest) error {
	query := `
		INSERT INTO sign_requests (reference, subject, message, access_token, state, validity, reminder,
			last_reminder, completed_document, completion_date, encryption_pending, cc_emails, active,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id
	`

	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	req.UpdatedAt = req.CreatedAt

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		req.Reference,
		req.Subject,
		req.Message,
		req.AccessToken.Reveal(),
		req.State,
		nullTime(req.Validity),
		req.Reminder,
		req.LastReminder,
		req.CompletedDocument,
		nullTime(req.CompletionDate),
		req.EncryptionPending,
		pq.Array(req.CCEmails),
		req.Active,
		nullInt64(req.CreatedBy),
		req.CreatedAt,
	).Scan(&req.ID)
	if err != nil {
		r.logger.Error("Failed to create sign request",
			zap.String("reference", req.Reference),
			zap.Error(err),
		)
		return fmt.Errorf("failed to create sign request: %w", err)
	}

	return nil
}

func (r *signRequestRepository) FindByID(ctx context.Context, id int64) (*entity.SignRequest, error) {
	query := `SELECT ` + signRequestColumns + ` FROM sign_requests WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *signRequestRepository) LockByID(ctx context.Context, id int64) (*entity.SignRequest, error) {
	if !database.InTx(ctx) {
		return nil, fmt.Errorf("lock sign request %d: no transaction in context", id)
	}
	query := `SELECT ` + signRequestColumns + ` FROM sign_requests WHERE id = $1 FOR UPDATE`
	return r.findOne(ctx, query, id)
}

func (r *signRequestRepository) findOne(ctx context.Context, query string, id int64) (*entity.SignRequest, error) {
	req, err := scanSignRequest(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NewNotFoundError("sign request %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sign request %d: %w", id, err)
	}
	return req, nil
}

func (r *signRequestRepository) Update(ctx context.Context, req *entity.SignRequest) error {
	query := `
		UPDATE sign_requests SET
			reference = $2, subject = $3, message = $4, access_token = $5, state = $6, validity = $7,
			reminder = $8, last_reminder = $9, completed_document = $10, completion_date = $11,
			encryption_pending = $12, cc_emails = $13, active = $14, updated_at = $15
		WHERE id = $1
	`

	req.UpdatedAt = time.Now()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		req.ID,
		req.Reference,
		req.Subject,
		req.Message,
		req.AccessToken.Reveal(),
		req.State,
		nullTime(req.Validity),
		req.Reminder,
		req.LastReminder,
		req.CompletedDocument,
		nullTime(req.CompletionDate),
		req.EncryptionPending,
		pq.Array(req.CCEmails),
		req.Active,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update sign request %d: %w", req.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return entity.NewNotFoundError("sign request %d not found", req.ID)
	}
	return nil
}

func (r *signRequestRepository) ListIDsByState(ctx context.Context, state entity.RequestState) ([]int64, error) {
	query := `SELECT id FROM sign_requests WHERE state = $1 AND active ORDER BY id`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign requests by state: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sign request id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *signRequestRepository) ListByIDs(ctx context.Context, ids []int64) ([]*entity.SignRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + signRequestColumns + ` FROM sign_requests WHERE id = ANY($1) ORDER BY id`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list sign requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.SignRequest
	for rows.Next() {
		req, err := scanSignRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sign request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
