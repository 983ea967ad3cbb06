package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/domain/repository"
	"sign-vrtl/internal/infrastructure/database"
)

const signLogColumns = `id, date, sign_request_id, sign_request_item_id, user_id, partner_id, ip, latitude,
	longitude, action, request_state, token, log_hash`

type signLogRepository struct {
	db     *database.Database
	logger *zap.Logger
}

func NewSignLogRepository(db *database.Database, logger *zap.Logger) repository.SignLogRepository {
	return &signLogRepository{
		db:     db,
		logger: logger,
	}
}

func scanSignLog(row rowScanner) (*entity.SignLog, error) {
	var l entity.SignLog
	var itemID, userID, partnerID sql.NullInt64

	err := row.Scan(
		&l.ID,
		&l.Date,
		&l.RequestID,
		&itemID,
		&userID,
		&partnerID,
		&l.IP,
		&l.Latitude,
		&l.Longitude,
		&l.Action,
		&l.RequestState,
		&l.Token,
		&l.LogHash,
	)
	if err != nil {
		return nil, err
	}

	l.Date = l.Date.UTC()
	if itemID.Valid {
		v := itemID.Int64
		l.ItemID = &v
	}
	if userID.Valid {
		v := userID.Int64
		l.UserID = &v
	}
	if partnerID.Valid {
		v := partnerID.Int64
		l.PartnerID = &v
	}
	return &l, nil
}

// AppendChained takes a transaction-scoped advisory lock on the request id, so two
// writers of the same chain never read the same previous hash. Chains of different
// requests do not block each other.
func (r *signLogRepository) AppendChained(ctx context.Context, log *entity.SignLog) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.Executor(ctx)

		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, log.RequestID); err != nil {
			return fmt.Errorf("failed to lock sign log chain: %w", err)
		}

		lastQuery := `SELECT ` + signLogColumns + ` FROM sign_logs
			WHERE sign_request_id = $1 ORDER BY date DESC, id DESC LIMIT 1`
		last, err := scanSignLog(q.QueryRowContext(ctx, lastQuery, log.RequestID))
		if errors.Is(err, sql.ErrNoRows) {
			last = nil
		} else if err != nil {
			return fmt.Errorf("failed to read last sign log: %w", err)
		}

		if err := log.SealAfter(last); err != nil {
			return err
		}

		insert := `
			INSERT INTO sign_logs (date, sign_request_id, sign_request_item_id, user_id, partner_id, ip,
				latitude, longitude, action, request_state, token, log_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`
		err = q.QueryRowContext(ctx, insert,
			log.Date,
			log.RequestID,
			nullInt64(log.ItemID),
			nullInt64(log.UserID),
			nullInt64(log.PartnerID),
			log.IP,
			log.Latitude,
			log.Longitude,
			log.Action,
			log.RequestState,
			log.Token,
			log.LogHash,
		).Scan(&log.ID)
		if err != nil {
			r.logger.Error("Failed to append sign log",
				zap.Int64("request_id", log.RequestID),
				zap.String("action", string(log.Action)),
				zap.Error(err),
			)
			return fmt.Errorf("failed to append sign log: %w", err)
		}
		return nil
	})
}

func (r *signLogRepository) ListByRequest(ctx context.Context, requestID int64) ([]*entity.SignLog, error) {
	query := `SELECT ` + signLogColumns + ` FROM sign_logs WHERE sign_request_id = $1 ORDER BY date, id`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sign logs: %w", err)
	}
	defer rows.Close()

	var logs []*entity.SignLog
	for rows.Next() {
		l, err := scanSignLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sign log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
