package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
)

type Database struct {
	DB     *sql.DB
	logger *zap.Logger
}

// Executor is the query surface shared by *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txKey struct{}

func NewDatabase(cfg *config.Config, logger *zap.Logger) (*Database, error) {
	// Build PostgreSQL connection string
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.SSLMode,
	)

	db, err := sql.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connected successfully",
		zap.String("driver", cfg.Database.Driver),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("dbname", cfg.Database.DBName),
	)

	database := &Database{
		DB:     db,
		logger: logger,
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}

// Executor returns the transaction stored in ctx, or the pool when there is none
func (d *Database) Executor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return d.DB
}

// InTx reports whether ctx carries an open transaction
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

// WithinTx runs fn in a transaction. When ctx already carries one, fn joins it and the
// outermost caller commits.
func (d *Database) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Database) migrate() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"sign_requests", `
		CREATE TABLE IF NOT EXISTS sign_requests (
			id BIGSERIAL PRIMARY KEY,
			reference VARCHAR(255) NOT NULL,
			subject VARCHAR(255) NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			access_token VARCHAR(64) NOT NULL,
			state VARCHAR(20) NOT NULL,
			validity DATE,
			reminder INTEGER NOT NULL DEFAULT 0,
			last_reminder DATE NOT NULL DEFAULT CURRENT_DATE,
			completed_document TEXT NOT NULL DEFAULT '',
			completion_date TIMESTAMPTZ,
			encryption_pending BOOLEAN NOT NULL DEFAULT FALSE,
			cc_emails TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_by BIGINT,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		`},
		{"sign_request_items", `
		CREATE TABLE IF NOT EXISTS sign_request_items (
			id BIGSERIAL PRIMARY KEY,
			sign_request_id BIGINT NOT NULL REFERENCES sign_requests(id) ON DELETE CASCADE,
			partner_id BIGINT NOT NULL,
			signer_name VARCHAR(255) NOT NULL DEFAULT '',
			signer_email VARCHAR(255) NOT NULL,
			role VARCHAR(100) NOT NULL,
			access_token VARCHAR(64) NOT NULL,
			access_via_link BOOLEAN NOT NULL DEFAULT FALSE,
			state VARCHAR(20) NOT NULL,
			signing_date TIMESTAMPTZ,
			signature_ref TEXT NOT NULL DEFAULT '',
			refusal_reason TEXT NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_mail_sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
		`},
		{"sign_logs", `
		CREATE TABLE IF NOT EXISTS sign_logs (
			id BIGSERIAL PRIMARY KEY,
			date TIMESTAMPTZ NOT NULL,
			sign_request_id BIGINT NOT NULL REFERENCES sign_requests(id) ON DELETE CASCADE,
			sign_request_item_id BIGINT REFERENCES sign_request_items(id),
			user_id BIGINT,
			partner_id BIGINT,
			ip VARCHAR(64) NOT NULL DEFAULT '',
			latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			action VARCHAR(20) NOT NULL,
			request_state VARCHAR(20) NOT NULL,
			token VARCHAR(64) NOT NULL DEFAULT '',
			log_hash VARCHAR(64) NOT NULL
		);
		`},
		{"mail_deliveries", `
		CREATE TABLE IF NOT EXISTS mail_deliveries (
			id BIGSERIAL PRIMARY KEY,
			message_id VARCHAR(64) NOT NULL,
			sign_request_id BIGINT NOT NULL REFERENCES sign_requests(id) ON DELETE CASCADE,
			sign_request_item_id BIGINT,
			template VARCHAR(40) NOT NULL,
			recipients TEXT[] NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL,
			provider_message_id VARCHAR(255) NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			attempt INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		`},
		{"idx_sign_requests_state", `CREATE INDEX IF NOT EXISTS idx_sign_requests_state ON sign_requests(state) WHERE active;`},
		{"idx_sign_request_items_request", `CREATE INDEX IF NOT EXISTS idx_sign_request_items_request ON sign_request_items(sign_request_id);`},
		{"idx_sign_request_items_partner", `CREATE INDEX IF NOT EXISTS idx_sign_request_items_partner ON sign_request_items(partner_id);`},
		{"idx_sign_logs_chain", `CREATE INDEX IF NOT EXISTS idx_sign_logs_chain ON sign_logs(sign_request_id, date, id);`},
		{"idx_mail_deliveries_request", `CREATE INDEX IF NOT EXISTS idx_mail_deliveries_request ON mail_deliveries(sign_request_id, created_at);`},
	}

	for _, stmt := range statements {
		if _, err := d.DB.Exec(stmt.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}
