package txndb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stockpay/internal/txn"
)

// PostgresAuditLog persists workflow milestones in Postgres.
type PostgresAuditLog struct {
	db *sql.DB
}

// NewPostgresAuditLog constructs an AuditSink backed by Postgres.
func NewPostgresAuditLog(db *sql.DB) *PostgresAuditLog {
	return &PostgresAuditLog{db: db}
}

// NewPostgresAuditLogWithSchema initializes the schema then returns the sink.
func NewPostgresAuditLogWithSchema(ctx context.Context, db *sql.DB) (*PostgresAuditLog, error) {
	sink := NewPostgresAuditLog(db)
	if err := sink.InitSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// InitSchema creates the audit_logs table if it does not exist.
func (a *PostgresAuditLog) InitSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id BIGSERIAL PRIMARY KEY,
			transaction_id TEXT,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Append inserts one audit row.
func (a *PostgresAuditLog) Append(ctx context.Context, entry txn.AuditEntry) error {
	var details any
	if entry.Details != nil {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = raw
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_logs (transaction_id, action, actor, details, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5)`,
		entry.TransactionID, entry.Action, entry.Actor, details, entry.At,
	)
	return err
}

// PostgresIntegrationLog persists outbound-call attempts in Postgres.
type PostgresIntegrationLog struct {
	db *sql.DB
}

// NewPostgresIntegrationLog constructs an IntegrationSink backed by Postgres.
func NewPostgresIntegrationLog(db *sql.DB) *PostgresIntegrationLog {
	return &PostgresIntegrationLog{db: db}
}

// NewPostgresIntegrationLogWithSchema initializes the schema then returns
// the sink.
func NewPostgresIntegrationLogWithSchema(ctx context.Context, db *sql.DB) (*PostgresIntegrationLog, error) {
	sink := NewPostgresIntegrationLog(db)
	if err := sink.InitSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// InitSchema creates the integration_logs table if it does not exist.
func (l *PostgresIntegrationLog) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS integration_logs (
			id BIGSERIAL PRIMARY KEY,
			transaction_id TEXT,
			service TEXT NOT NULL,
			status TEXT NOT NULL,
			request JSONB,
			response JSONB,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Append inserts one integration row.
func (l *PostgresIntegrationLog) Append(ctx context.Context, entry txn.IntegrationEntry) error {
	request, err := optionalJSON(entry.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	response, err := optionalJSON(entry.Response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO integration_logs (transaction_id, service, status, request, response, error, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		entry.TransactionID, string(entry.Service), entry.Status, request, response, entry.Error, entry.At,
	)
	return err
}

func optionalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
