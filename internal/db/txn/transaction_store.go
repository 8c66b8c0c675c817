// Package txndb holds the Postgres-backed stores for transactions and
// their audit and integration trails.
package txndb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"stockpay/internal/txn"
)

// PostgresTransactionStore persists transaction records in Postgres.
type PostgresTransactionStore struct {
	db *sql.DB
}

// NewPostgresTransactionStore constructs a TransactionStore backed by Postgres.
func NewPostgresTransactionStore(db *sql.DB) *PostgresTransactionStore {
	return &PostgresTransactionStore{db: db}
}

// NewPostgresTransactionStoreWithSchema initializes the schema then returns
// the store.
func NewPostgresTransactionStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresTransactionStore, error) {
	store := NewPostgresTransactionStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the transactions table if it does not exist.
func (s *PostgresTransactionStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			external_order_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			payment_id TEXT,
			total_cost DOUBLE PRECISION NOT NULL,
			payment_status TEXT NOT NULL,
			payment_method TEXT,
			stock_before JSONB,
			stock_after JSONB,
			source_system TEXT,
			request_payload JSONB NOT NULL,
			response_payload JSONB,
			error_details TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			payment_completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Create inserts a new transaction record. Duplicate business keys are
// rejected rather than overwritten.
func (s *PostgresTransactionStore) Create(ctx context.Context, record *txn.Transaction) error {
	stockBefore, err := jsonColumn(record.StockBefore)
	if err != nil {
		return fmt.Errorf("encode stock_before: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			transaction_id, external_order_id, order_id, payment_id,
			total_cost, payment_status, payment_method, stock_before,
			source_system, request_payload, created_at, updated_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $11)
		ON CONFLICT (transaction_id) DO NOTHING`,
		record.TransactionID, record.ExternalOrderID, record.OrderID, record.PaymentID,
		record.TotalCost, string(record.PaymentStatus), record.PaymentMethod, stockBefore,
		record.SourceSystem, []byte(record.RequestPayload), record.CreatedAt,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("transaction id %s already recorded", record.TransactionID)
	}

	return nil
}

const transactionColumns = `
	transaction_id, external_order_id, order_id, payment_id,
	total_cost, payment_status, payment_method, stock_before, stock_after,
	source_system, request_payload, response_payload, error_details,
	created_at, payment_completed_at, updated_at`

// FindByTransactionID fetches one record by its business key.
func (s *PostgresTransactionStore) FindByTransactionID(ctx context.Context, id string) (*txn.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE transaction_id = $1`,
		id,
	)

	record, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, txn.ErrNotFound
	}
	return record, err
}

// MarkSucceeded flips the record to SUCCESS. The WHERE clause excludes
// records already in SUCCESS so a confirmation that lost a race observes
// ErrAlreadyProcessed instead of rewriting a terminal record.
func (s *PostgresTransactionStore) MarkSucceeded(ctx context.Context, id string, upd txn.SuccessUpdate) error {
	stockAfter, err := jsonColumn(upd.StockAfter)
	if err != nil {
		return fmt.Errorf("encode stock_after: %w", err)
	}
	response, err := jsonColumn(upd.Response)
	if err != nil {
		return fmt.Errorf("encode response_payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = 'SUCCESS',
			payment_method = NULLIF($2, ''),
			payment_id = COALESCE(NULLIF($3, ''), payment_id),
			payment_completed_at = $4,
			stock_after = $5,
			response_payload = $6,
			error_details = NULL,
			updated_at = NOW()
		WHERE transaction_id = $1 AND payment_status <> 'SUCCESS'`,
		id, upd.PaymentMethod, upd.PaymentID, upd.CompletedAt, stockAfter, response,
	)
	if err != nil {
		return err
	}

	return s.checkTransition(ctx, id, res)
}

// MarkFailed records the failure detail while the record is retryable.
func (s *PostgresTransactionStore) MarkFailed(ctx context.Context, id string, errDetails string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET payment_status = 'FAILED',
			error_details = $2,
			updated_at = NOW()
		WHERE transaction_id = $1 AND payment_status <> 'SUCCESS'`,
		id, errDetails,
	)
	if err != nil {
		return err
	}

	return s.checkTransition(ctx, id, res)
}

// checkTransition distinguishes a missing record from one already in
// SUCCESS when a conditional update matched no rows.
func (s *PostgresTransactionStore) checkTransition(ctx context.Context, id string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status string
	row := s.db.QueryRowContext(ctx, `SELECT payment_status FROM transactions WHERE transaction_id = $1`, id)
	switch scanErr := row.Scan(&status); {
	case scanErr == nil:
		if status == string(txn.PaymentSuccess) {
			return txn.ErrAlreadyProcessed
		}
		return fmt.Errorf("transaction %s not updated", id)
	case errors.Is(scanErr, sql.ErrNoRows):
		return txn.ErrNotFound
	default:
		return scanErr
	}
}

// List returns records newest first.
func (s *PostgresTransactionStore) List(ctx context.Context, limit, offset int) ([]*txn.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*txn.Transaction
	for rows.Next() {
		record, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Statistics aggregates counts and totals per payment status.
func (s *PostgresTransactionStore) Statistics(ctx context.Context) (txn.Statistics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_status, COUNT(*), COALESCE(SUM(total_cost), 0)
		FROM transactions
		GROUP BY payment_status`,
	)
	if err != nil {
		return txn.Statistics{}, err
	}
	defer rows.Close()

	stats := txn.Statistics{ByStatus: make(map[txn.PaymentStatus]txn.StatusStats)}
	for rows.Next() {
		var status string
		var entry txn.StatusStats
		if err := rows.Scan(&status, &entry.Count, &entry.TotalCost); err != nil {
			return txn.Statistics{}, err
		}
		stats.ByStatus[txn.PaymentStatus(status)] = entry
		stats.Total += entry.Count
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*txn.Transaction, error) {
	var record txn.Transaction
	var paymentID, paymentMethod, sourceSystem, errDetails sql.NullString
	var stockBefore, stockAfter, responsePayload []byte
	var requestPayload []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&record.TransactionID, &record.ExternalOrderID, &record.OrderID, &paymentID,
		&record.TotalCost, &record.PaymentStatus, &paymentMethod, &stockBefore, &stockAfter,
		&sourceSystem, &requestPayload, &responsePayload, &errDetails,
		&record.CreatedAt, &completedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.PaymentID = paymentID.String
	record.PaymentMethod = paymentMethod.String
	record.SourceSystem = sourceSystem.String
	record.ErrorDetails = errDetails.String
	record.RequestPayload = json.RawMessage(requestPayload)
	if completedAt.Valid {
		record.PaymentCompletedAt = completedAt.Time
	}

	if len(stockBefore) > 0 {
		if err := json.Unmarshal(stockBefore, &record.StockBefore); err != nil {
			return nil, fmt.Errorf("decode stock_before: %w", err)
		}
	}
	if len(stockAfter) > 0 {
		if err := json.Unmarshal(stockAfter, &record.StockAfter); err != nil {
			return nil, fmt.Errorf("decode stock_after: %w", err)
		}
	}
	if len(responsePayload) > 0 {
		if err := json.Unmarshal(responsePayload, &record.ResponsePayload); err != nil {
			return nil, fmt.Errorf("decode response_payload: %w", err)
		}
	}

	return &record, nil
}

// jsonColumn encodes v for a nullable JSONB column, mapping nil to SQL NULL.
func jsonColumn(v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case *txn.ResponseSnapshot:
		if value == nil {
			return nil, nil
		}
	case []txn.StockLevel:
		if value == nil {
			return nil, nil
		}
	case []txn.StockChange:
		if value == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
