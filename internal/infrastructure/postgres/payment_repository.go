package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/schooleats/orderflow/internal/domain/payment"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const attemptColumns = `id, order_id, transaction_id, amount, currency, method, outcome, raw_response, created_at, updated_at`

func (r *PaymentRepository) Insert(ctx context.Context, a *domain.Attempt) error {
	query := `INSERT INTO payment_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.OrderID, a.TransactionID, a.Amount, a.Currency, a.Method, a.Outcome, a.RawResponse, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("payment repository: insert: %w", err)
	}
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, a *domain.Attempt) error {
	query := `UPDATE payment_attempts SET
		transaction_id = $2, outcome = $3, raw_response = $4, updated_at = $5
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, a.ID, a.TransactionID, a.Outcome, a.RawResponse, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payment repository: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment repository: update: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE order_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("payment repository: list: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *PaymentRepository) FindSucceeded(ctx context.Context, orderID string) (*domain.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts
		WHERE order_id = $1 AND outcome IN ($2, $3, $4) LIMIT 1`

	a, err := scanAttempt(r.db.QueryRowContext(ctx, query, orderID,
		domain.OutcomeSucceeded, domain.OutcomeRefunded, domain.OutcomeRefundFailed))
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAttempt(row rowScanner) (*domain.Attempt, error) {
	var a domain.Attempt
	err := row.Scan(
		&a.ID, &a.OrderID, &a.TransactionID, &a.Amount, &a.Currency, &a.Method, &a.Outcome, &a.RawResponse, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment repository: scan: %w", err)
	}
	return &a, nil
}
