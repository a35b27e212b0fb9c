package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domain "github.com/schooleats/orderflow/internal/domain/order"

	"github.com/lib/pq"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, student_id, school_id, items, total_amount, currency, payment_method,
	delivery_at, status, failure_reason, created_at, updated_at,
	confirmed_at, preparing_at, ready_at, out_for_delivery_at, delivered_at, cancelled_at, refunded_at`

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("order repository: marshal items: %w", err)
	}

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err = r.db.ExecContext(ctx, query,
		o.ID, o.StudentID, o.SchoolID, itemsJSON, o.TotalAmount, o.Currency, o.PaymentMethod,
		o.DeliveryAt, o.Status, o.FailureReason, o.CreatedAt, o.UpdatedAt,
		o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.OutForDeliveryAt, o.DeliveredAt, o.CancelledAt, o.RefundedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.ErrConflict
		}
		return fmt.Errorf("order repository: insert: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.db.QueryRowContext(ctx, query, id))
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("order repository: marshal items: %w", err)
	}

	query := `UPDATE orders SET
		items = $2, total_amount = $3, status = $4, failure_reason = $5, updated_at = $6,
		confirmed_at = $7, preparing_at = $8, ready_at = $9, out_for_delivery_at = $10,
		delivered_at = $11, cancelled_at = $12, refunded_at = $13
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		o.ID, itemsJSON, o.TotalAmount, o.Status, o.FailureReason, o.UpdatedAt,
		o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.OutForDeliveryAt,
		o.DeliveredAt, o.CancelledAt, o.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("order repository: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("order repository: update: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var itemsJSON []byte

	err := row.Scan(
		&o.ID, &o.StudentID, &o.SchoolID, &itemsJSON, &o.TotalAmount, &o.Currency, &o.PaymentMethod,
		&o.DeliveryAt, &o.Status, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt,
		&o.ConfirmedAt, &o.PreparingAt, &o.ReadyAt, &o.OutForDeliveryAt, &o.DeliveredAt, &o.CancelledAt, &o.RefundedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order repository: scan: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("order repository: unmarshal items: %w", err)
	}
	return &o, nil
}
