package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/schooleats/orderflow/internal/domain/reservation"
)

type ReservationRepository struct {
	db *sql.DB
}

func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	itemsJSON, err := json.Marshal(res.Items)
	if err != nil {
		return fmt.Errorf("reservation repository: marshal items: %w", err)
	}

	query := `INSERT INTO reservations (order_id, items, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO UPDATE SET
			items = EXCLUDED.items, status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		res.OrderID, itemsJSON, res.Status, res.ExpiresAt, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("reservation repository: insert: %w", err)
	}
	return nil
}

func (r *ReservationRepository) Get(ctx context.Context, orderID string) (*domain.Reservation, error) {
	query := `SELECT order_id, items, status, expires_at, created_at, updated_at
		FROM reservations WHERE order_id = $1`

	var res domain.Reservation
	var itemsJSON []byte
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&res.OrderID, &itemsJSON, &res.Status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reservation repository: scan: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &res.Items); err != nil {
		return nil, fmt.Errorf("reservation repository: unmarshal items: %w", err)
	}
	return &res, nil
}

func (r *ReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	query := `UPDATE reservations SET status = $2, updated_at = $3 WHERE order_id = $1`

	result, err := r.db.ExecContext(ctx, query, res.OrderID, res.Status, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("reservation repository: update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reservation repository: update: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ReservationRepository) ListHeldExpiredBefore(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	query := `SELECT order_id, items, status, expires_at, created_at, updated_at
		FROM reservations WHERE status = $1 AND expires_at <= $2`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusHeld, now)
	if err != nil {
		return nil, fmt.Errorf("reservation repository: list expired: %w", err)
	}
	defer rows.Close()

	var lapsed []*domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		var itemsJSON []byte
		if err := rows.Scan(&res.OrderID, &itemsJSON, &res.Status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reservation repository: scan: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &res.Items); err != nil {
			return nil, fmt.Errorf("reservation repository: unmarshal items: %w", err)
		}
		lapsed = append(lapsed, &res)
	}
	return lapsed, rows.Err()
}
