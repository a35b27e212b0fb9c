package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/schooleats/orderflow/internal/domain/reservation"
)

// StockRepository keeps the counters in a stock table and makes multi-line
// holds atomic with a single transaction: every row is locked FOR UPDATE,
// every shortfall collected, and nothing is written unless all lines fit.
type StockRepository struct {
	db *sql.DB
}

func NewStockRepository(db *sql.DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) SetAvailable(ctx context.Context, menuItemID string, available int) error {
	query := `INSERT INTO stock (menu_item_id, available) VALUES ($1, $2)
		ON CONFLICT (menu_item_id) DO UPDATE SET available = EXCLUDED.available`
	if _, err := r.db.ExecContext(ctx, query, menuItemID, available); err != nil {
		return fmt.Errorf("stock repository: set available: %w", err)
	}
	return nil
}

func (r *StockRepository) Get(ctx context.Context, menuItemID string) (domain.Stock, error) {
	query := `SELECT menu_item_id, available, held, confirmed FROM stock WHERE menu_item_id = $1`

	var s domain.Stock
	err := r.db.QueryRowContext(ctx, query, menuItemID).Scan(&s.MenuItemID, &s.Available, &s.Held, &s.Confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stock{MenuItemID: menuItemID}, nil
	}
	if err != nil {
		return domain.Stock{}, fmt.Errorf("stock repository: get: %w", err)
	}
	return s, nil
}

func (r *StockRepository) Hold(ctx context.Context, lines []domain.Line) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var short []string
		for _, l := range lines {
			var s domain.Stock
			err := tx.QueryRowContext(ctx,
				`SELECT available, held, confirmed FROM stock WHERE menu_item_id = $1 FOR UPDATE`,
				l.MenuItemID,
			).Scan(&s.Available, &s.Held, &s.Confirmed)
			if errors.Is(err, sql.ErrNoRows) {
				short = append(short, l.MenuItemID)
				continue
			}
			if err != nil {
				return fmt.Errorf("stock repository: lock row: %w", err)
			}
			if s.Free() < l.Quantity {
				short = append(short, l.MenuItemID)
			}
		}
		if len(short) > 0 {
			return &domain.InsufficientInventoryError{MenuItemIDs: short}
		}

		for _, l := range lines {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stock SET held = held + $2 WHERE menu_item_id = $1`,
				l.MenuItemID, l.Quantity,
			); err != nil {
				return fmt.Errorf("stock repository: hold: %w", err)
			}
		}
		return nil
	})
}

func (r *StockRepository) ConfirmHeld(ctx context.Context, lines []domain.Line) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, l := range lines {
			result, err := tx.ExecContext(ctx,
				`UPDATE stock SET held = held - $2, confirmed = confirmed + $2
				 WHERE menu_item_id = $1 AND held >= $2`,
				l.MenuItemID, l.Quantity,
			)
			if err != nil {
				return fmt.Errorf("stock repository: confirm held: %w", err)
			}
			if affected, _ := result.RowsAffected(); affected == 0 {
				return fmt.Errorf("stock repository: held quantity underflow for %q", l.MenuItemID)
			}
		}
		return nil
	})
}

func (r *StockRepository) Release(ctx context.Context, lines []domain.Line, from domain.Status) error {
	var column string
	switch from {
	case domain.StatusHeld:
		column = "held"
	case domain.StatusConfirmed:
		column = "confirmed"
	default:
		return fmt.Errorf("stock repository: cannot release from status %q", from)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, l := range lines {
			result, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE stock SET %s = %s - $2 WHERE menu_item_id = $1 AND %s >= $2`, column, column, column),
				l.MenuItemID, l.Quantity,
			)
			if err != nil {
				return fmt.Errorf("stock repository: release: %w", err)
			}
			if affected, _ := result.RowsAffected(); affected == 0 {
				return fmt.Errorf("stock repository: %s quantity underflow for %q", column, l.MenuItemID)
			}
		}
		return nil
	})
}

func (r *StockRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stock repository: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("stock repository: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stock repository: commit: %w", err)
	}
	return nil
}
