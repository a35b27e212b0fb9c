package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/schooleats/orderflow/internal/domain/reservation"
)

// StockRepository keeps per-item counters under one mutex so a multi-line
// hold is atomic: the availability check and the counter bump happen in a
// single critical section, never leaving a partial hold behind.
type StockRepository struct {
	mu    sync.Mutex
	items map[string]*domain.Stock
}

func NewStockRepository() *StockRepository {
	return &StockRepository{items: make(map[string]*domain.Stock)}
}

func (r *StockRepository) SetAvailable(ctx context.Context, menuItemID string, available int) error {
	_ = ctx
	if menuItemID == "" {
		return fmt.Errorf("stock repository: menu item id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.items[menuItemID]
	if s == nil {
		s = &domain.Stock{MenuItemID: menuItemID}
		r.items[menuItemID] = s
	}
	s.Available = available
	return nil
}

func (r *StockRepository) Get(ctx context.Context, menuItemID string) (domain.Stock, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[menuItemID]
	if !ok {
		return domain.Stock{MenuItemID: menuItemID}, nil
	}
	return *s, nil
}

func (r *StockRepository) Hold(ctx context.Context, lines []domain.Line) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	var short []string
	for _, l := range lines {
		s, ok := r.items[l.MenuItemID]
		if !ok || s.Free() < l.Quantity {
			short = append(short, l.MenuItemID)
		}
	}
	if len(short) > 0 {
		return &domain.InsufficientInventoryError{MenuItemIDs: short}
	}

	for _, l := range lines {
		r.items[l.MenuItemID].Held += l.Quantity
	}
	return nil
}

func (r *StockRepository) ConfirmHeld(ctx context.Context, lines []domain.Line) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range lines {
		s, ok := r.items[l.MenuItemID]
		if !ok || s.Held < l.Quantity {
			return fmt.Errorf("stock repository: held quantity underflow for %q", l.MenuItemID)
		}
	}
	for _, l := range lines {
		s := r.items[l.MenuItemID]
		s.Held -= l.Quantity
		s.Confirmed += l.Quantity
	}
	return nil
}

func (r *StockRepository) Release(ctx context.Context, lines []domain.Line, from domain.Status) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range lines {
		s, ok := r.items[l.MenuItemID]
		if !ok {
			return fmt.Errorf("stock repository: unknown menu item %q", l.MenuItemID)
		}
		switch from {
		case domain.StatusHeld:
			if s.Held < l.Quantity {
				return fmt.Errorf("stock repository: held quantity underflow for %q", l.MenuItemID)
			}
		case domain.StatusConfirmed:
			if s.Confirmed < l.Quantity {
				return fmt.Errorf("stock repository: confirmed quantity underflow for %q", l.MenuItemID)
			}
		default:
			return fmt.Errorf("stock repository: cannot release from status %q", from)
		}
	}

	for _, l := range lines {
		s := r.items[l.MenuItemID]
		if from == domain.StatusHeld {
			s.Held -= l.Quantity
		} else {
			s.Confirmed -= l.Quantity
		}
	}
	return nil
}
