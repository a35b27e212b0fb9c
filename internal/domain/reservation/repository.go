package reservation

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, orderID string) (*Reservation, error)
	Update(ctx context.Context, r *Reservation) error
	// ListHeldExpiredBefore returns held reservations whose TTL has lapsed at
	// the given instant. Used by the expiry sweeper.
	ListHeldExpiredBefore(ctx context.Context, now time.Time) ([]*Reservation, error)
}

// Stock carries the per-item counters the availability check runs against.
// Free quantity is Available − Held − Confirmed.
type Stock struct {
	MenuItemID string
	Available  int
	Held       int
	Confirmed  int
}

func (s Stock) Free() int {
	return s.Available - s.Held - s.Confirmed
}

// StockRepository is the transactional stock ledger. Hold must be atomic
// across all lines: either every line is held or none is, and a shortfall is
// reported as *InsufficientInventoryError naming every failing item.
type StockRepository interface {
	SetAvailable(ctx context.Context, menuItemID string, available int) error
	Get(ctx context.Context, menuItemID string) (Stock, error)
	Hold(ctx context.Context, lines []Line) error
	// ConfirmHeld moves quantities from held to confirmed.
	ConfirmHeld(ctx context.Context, lines []Line) error
	// Release returns quantities to the free pool from the given reservation
	// status (held or confirmed).
	Release(ctx context.Context, lines []Line, from Status) error
}
