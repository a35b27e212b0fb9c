package reservation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("reservation: not found")
	ErrExpired  = errors.New("reservation: expired")

	// ErrInsufficientInventory is matched by errors.Is against
	// *InsufficientInventoryError.
	ErrInsufficientInventory = errors.New("reservation: insufficient inventory")
)

type Status string

const (
	StatusHeld      Status = "held"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

// Line is a reserved quantity of one menu item.
type Line struct {
	MenuItemID string
	Quantity   int
}

// Reservation is a time-boxed hold of stock against an order. A held
// reservation must be confirmed or released before ExpiresAt; the sweeper
// expires anything that slips through.
type Reservation struct {
	OrderID   string
	Items     []Line
	Status    Status
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(orderID string, items []Line, ttl time.Duration) (*Reservation, error) {
	if orderID == "" {
		return nil, errors.New("reservation: order id is required")
	}
	if len(items) == 0 {
		return nil, errors.New("reservation: at least one line is required")
	}
	for _, l := range items {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("reservation: quantity for %q must be greater than zero", l.MenuItemID)
		}
	}
	if ttl <= 0 {
		return nil, errors.New("reservation: ttl must be greater than zero")
	}

	now := time.Now().UTC()
	return &Reservation{
		OrderID:   orderID,
		Items:     append([]Line(nil), items...),
		Status:    StatusHeld,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ExpiredAt reports whether the hold has lapsed at the given instant.
// The boundary instant counts as expired.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Items = append([]Line(nil), r.Items...)
	return &clone
}

func (r *Reservation) touch() {
	r.UpdatedAt = time.Now().UTC()
}

// Confirm pins a held reservation. Confirming an already confirmed reservation
// is a no-op; confirming past the TTL boundary fails.
func (r *Reservation) Confirm(now time.Time) error {
	switch r.Status {
	case StatusConfirmed:
		return nil
	case StatusHeld:
		if r.ExpiredAt(now) {
			return ErrExpired
		}
		r.Status = StatusConfirmed
		r.touch()
		return nil
	default:
		return ErrNotFound
	}
}

// Release frees a held or confirmed reservation. Releasing an already
// released or expired reservation is a no-op.
func (r *Reservation) Release() {
	switch r.Status {
	case StatusHeld, StatusConfirmed:
		r.Status = StatusReleased
		r.touch()
	}
}

// Expire marks a lapsed hold. Only held reservations expire.
func (r *Reservation) Expire() {
	if r.Status == StatusHeld {
		r.Status = StatusExpired
		r.touch()
	}
}

// InsufficientInventoryError names every menu item that could not be covered.
type InsufficientInventoryError struct {
	MenuItemIDs []string
}

func (e *InsufficientInventoryError) Error() string {
	ids := append([]string(nil), e.MenuItemIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("reservation: insufficient inventory for %s", strings.Join(ids, ", "))
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}
