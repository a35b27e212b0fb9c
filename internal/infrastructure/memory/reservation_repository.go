package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/schooleats/orderflow/internal/domain/reservation"
)

type ReservationRepository struct {
	mu           sync.RWMutex
	reservations map[string]*domain.Reservation
}

func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{reservations: make(map[string]*domain.Reservation)}
}

func (r *ReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	_ = ctx
	if res == nil || res.OrderID == "" {
		return fmt.Errorf("reservation repository: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.reservations[res.OrderID] = res.Clone()
	return nil
}

func (r *ReservationRepository) Get(ctx context.Context, orderID string) (*domain.Reservation, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return res.Clone(), nil
}

func (r *ReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	_ = ctx
	if res == nil || res.OrderID == "" {
		return fmt.Errorf("reservation repository: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reservations[res.OrderID]; !exists {
		return domain.ErrNotFound
	}
	r.reservations[res.OrderID] = res.Clone()
	return nil
}

func (r *ReservationRepository) ListHeldExpiredBefore(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var lapsed []*domain.Reservation
	for _, res := range r.reservations {
		if res.Status == domain.StatusHeld && res.ExpiredAt(now) {
			lapsed = append(lapsed, res.Clone())
		}
	}
	return lapsed, nil
}
