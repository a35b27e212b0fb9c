package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	domres "github.com/schooleats/orderflow/internal/domain/reservation"
	"github.com/schooleats/orderflow/internal/pkg/logging"

	"go.uber.org/zap"
)

// DefaultTTL is how long stock stays held against an order before the hold
// must be confirmed or released.
const DefaultTTL = 15 * time.Minute

// Manager owns time-boxed stock reservations. Callers mutating a single
// order's reservation must hold that order's entry in the shared KeyLock;
// the Manager itself does not lock so the orchestrator can call it while
// already holding the lock.
type Manager struct {
	repo  domres.Repository
	stock domres.StockRepository
	ttl   time.Duration
}

func NewManager(repo domres.Repository, stock domres.StockRepository, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		repo:  repo,
		stock: stock,
		ttl:   ttl,
	}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Reserve holds stock for every line or none at all. A shortfall on any item
// fails the whole call with *InsufficientInventoryError and leaves no
// reservation behind. Calling Reserve again for an order whose hold is still
// live returns the existing reservation.
func (m *Manager) Reserve(ctx context.Context, orderID string, items []domres.Line) (*domres.Reservation, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "reservation_manager"))

	if existing, err := m.repo.Get(ctx, orderID); err == nil {
		switch existing.Status {
		case domres.StatusHeld, domres.StatusConfirmed:
			return existing, nil
		}
	} else if !errors.Is(err, domres.ErrNotFound) {
		return nil, fmt.Errorf("reservation: lookup: %w", err)
	}

	r, err := domres.New(orderID, items, m.ttl)
	if err != nil {
		return nil, err
	}

	if err := m.stock.Hold(ctx, r.Items); err != nil {
		var insufficient *domres.InsufficientInventoryError
		if errors.As(err, &insufficient) {
			logger.Warn("reservation_insufficient_stock",
				zap.String("order_id", orderID),
				zap.Strings("menu_item_ids", insufficient.MenuItemIDs),
			)
			return nil, err
		}
		return nil, fmt.Errorf("reservation: hold stock: %w", err)
	}

	if err := m.repo.Insert(ctx, r); err != nil {
		// Undo the hold so a storage failure leaves no partial reservation.
		if relErr := m.stock.Release(ctx, r.Items, domres.StatusHeld); relErr != nil {
			logger.Error("reservation_hold_rollback_failed",
				zap.String("order_id", orderID),
				zap.Error(relErr),
			)
		}
		return nil, fmt.Errorf("reservation: insert: %w", err)
	}

	logger.Info("reservation_held",
		zap.String("order_id", orderID),
		zap.Time("expires_at", r.ExpiresAt),
	)
	return r, nil
}

// Confirm pins a held reservation. Already-confirmed reservations are a
// no-op. A hold past its TTL boundary is lazily expired here and the call
// fails with ErrExpired, so confirm can never race expiry into inconsistency.
func (m *Manager) Confirm(ctx context.Context, orderID string) error {
	logger := logging.FromContext(ctx).With(zap.String("component", "reservation_manager"))

	r, err := m.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domres.ErrNotFound) {
			return domres.ErrNotFound
		}
		return fmt.Errorf("reservation: lookup: %w", err)
	}

	switch r.Status {
	case domres.StatusConfirmed:
		return nil
	case domres.StatusReleased, domres.StatusExpired:
		return domres.ErrNotFound
	}

	now := time.Now().UTC()
	if r.ExpiredAt(now) {
		if err := m.expire(ctx, r); err != nil {
			return err
		}
		logger.Warn("reservation_confirm_after_expiry", zap.String("order_id", orderID))
		return domres.ErrExpired
	}

	if err := r.Confirm(now); err != nil {
		return err
	}
	if err := m.stock.ConfirmHeld(ctx, r.Items); err != nil {
		return fmt.Errorf("reservation: confirm stock: %w", err)
	}
	if err := m.repo.Update(ctx, r); err != nil {
		return fmt.Errorf("reservation: update: %w", err)
	}

	logger.Info("reservation_confirmed", zap.String("order_id", orderID))
	return nil
}

// Release frees a held or confirmed reservation back to stock. Releasing an
// absent, already released or expired reservation is a no-op.
func (m *Manager) Release(ctx context.Context, orderID string) error {
	logger := logging.FromContext(ctx).With(zap.String("component", "reservation_manager"))

	r, err := m.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domres.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reservation: lookup: %w", err)
	}

	from := r.Status
	if from != domres.StatusHeld && from != domres.StatusConfirmed {
		return nil
	}

	if err := m.stock.Release(ctx, r.Items, from); err != nil {
		return fmt.Errorf("reservation: release stock: %w", err)
	}
	r.Release()
	if err := m.repo.Update(ctx, r); err != nil {
		return fmt.Errorf("reservation: update: %w", err)
	}

	logger.Info("reservation_released", zap.String("order_id", orderID))
	return nil
}

// expire marks a lapsed hold and returns its quantities to stock.
func (m *Manager) expire(ctx context.Context, r *domres.Reservation) error {
	if r.Status != domres.StatusHeld {
		return nil
	}
	if err := m.stock.Release(ctx, r.Items, domres.StatusHeld); err != nil {
		return fmt.Errorf("reservation: release expired stock: %w", err)
	}
	r.Expire()
	if err := m.repo.Update(ctx, r); err != nil {
		return fmt.Errorf("reservation: update: %w", err)
	}
	return nil
}
