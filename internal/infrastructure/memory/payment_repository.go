package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/schooleats/orderflow/internal/domain/payment"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt
	byOrder  map[string][]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		attempts: make(map[string]*domain.Attempt),
		byOrder:  make(map[string][]string),
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, a *domain.Attempt) error {
	_ = ctx
	if a == nil || a.ID == "" {
		return fmt.Errorf("payment repository: attempt id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[a.ID]; exists {
		return fmt.Errorf("payment repository: attempt %q already exists", a.ID)
	}
	r.attempts[a.ID] = a.Clone()
	r.byOrder[a.OrderID] = append(r.byOrder[a.OrderID], a.ID)
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, a *domain.Attempt) error {
	_ = ctx
	if a == nil || a.ID == "" {
		return fmt.Errorf("payment repository: attempt id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.attempts[a.ID]; !exists {
		return domain.ErrNotFound
	}
	r.attempts[a.ID] = a.Clone()
	return nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Attempt, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	attempts := make([]*domain.Attempt, 0, len(ids))
	for _, id := range ids {
		attempts = append(attempts, r.attempts[id].Clone())
	}
	return attempts, nil
}

func (r *PaymentRepository) FindSucceeded(ctx context.Context, orderID string) (*domain.Attempt, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.byOrder[orderID] {
		if a := r.attempts[id]; a.Outcome == domain.OutcomeSucceeded || a.Outcome == domain.OutcomeRefunded || a.Outcome == domain.OutcomeRefundFailed {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}
