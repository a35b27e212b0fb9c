package payment

import "context"

type Repository interface {
	Insert(ctx context.Context, a *Attempt) error
	Update(ctx context.Context, a *Attempt) error
	ListByOrder(ctx context.Context, orderID string) ([]*Attempt, error)
	// FindSucceeded returns the single attempt whose charge landed for the
	// order, in whatever refund state it has since reached, or ErrNotFound
	// when no charge ever succeeded.
	FindSucceeded(ctx context.Context, orderID string) (*Attempt, error)
}
