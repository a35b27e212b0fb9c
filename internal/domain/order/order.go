package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: already exists")
	ErrNoItems         = errors.New("order: at least one line item is required")
	ErrInvalidQuantity = errors.New("order: quantity must be greater than zero")
	ErrInvalidPrice    = errors.New("order: unit price must be greater than zero")
)

// LineItem is an immutable snapshot of a menu item taken at order time.
// UnitPrice is in minor currency units.
type LineItem struct {
	MenuItemID string
	Quantity   int
	UnitPrice  int64
}

func (li LineItem) Subtotal() int64 {
	return int64(li.Quantity) * li.UnitPrice
}

type Order struct {
	ID            string
	StudentID     string
	SchoolID      string
	Items         []LineItem
	TotalAmount   int64
	Currency      string
	PaymentMethod string
	DeliveryAt    time.Time
	Status        Status
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Stamped once on first entry into the matching status, never overwritten.
	ConfirmedAt      *time.Time
	PreparingAt      *time.Time
	ReadyAt          *time.Time
	OutForDeliveryAt *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	RefundedAt       *time.Time
}

func New(id, studentID, schoolID, currency, paymentMethod string, items []LineItem, deliveryAt time.Time) (*Order, error) {
	if id == "" {
		return nil, errors.New("order: id is required")
	}
	if studentID == "" {
		return nil, errors.New("order: student id is required")
	}
	if schoolID == "" {
		return nil, errors.New("order: school id is required")
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	var total int64
	for _, li := range items {
		if li.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if li.UnitPrice <= 0 {
			return nil, ErrInvalidPrice
		}
		total += li.Subtotal()
	}

	now := time.Now().UTC()
	return &Order{
		ID:            id,
		StudentID:     studentID,
		SchoolID:      schoolID,
		Items:         append([]LineItem(nil), items...),
		TotalAmount:   total,
		Currency:      currency,
		PaymentMethod: paymentMethod,
		DeliveryAt:    deliveryAt,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	clone.ConfirmedAt = cloneTime(o.ConfirmedAt)
	clone.PreparingAt = cloneTime(o.PreparingAt)
	clone.ReadyAt = cloneTime(o.ReadyAt)
	clone.OutForDeliveryAt = cloneTime(o.OutForDeliveryAt)
	clone.DeliveredAt = cloneTime(o.DeliveredAt)
	clone.CancelledAt = cloneTime(o.CancelledAt)
	clone.RefundedAt = cloneTime(o.RefundedAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
