package order

import "time"

// OrderConfirmedEvent is emitted once payment has been captured and the
// reservation confirmed. Handled by the notification worker.
type OrderConfirmedEvent struct {
	OrderID    string
	StudentID  string
	SchoolID   string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

func (OrderConfirmedEvent) EventName() string { return "order.confirmed" }

func NewOrderConfirmedEvent(o *Order) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		OrderID:    o.ID,
		StudentID:  o.StudentID,
		SchoolID:   o.SchoolID,
		Amount:     o.TotalAmount,
		Currency:   o.Currency,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderCancelledEvent is emitted when an order is cancelled, whether by the
// payment saga's compensation path or an explicit cancellation request.
type OrderCancelledEvent struct {
	OrderID    string
	StudentID  string
	Reason     string
	OccurredAt time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order, reason string) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:    o.ID,
		StudentID:  o.StudentID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderRefundedEvent is emitted when a cancellation ends with a successful
// refund of the captured payment.
type OrderRefundedEvent struct {
	OrderID    string
	StudentID  string
	Amount     int64
	Currency   string
	OccurredAt time.Time
}

func (OrderRefundedEvent) EventName() string { return "order.refunded" }

func NewOrderRefundedEvent(o *Order, amount int64) OrderRefundedEvent {
	return OrderRefundedEvent{
		OrderID:    o.ID,
		StudentID:  o.StudentID,
		Amount:     amount,
		Currency:   o.Currency,
		OccurredAt: time.Now().UTC(),
	}
}
