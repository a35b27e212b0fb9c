package notification

import (
	"context"

	"github.com/schooleats/orderflow/internal/domain/event"
	domorder "github.com/schooleats/orderflow/internal/domain/order"

	"go.uber.org/zap"
)

// Notification is the outbound message handed to the delivery channel
// (email/SMS/push live behind the Notifier).
type Notification struct {
	Kind      string `json:"kind"`
	OrderID   string `json:"order_id"`
	StudentID string `json:"student_id"`
	Amount    int64  `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Worker forwards order lifecycle events to the Notifier, fire-and-forget.
// Delivery failures are logged and never propagate back into the saga.
type Worker struct {
	subscriber event.Subscriber
	notifier   Notifier
	log        *zap.Logger
}

func NewWorker(subscriber event.Subscriber, notifier Notifier, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		subscriber: subscriber,
		notifier:   notifier,
		log:        logger.With(zap.String("component", "notification_worker")),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderConfirmedEvent{}.EventName(), w.handleConfirmed)
	w.subscriber.Subscribe(domorder.OrderCancelledEvent{}.EventName(), w.handleCancelled)
	w.subscriber.Subscribe(domorder.OrderRefundedEvent{}.EventName(), w.handleRefunded)
}

func (w *Worker) handleConfirmed(ctx context.Context, e event.Event) error {
	evt, ok := e.(domorder.OrderConfirmedEvent)
	if !ok {
		return nil
	}
	w.send(ctx, Notification{
		Kind:      "order_confirmed",
		OrderID:   evt.OrderID,
		StudentID: evt.StudentID,
		Amount:    evt.Amount,
		Currency:  evt.Currency,
	})
	return nil
}

func (w *Worker) handleCancelled(ctx context.Context, e event.Event) error {
	evt, ok := e.(domorder.OrderCancelledEvent)
	if !ok {
		return nil
	}
	w.send(ctx, Notification{
		Kind:      "order_cancelled",
		OrderID:   evt.OrderID,
		StudentID: evt.StudentID,
		Reason:    evt.Reason,
	})
	return nil
}

func (w *Worker) handleRefunded(ctx context.Context, e event.Event) error {
	evt, ok := e.(domorder.OrderRefundedEvent)
	if !ok {
		return nil
	}
	w.send(ctx, Notification{
		Kind:      "order_refunded",
		OrderID:   evt.OrderID,
		StudentID: evt.StudentID,
		Amount:    evt.Amount,
		Currency:  evt.Currency,
	})
	return nil
}

func (w *Worker) send(ctx context.Context, n Notification) {
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.log.Warn("notification_delivery_failed",
			zap.String("kind", n.Kind),
			zap.String("order_id", n.OrderID),
			zap.Error(err),
		)
		return
	}
	w.log.Info("notification_sent",
		zap.String("kind", n.Kind),
		zap.String("order_id", n.OrderID),
	)
}
