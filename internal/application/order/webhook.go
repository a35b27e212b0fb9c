package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	domorder "github.com/schooleats/orderflow/internal/domain/order"
	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"
	"github.com/schooleats/orderflow/internal/pkg/logging"

	"go.uber.org/zap"
)

// HandleWebhook consumes one asynchronous gateway delivery. The gateway
// delivers at least once, so the whole path is re-entrant: a redelivered
// event id reaches the same end state and side effects fire only once.
// The event is marked processed only after the transition has succeeded; a
// crash in between reprocesses safely on redelivery.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_orchestrator"))

	evt, err := s.verifier.Verify(rawBody, signatureHeader)
	if err != nil {
		// Rejected deliveries leave no trace: an unauthenticated payload is
		// not a reliable signal of anything.
		s.metrics.countWebhook("rejected")
		return err
	}

	logger = logger.With(
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
		zap.String("order_id", evt.Payment.OrderID),
	)

	if !evt.Type.Known() {
		logger.Info("webhook_event_ignored")
		s.metrics.countWebhook("ignored")
		return nil
	}

	if seen, err := s.ledger.Seen(ctx, evt.ID); err != nil {
		return fmt.Errorf("webhook: ledger lookup: %w", err)
	} else if seen {
		logger.Info("webhook_event_duplicate")
		s.metrics.countWebhook("duplicate")
		return nil
	}

	s.locks.Lock(evt.Payment.OrderID)
	defer s.locks.Unlock(evt.Payment.OrderID)

	// Re-check under the lock: two deliveries of the same id can race past
	// the first check.
	if seen, err := s.ledger.Seen(ctx, evt.ID); err != nil {
		return fmt.Errorf("webhook: ledger lookup: %w", err)
	} else if seen {
		logger.Info("webhook_event_duplicate")
		s.metrics.countWebhook("duplicate")
		return nil
	}

	o, err := s.orders.Get(ctx, evt.Payment.OrderID)
	if err != nil {
		if errors.Is(err, domorder.ErrNotFound) {
			return fmt.Errorf("webhook event %s: %w", evt.ID, err)
		}
		return fmt.Errorf("webhook: load order: %w", err)
	}

	switch evt.Type {
	case domhook.EventPaymentCaptured:
		err = s.applyCapture(ctx, o, evt)
	case domhook.EventPaymentFailed:
		err = s.applyFailure(ctx, o, evt, logger)
	}
	if err != nil {
		return err
	}

	if err := s.ledger.MarkProcessed(ctx, evt.ID, evt.Type); err != nil {
		return fmt.Errorf("webhook: mark processed: %w", err)
	}
	logger.Info("webhook_event_processed")
	s.metrics.countWebhook("processed")
	return nil
}

// applyCapture finalizes an order whose charge the gateway has confirmed.
func (s *Service) applyCapture(ctx context.Context, o *domorder.Order, evt *domhook.Event) error {
	if _, err := s.settleCapture(ctx, o, evt); err != nil {
		return err
	}
	return s.confirmOrder(ctx, o)
}

// settleCapture records the captured charge against the order without ever
// creating a second succeeded attempt.
func (s *Service) settleCapture(ctx context.Context, o *domorder.Order, evt *domhook.Event) (*dompay.Attempt, error) {
	if existing, err := s.payments.FindSucceeded(ctx, o.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, dompay.ErrNotFound) {
		return nil, fmt.Errorf("webhook: payment lookup: %w", err)
	}

	// Settle the pending attempt from the synchronous charge when there is
	// one; otherwise the capture is the first record we have.
	attempts, err := s.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("webhook: list attempts: %w", err)
	}
	for _, a := range attempts {
		if a.Outcome == dompay.OutcomePending {
			a.Outcome = dompay.OutcomeSucceeded
			if evt.Payment.ID != "" {
				a.TransactionID = evt.Payment.ID
			}
			a.UpdatedAt = time.Now().UTC()
			if err := s.payments.Update(ctx, a); err != nil {
				return nil, fmt.Errorf("webhook: settle attempt: %w", err)
			}
			s.metrics.countPayment(string(dompay.OutcomeSucceeded))
			return a, nil
		}
	}

	a := &dompay.Attempt{
		ID:            s.idGenerator.NewID(),
		OrderID:       o.ID,
		TransactionID: evt.Payment.ID,
		Amount:        evt.Payment.Amount,
		Currency:      evt.Payment.Currency,
		Method:        evt.Payment.Method,
		Outcome:       dompay.OutcomeSucceeded,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.payments.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("webhook: record capture: %w", err)
	}
	s.metrics.countPayment(string(dompay.OutcomeSucceeded))
	return a, nil
}

// applyFailure cancels an order whose charge the gateway reports failed.
// A failure event for an order already past confirmation is logged and
// acknowledged; answering non-2xx would only provoke endless redelivery.
func (s *Service) applyFailure(ctx context.Context, o *domorder.Order, evt *domhook.Event, logger *zap.Logger) error {
	attempts, err := s.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("webhook: list attempts: %w", err)
	}
	for _, a := range attempts {
		if a.Outcome == dompay.OutcomePending {
			a.Outcome = dompay.OutcomeFailed
			a.UpdatedAt = time.Now().UTC()
			if uerr := s.payments.Update(ctx, a); uerr != nil {
				return fmt.Errorf("webhook: settle attempt: %w", uerr)
			}
			s.metrics.countPayment(string(dompay.OutcomeFailed))
			break
		}
	}

	if o.Status == domorder.StatusCancelled {
		return nil
	}
	if err := o.Transition(domorder.StatusCancelled, "payment failed"); err != nil {
		logger.Warn("webhook_failure_for_settled_order",
			zap.String("status", string(o.Status)),
			zap.Error(err),
		)
		return nil
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("webhook: update order: %w", err)
	}
	if err := s.reservations.Release(ctx, o.ID); err != nil {
		return fmt.Errorf("webhook: release reservation: %w", err)
	}
	s.publish(ctx, domorder.NewOrderCancelledEvent(o, "payment failed"))
	return nil
}
