package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	domorder "github.com/schooleats/orderflow/internal/domain/order"
	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	"github.com/schooleats/orderflow/internal/pkg/logging"

	"go.uber.org/zap"
)

// CancelOrder cancels an order while its status still allows it, releases any
// live reservation and, when asked and a captured payment exists, refunds it.
// A successful refund lands the order in refunded, otherwise in cancelled;
// a failed refund never reverses the cancellation.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason string, refundRequested bool) (*domorder.Order, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_orchestrator"))

	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Idempotent re-cancel; anything else terminal is rejected up front so a
	// failed refund later cannot leave a half-cancelled order.
	if o.Status == domorder.StatusCancelled || o.Status == domorder.StatusRefunded {
		return o, nil
	}
	if !o.Status.CanTransition(domorder.StatusCancelled) {
		return nil, &domorder.InvalidTransitionError{From: o.Status, To: domorder.StatusCancelled}
	}

	if err := s.reservations.Release(ctx, orderID); err != nil {
		return nil, fmt.Errorf("order %s: release reservation: %w", orderID, err)
	}

	refunded := false
	var refundAmount int64
	if refundRequested {
		attempt, perr := s.payments.FindSucceeded(ctx, orderID)
		switch {
		case perr == nil:
			refunded = s.refund(ctx, attempt, logger)
			refundAmount = attempt.Amount
		case errors.Is(perr, dompay.ErrNotFound):
			// Nothing captured, nothing to refund.
		default:
			return nil, fmt.Errorf("order %s: payment lookup: %w", orderID, perr)
		}
	}

	target := domorder.StatusCancelled
	if refunded {
		target = domorder.StatusRefunded
	}
	if err := o.Transition(target, reason); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("order %s: update: %w", orderID, err)
	}

	logger.Info("order_cancel_done",
		zap.String("order_id", orderID),
		zap.String("status", string(o.Status)),
		zap.String("reason", reason),
	)
	if refunded {
		s.publish(ctx, domorder.NewOrderRefundedEvent(o, refundAmount))
	} else {
		s.publish(ctx, domorder.NewOrderCancelledEvent(o, reason))
	}
	return o, nil
}

// refund drives the gateway refund with bounded retries on unavailability and
// records the outcome on the attempt. Returns whether the refund landed.
func (s *Service) refund(ctx context.Context, attempt *dompay.Attempt, logger *zap.Logger) bool {
	var lastErr error
	for try := 0; try <= s.cfg.RefundRetries; try++ {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
		_, lastErr = s.gateway.Refund(rctx, attempt.TransactionID, attempt.Amount)
		cancel()

		if lastErr == nil {
			attempt.MarkRefunded()
			if err := s.payments.Update(ctx, attempt); err != nil {
				logger.Error("payment_attempt_update_failed", zap.String("order_id", attempt.OrderID), zap.Error(err))
			}
			s.metrics.countPayment(string(dompay.OutcomeRefunded))
			logger.Info("payment_refunded",
				zap.String("order_id", attempt.OrderID),
				zap.Int64("amount", attempt.Amount),
			)
			return true
		}
		if !errors.Is(lastErr, dompay.ErrGatewayUnavailable) {
			break
		}
		if try < s.cfg.RefundRetries {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				try = s.cfg.RefundRetries
			case <-time.After(s.cfg.RetryBackoff << uint(try)):
			}
		}
	}

	attempt.MarkRefundFailed()
	if err := s.payments.Update(ctx, attempt); err != nil {
		logger.Error("payment_attempt_update_failed", zap.String("order_id", attempt.OrderID), zap.Error(err))
	}
	s.metrics.countPayment(string(dompay.OutcomeRefundFailed))
	logger.Error("payment_refund_failed",
		zap.String("order_id", attempt.OrderID),
		zap.String("transaction_id", attempt.TransactionID),
		zap.Error(lastErr),
	)
	return false
}
