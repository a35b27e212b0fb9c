package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schooleats/orderflow/internal/application/reservation"
	"github.com/schooleats/orderflow/internal/application/webhook"
	"github.com/schooleats/orderflow/internal/domain/event"
	domorder "github.com/schooleats/orderflow/internal/domain/order"
	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domres "github.com/schooleats/orderflow/internal/domain/reservation"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"
	"github.com/schooleats/orderflow/internal/pkg/keylock"
	"github.com/schooleats/orderflow/internal/pkg/logging"

	"go.uber.org/zap"
)

var ErrValidation = errors.New("order: validation failed")

// Config bounds the orchestrator's calls to the payment gateway.
type Config struct {
	// ChargeTimeout caps one synchronous gateway call. A timeout surfaces as
	// ErrGatewayUnavailable, not as a declined charge.
	ChargeTimeout time.Duration
	// ChargeRetries is how many extra attempts follow an unavailable gateway.
	ChargeRetries int
	RefundRetries int
	RetryBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChargeTimeout <= 0 {
		c.ChargeTimeout = 10 * time.Second
	}
	if c.ChargeRetries < 0 {
		c.ChargeRetries = 0
	}
	if c.RefundRetries <= 0 {
		c.RefundRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Service orchestrates the order saga: reserve stock, drive the payment
// gateway, keep order status, reservation state and payment records aligned
// under partial failure. The synchronous request path and the webhook path
// share the same transition and compensation logic.
type Service struct {
	orders       domorder.Repository
	payments     dompay.Repository
	reservations *reservation.Manager
	gateway      dompay.Gateway
	verifier     *webhook.Verifier
	ledger       domhook.Ledger
	publisher    event.Publisher
	locks        *keylock.KeyLock
	idGenerator  IDGenerator
	cfg          Config
	metrics      *Metrics
}

func NewService(
	orders domorder.Repository,
	payments dompay.Repository,
	reservations *reservation.Manager,
	gateway dompay.Gateway,
	verifier *webhook.Verifier,
	ledger domhook.Ledger,
	publisher event.Publisher,
	locks *keylock.KeyLock,
	idGen IDGenerator,
	cfg Config,
	metrics *Metrics,
) *Service {
	return &Service{
		orders:       orders,
		payments:     payments,
		reservations: reservations,
		gateway:      gateway,
		verifier:     verifier,
		ledger:       ledger,
		publisher:    publisher,
		locks:        locks,
		idGenerator:  idGen,
		cfg:          cfg.withDefaults(),
		metrics:      metrics,
	}
}

type ItemInput struct {
	MenuItemID string
	Quantity   int
	UnitPrice  int64
}

type CreateOrderInput struct {
	StudentID       string
	SchoolID        string
	Items           []ItemInput
	Currency        string
	PaymentMethod   string
	DeliveryAt      time.Time
	DeliveryAddress string
}

// CreateOrderResult carries the created order and the synchronous payment
// outcome. On a declined or unreachable gateway the result is returned
// alongside the typed error so callers can still surface the cancelled order.
type CreateOrderResult struct {
	Order   *domorder.Order
	Payment *dompay.Attempt
}

// CreateOrder runs the forward saga. Compensation on payment failure releases
// the reservation and cancels the order; an inventory shortfall aborts before
// any order row exists.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_orchestrator"))

	if err := validateCreate(input); err != nil {
		s.metrics.countOrder("validation_failed")
		return nil, err
	}

	orderID := s.idGenerator.NewID()
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	lines := make([]domres.Line, 0, len(input.Items))
	items := make([]domorder.LineItem, 0, len(input.Items))
	for _, it := range input.Items {
		lines = append(lines, domres.Line{MenuItemID: it.MenuItemID, Quantity: it.Quantity})
		items = append(items, domorder.LineItem{MenuItemID: it.MenuItemID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	if _, err := s.reservations.Reserve(ctx, orderID, lines); err != nil {
		s.metrics.countOrder("insufficient_inventory")
		return nil, err
	}

	entity, err := domorder.New(orderID, input.StudentID, input.SchoolID, input.Currency, input.PaymentMethod, items, input.DeliveryAt)
	if err != nil {
		s.compensateReservation(ctx, orderID, logger)
		return nil, err
	}
	if err := s.orders.Insert(ctx, entity); err != nil {
		// No order row may stay behind a dangling reservation.
		s.compensateReservation(ctx, orderID, logger)
		return nil, fmt.Errorf("order: insert: %w", err)
	}

	logger.Info("order_created",
		zap.String("order_id", entity.ID),
		zap.String("student_id", entity.StudentID),
		zap.Int64("total_amount", entity.TotalAmount),
	)

	attempt, chargeErr := s.charge(ctx, entity)
	switch {
	case chargeErr == nil && attempt.Outcome == dompay.OutcomeSucceeded:
		if err := s.confirmOrder(ctx, entity); err != nil {
			return nil, err
		}
		s.metrics.countOrder("confirmed")
		return &CreateOrderResult{Order: entity, Payment: attempt}, nil

	case chargeErr == nil && attempt.Outcome == dompay.OutcomePending:
		// The gateway defers confirmation; the webhook path finalizes before
		// the reservation TTL lapses.
		logger.Info("payment_pending", zap.String("order_id", entity.ID))
		s.metrics.countOrder("pending")
		return &CreateOrderResult{Order: entity, Payment: attempt}, nil

	case errors.Is(chargeErr, dompay.ErrGatewayUnavailable):
		s.cancelAfterPayment(ctx, entity, "payment gateway unavailable", logger)
		s.metrics.countOrder("gateway_unavailable")
		return &CreateOrderResult{Order: entity, Payment: attempt}, fmt.Errorf("order %s: %w", entity.ID, dompay.ErrGatewayUnavailable)

	default:
		reason := "payment declined"
		if attempt != nil && attempt.RawResponse != "" {
			reason = attempt.RawResponse
		}
		s.cancelAfterPayment(ctx, entity, reason, logger)
		s.metrics.countOrder("payment_failed")
		return &CreateOrderResult{Order: entity, Payment: attempt}, fmt.Errorf("order %s: %w", entity.ID, dompay.ErrPaymentFailed)
	}
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domorder.Order, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	return s.orders.Get(ctx, id)
}

// charge drives the gateway with a bounded timeout, retrying only on
// unavailability. Declines are final. A recorded successful attempt for the
// order blocks any further charge.
func (s *Service) charge(ctx context.Context, o *domorder.Order) (*dompay.Attempt, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_orchestrator"))

	if _, err := s.payments.FindSucceeded(ctx, o.ID); err == nil {
		return nil, dompay.ErrAlreadyCharged
	} else if !errors.Is(err, dompay.ErrNotFound) {
		return nil, fmt.Errorf("order: payment lookup: %w", err)
	}

	req := dompay.ChargeRequest{
		OrderID:  o.ID,
		Amount:   o.TotalAmount,
		Currency: o.Currency,
		Method:   o.PaymentMethod,
	}

	var attempt *dompay.Attempt
	var lastErr error
	for try := 0; try <= s.cfg.ChargeRetries; try++ {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.ChargeTimeout)
		attempt, lastErr = s.gateway.Charge(cctx, req)
		cancel()

		if !errors.Is(lastErr, dompay.ErrGatewayUnavailable) {
			break
		}
		logger.Warn("payment_gateway_unavailable",
			zap.String("order_id", o.ID),
			zap.Int("try", try+1),
			zap.Error(lastErr),
		)
		if try < s.cfg.ChargeRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", dompay.ErrGatewayUnavailable, ctx.Err())
			case <-time.After(s.cfg.RetryBackoff << uint(try)):
			}
		}
	}
	if lastErr != nil {
		if errors.Is(lastErr, dompay.ErrGatewayUnavailable) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("order: charge: %w", lastErr)
	}

	attempt.ID = s.idGenerator.NewID()
	attempt.OrderID = o.ID
	if err := s.payments.Insert(ctx, attempt); err != nil {
		return nil, fmt.Errorf("order: record payment attempt: %w", err)
	}
	s.metrics.countPayment(string(attempt.Outcome))

	if attempt.Outcome == dompay.OutcomeFailed {
		return attempt, dompay.ErrPaymentFailed
	}
	return attempt, nil
}

// confirmOrder is the single success path shared by the synchronous charge
// and the captured webhook: confirm the reservation first, then transition.
// A reservation that lapsed in the meantime turns the success into a
// cancellation with refund.
func (s *Service) confirmOrder(ctx context.Context, o *domorder.Order) error {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_orchestrator"))

	// Already confirmed: keep the reservation pinned but fire no side effects
	// again (redelivered captures must notify at most once).
	if o.Status == domorder.StatusConfirmed {
		return s.reservations.Confirm(ctx, o.ID)
	}

	if err := s.reservations.Confirm(ctx, o.ID); err != nil {
		if errors.Is(err, domres.ErrExpired) {
			return s.cancelCapturedAfterExpiry(ctx, o, logger)
		}
		return fmt.Errorf("order %s: confirm reservation: %w", o.ID, err)
	}

	if err := o.Transition(domorder.StatusConfirmed, ""); err != nil {
		// The order escaped to a terminal state while payment settled; hand
		// the stock back to keep reservation state consistent.
		if relErr := s.reservations.Release(ctx, o.ID); relErr != nil {
			logger.Error("reservation_release_failed", zap.String("order_id", o.ID), zap.Error(relErr))
		}
		return err
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("order %s: update: %w", o.ID, err)
	}

	logger.Info("order_confirmed", zap.String("order_id", o.ID))
	s.publish(ctx, domorder.NewOrderConfirmedEvent(o))
	return nil
}

// cancelAfterPayment is the compensation path for a declined or unreachable
// gateway: cancel the order and free the held stock.
func (s *Service) cancelAfterPayment(ctx context.Context, o *domorder.Order, reason string, logger *zap.Logger) {
	if err := o.Transition(domorder.StatusCancelled, reason); err != nil {
		logger.Error("order_cancel_transition_failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	if err := s.orders.Update(ctx, o); err != nil {
		logger.Error("order_update_failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	if err := s.reservations.Release(ctx, o.ID); err != nil {
		logger.Error("reservation_release_failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	logger.Info("order_cancelled", zap.String("order_id", o.ID), zap.String("reason", reason))
	s.publish(ctx, domorder.NewOrderCancelledEvent(o, reason))
}

// cancelCapturedAfterExpiry handles money-without-stock: the payment was
// captured but the hold lapsed. Cancel and refund; a failed refund is left to
// the out-of-band retrier, the cancellation stands.
func (s *Service) cancelCapturedAfterExpiry(ctx context.Context, o *domorder.Order, logger *zap.Logger) error {
	logger.Warn("captured_payment_for_expired_reservation", zap.String("order_id", o.ID))

	attempt, err := s.payments.FindSucceeded(ctx, o.ID)
	refunded := false
	if err == nil {
		refunded = s.refund(ctx, attempt, logger)
	} else if !errors.Is(err, dompay.ErrNotFound) {
		return fmt.Errorf("order %s: payment lookup: %w", o.ID, err)
	}

	target := domorder.StatusCancelled
	if refunded {
		target = domorder.StatusRefunded
	}
	if terr := o.Transition(target, "reservation expired before payment confirmation"); terr != nil {
		return terr
	}
	if uerr := s.orders.Update(ctx, o); uerr != nil {
		return fmt.Errorf("order %s: update: %w", o.ID, uerr)
	}
	if refunded {
		s.publish(ctx, domorder.NewOrderRefundedEvent(o, attempt.Amount))
	} else {
		s.publish(ctx, domorder.NewOrderCancelledEvent(o, "reservation expired"))
	}
	return nil
}

func (s *Service) compensateReservation(ctx context.Context, orderID string, logger *zap.Logger) {
	if err := s.reservations.Release(ctx, orderID); err != nil {
		logger.Error("reservation_release_failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed",
			zap.String("event", e.EventName()),
			zap.Error(err),
		)
	}
}

func validateCreate(input CreateOrderInput) error {
	if input.StudentID == "" {
		return fmt.Errorf("%w: student id is required", ErrValidation)
	}
	if input.SchoolID == "" {
		return fmt.Errorf("%w: school id is required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for _, it := range input.Items {
		if it.MenuItemID == "" {
			return fmt.Errorf("%w: menu item id is required", ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be greater than zero", ErrValidation, it.MenuItemID)
		}
		if it.UnitPrice <= 0 {
			return fmt.Errorf("%w: unit price for %s must be greater than zero", ErrValidation, it.MenuItemID)
		}
	}
	if input.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if input.PaymentMethod == "" {
		return fmt.Errorf("%w: payment method is required", ErrValidation)
	}
	if !input.DeliveryAt.After(time.Now()) {
		return fmt.Errorf("%w: delivery slot must be in the future", ErrValidation)
	}
	return nil
}
