package order

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	appres "github.com/schooleats/orderflow/internal/application/reservation"
	appwebhook "github.com/schooleats/orderflow/internal/application/webhook"
	domorder "github.com/schooleats/orderflow/internal/domain/order"
	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domres "github.com/schooleats/orderflow/internal/domain/reservation"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"
	"github.com/schooleats/orderflow/internal/infrastructure/memory"
	"github.com/schooleats/orderflow/internal/pkg/keylock"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

// chargeStep scripts one gateway answer; the last step repeats for any
// further calls.
type chargeStep struct {
	outcome dompay.Outcome
	err     error
}

type scriptedGateway struct {
	mu          sync.Mutex
	charges     []chargeStep
	refundErr   error
	chargeCalls int
	refundCalls int
}

func (g *scriptedGateway) Charge(ctx context.Context, req dompay.ChargeRequest) (*dompay.Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	step := chargeStep{outcome: dompay.OutcomeSucceeded}
	if len(g.charges) > 0 {
		idx := g.chargeCalls
		if idx >= len(g.charges) {
			idx = len(g.charges) - 1
		}
		step = g.charges[idx]
	}
	g.chargeCalls++

	if step.err != nil {
		return nil, step.err
	}
	now := time.Now().UTC()
	a := &dompay.Attempt{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    req.Method,
		Outcome:   step.outcome,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch step.outcome {
	case dompay.OutcomeSucceeded:
		a.TransactionID = fmt.Sprintf("txn_%d", g.chargeCalls)
	case dompay.OutcomeFailed:
		a.RawResponse = "card declined"
	}
	return a, nil
}

func (g *scriptedGateway) Refund(ctx context.Context, transactionID string, amount int64) (*dompay.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &dompay.RefundResult{RefundID: "rfd_1", Amount: amount, RefundedAt: time.Now().UTC()}, nil
}

func (g *scriptedGateway) VerifySignature(rawPayload []byte, signatureHeader, secret string) bool {
	return domhook.ValidSignature(rawPayload, signatureHeader, secret)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type fixture struct {
	svc      *Service
	orders   *memory.OrderRepository
	payments *memory.PaymentRepository
	stock    *memory.StockRepository
	gateway  *scriptedGateway
	locks    *keylock.KeyLock
	manager  *appres.Manager
}

func newFixture(t *testing.T, stock map[string]int, gw *scriptedGateway, ttl time.Duration) *fixture {
	t.Helper()
	if gw == nil {
		gw = &scriptedGateway{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	orders := memory.NewOrderRepository()
	payments := memory.NewPaymentRepository()
	stockRepo := memory.NewStockRepository()
	for id, qty := range stock {
		require.NoError(t, stockRepo.SetAvailable(context.Background(), id, qty))
	}
	manager := appres.NewManager(memory.NewReservationRepository(), stockRepo, ttl)
	locks := keylock.New()

	svc := NewService(
		orders,
		payments,
		manager,
		gw,
		appwebhook.NewVerifier(testSecret),
		memory.NewWebhookLedger(),
		nil,
		locks,
		&seqIDs{},
		Config{ChargeTimeout: time.Second, RetryBackoff: time.Millisecond},
		nil,
	)
	return &fixture{svc: svc, orders: orders, payments: payments, stock: stockRepo, gateway: gw, locks: locks, manager: manager}
}

func validInput(items ...ItemInput) CreateOrderInput {
	if len(items) == 0 {
		items = []ItemInput{{MenuItemID: "bento-1", Quantity: 2, UnitPrice: 650}}
	}
	return CreateOrderInput{
		StudentID:     "student-1",
		SchoolID:      "school-1",
		Items:         items,
		Currency:      "USD",
		PaymentMethod: "card",
		DeliveryAt:    time.Now().Add(2 * time.Hour),
	}
}

func (f *fixture) freeStock(t *testing.T, menuItemID string) int {
	t.Helper()
	s, err := f.stock.Get(context.Background(), menuItemID)
	require.NoError(t, err)
	return s.Free()
}

func (f *fixture) signedEvent(eventID string, eventType domhook.EventType, orderID string) ([]byte, string) {
	body, _ := json.Marshal(map[string]any{
		"event_id": eventID,
		"type":     string(eventType),
		"payment": map[string]any{
			"id":       "txn_hook",
			"order_id": orderID,
			"amount":   int64(1300),
			"currency": "USD",
			"status":   string(eventType),
		},
	})
	return body, domhook.Sign(body, testSecret)
}

func TestCreateOrderHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, domorder.StatusConfirmed, result.Order.Status)
	require.NotNil(t, result.Order.ConfirmedAt)
	require.Equal(t, int64(1300), result.Order.TotalAmount)
	require.Equal(t, dompay.OutcomeSucceeded, result.Payment.Outcome)

	stored, err := f.svc.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusConfirmed, stored.Status)

	s, err := f.stock.Get(ctx, "bento-1")
	require.NoError(t, err)
	require.Equal(t, 0, s.Held)
	require.Equal(t, 2, s.Confirmed)
}

func TestCreateOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	for name, mutate := range map[string]func(*CreateOrderInput){
		"missing student":  func(in *CreateOrderInput) { in.StudentID = "" },
		"missing school":   func(in *CreateOrderInput) { in.SchoolID = "" },
		"no items":         func(in *CreateOrderInput) { in.Items = nil },
		"zero quantity":    func(in *CreateOrderInput) { in.Items[0].Quantity = 0 },
		"zero price":       func(in *CreateOrderInput) { in.Items[0].UnitPrice = 0 },
		"missing currency": func(in *CreateOrderInput) { in.Currency = "" },
		"missing method":   func(in *CreateOrderInput) { in.PaymentMethod = "" },
		"delivery in past": func(in *CreateOrderInput) { in.DeliveryAt = time.Now().Add(-time.Hour) },
		"delivery zero":    func(in *CreateOrderInput) { in.DeliveryAt = time.Time{} },
	} {
		in := validInput()
		mutate(&in)
		_, err := f.svc.CreateOrder(ctx, in)
		require.ErrorIs(t, err, ErrValidation, name)
	}
	require.Zero(t, f.gateway.chargeCalls, "no charge may fire for invalid input")
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 1}, nil, 0)

	_, err := f.svc.CreateOrder(ctx, validInput())
	require.ErrorIs(t, err, domres.ErrInsufficientInventory)
	require.Zero(t, f.gateway.chargeCalls, "shortfall must abort before the gateway")
	require.Equal(t, 1, f.freeStock(t, "bento-1"))
}

func TestCreateOrderStockOfTwoSecondOrderFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 2}, nil, 0)

	first, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, domorder.StatusConfirmed, first.Order.Status)

	_, err = f.svc.CreateOrder(ctx, validInput())
	require.ErrorIs(t, err, domres.ErrInsufficientInventory)
}

func TestCreateOrderDeclinedChargeCompensates(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{outcome: dompay.OutcomeFailed}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.ErrorIs(t, err, dompay.ErrPaymentFailed)
	require.NotNil(t, result, "the cancelled order is still returned")
	require.Equal(t, domorder.StatusCancelled, result.Order.Status)
	require.Equal(t, "card declined", result.Order.FailureReason)

	require.Equal(t, 5, f.freeStock(t, "bento-1"), "held stock must come back")

	attempts, err := f.payments.ListByOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, dompay.OutcomeFailed, attempts[0].Outcome)
}

func TestCreateOrderGatewayUnavailableRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{
		{err: dompay.ErrGatewayUnavailable},
		{err: dompay.ErrGatewayUnavailable},
		{outcome: dompay.OutcomeSucceeded},
	}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)
	f.svc.cfg.ChargeRetries = 2

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, domorder.StatusConfirmed, result.Order.Status)
	require.Equal(t, 3, gw.chargeCalls)
}

func TestCreateOrderGatewayUnavailableExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{err: dompay.ErrGatewayUnavailable}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)
	f.svc.cfg.ChargeRetries = 1

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.ErrorIs(t, err, dompay.ErrGatewayUnavailable)
	require.Equal(t, 2, gw.chargeCalls)
	require.Equal(t, domorder.StatusCancelled, result.Order.Status)
	require.Equal(t, 5, f.freeStock(t, "bento-1"))

	attempts, aerr := f.payments.ListByOrder(ctx, result.Order.ID)
	require.NoError(t, aerr)
	require.Empty(t, attempts, "an unknown outcome records no attempt")
}

func TestPendingChargeConfirmedByWebhook(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{outcome: dompay.OutcomePending}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, domorder.StatusPending, result.Order.Status)
	require.Equal(t, dompay.OutcomePending, result.Payment.Outcome)

	body, sig := f.signedEvent("evt_1", domhook.EventPaymentCaptured, result.Order.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))

	stored, err := f.svc.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusConfirmed, stored.Status)

	// The pending attempt was settled in place, never duplicated.
	attempts, err := f.payments.ListByOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, dompay.OutcomeSucceeded, attempts[0].Outcome)
	require.Equal(t, "txn_hook", attempts[0].TransactionID)
}

func TestWebhookRedeliveryIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{outcome: dompay.OutcomePending}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	body, sig := f.signedEvent("evt_1", domhook.EventPaymentCaptured, result.Order.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))

	attempts, err := f.payments.ListByOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1, "a redelivered event must not settle twice")
}

func TestWebhookCaptureWithNewEventIDNeverDoubleCharges(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{outcome: dompay.OutcomePending}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	body1, sig1 := f.signedEvent("evt_1", domhook.EventPaymentCaptured, result.Order.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body1, sig1))

	// Same capture, fresh event id: the ledger does not catch it, the
	// succeeded-attempt lookup must.
	body2, sig2 := f.signedEvent("evt_2", domhook.EventPaymentCaptured, result.Order.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body2, sig2))

	attempts, err := f.payments.ListByOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	succeeded := 0
	for _, a := range attempts {
		if a.Outcome == dompay.OutcomeSucceeded {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)

	s, err := f.stock.Get(ctx, "bento-1")
	require.NoError(t, err)
	require.Equal(t, 2, s.Confirmed, "stock must be confirmed exactly once")
}

func TestWebhookRejectedSignatureHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{outcome: dompay.OutcomePending}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	body, _ := f.signedEvent("evt_1", domhook.EventPaymentCaptured, result.Order.ID)
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, body, "deadbeef"), domhook.ErrInvalidSignature)
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, body, ""), domhook.ErrMissingSignature)

	stored, err := f.svc.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusPending, stored.Status)

	// A rejected delivery leaves no dedup record: the genuine one still lands.
	sig := domhook.Sign(body, testSecret)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))
	stored, err = f.svc.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusConfirmed, stored.Status)
}

func TestWebhookUnknownOrderErrs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	body, sig := f.signedEvent("evt_1", domhook.EventPaymentCaptured, "order-missing")
	require.ErrorIs(t, f.svc.HandleWebhook(ctx, body, sig), domorder.ErrNotFound)
}

func TestWebhookUnknownTypeAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	body, sig := f.signedEvent("evt_1", domhook.EventType("payout.settled"), "order-1")
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))
}

func TestWebhookFailureCancelsPendingOrder(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{outcome: dompay.OutcomePending}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	body, sig := f.signedEvent("evt_1", domhook.EventPaymentFailed, result.Order.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))

	stored, err := f.svc.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusCancelled, stored.Status)
	require.Equal(t, 5, f.freeStock(t, "bento-1"))

	attempts, err := f.payments.ListByOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, dompay.OutcomeFailed, attempts[0].Outcome)
}

func TestWebhookFailureForConfirmedOrderAcknowledged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, domorder.StatusConfirmed, result.Order.Status)

	// Move it past cancellable territory.
	stored, err := f.orders.Get(ctx, result.Order.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(domorder.StatusPreparing, ""))
	require.NoError(t, stored.Transition(domorder.StatusReady, ""))
	require.NoError(t, stored.Transition(domorder.StatusOutForDelivery, ""))
	require.NoError(t, stored.Transition(domorder.StatusDelivered, ""))
	require.NoError(t, f.orders.Update(ctx, stored))

	body, sig := f.signedEvent("evt_late", domhook.EventPaymentFailed, result.Order.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig), "late failure for a settled order is acked, not retried")

	reloaded, err := f.svc.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusDelivered, reloaded.Status)
}

func TestCaptureAfterReservationExpiryRefunds(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{charges: []chargeStep{{outcome: dompay.OutcomePending}}}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, time.Millisecond)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	body, sig := f.signedEvent("evt_1", domhook.EventPaymentCaptured, result.Order.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, body, sig))

	stored, err := f.svc.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusRefunded, stored.Status)
	require.Equal(t, 1, gw.refundCalls)
	require.Equal(t, 5, f.freeStock(t, "bento-1"), "lapsed hold went back to stock")

	attempts, err := f.payments.ListByOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, dompay.OutcomeRefunded, attempts[0].Outcome)
}

func TestCancelOrderWithRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(ctx, result.Order.ID, "school closure", true)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusRefunded, cancelled.Status)
	require.Equal(t, 1, f.gateway.refundCalls)
	require.Equal(t, 5, f.freeStock(t, "bento-1"))

	attempt, err := f.payments.FindSucceeded(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, dompay.OutcomeRefunded, attempt.Outcome)

	// Cancelling again is an idempotent no-op, no second refund.
	again, err := f.svc.CancelOrder(ctx, result.Order.ID, "school closure", true)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusRefunded, again.Status)
	require.Equal(t, 1, f.gateway.refundCalls)
}

func TestCancelOrderWithoutRefundKeepsCharge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(ctx, result.Order.ID, "duplicate order", false)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusCancelled, cancelled.Status)
	require.Zero(t, f.gateway.refundCalls)
}

func TestCancelOrderFailedRefundStillCancels(t *testing.T) {
	ctx := context.Background()
	gw := &scriptedGateway{refundErr: dompay.ErrRefundFailed}
	f := newFixture(t, map[string]int{"bento-1": 5}, gw, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	cancelled, err := f.svc.CancelOrder(ctx, result.Order.ID, "school closure", true)
	require.NoError(t, err)
	require.Equal(t, domorder.StatusCancelled, cancelled.Status, "a failed refund never reverses the cancellation")

	attempt, err := f.payments.FindSucceeded(ctx, result.Order.ID)
	require.NoError(t, err)
	require.Equal(t, dompay.OutcomeRefundFailed, attempt.Outcome)
}

func TestCancelDeliveredOrderRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"bento-1": 5}, nil, 0)

	result, err := f.svc.CreateOrder(ctx, validInput())
	require.NoError(t, err)

	stored, err := f.orders.Get(ctx, result.Order.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(domorder.StatusPreparing, ""))
	require.NoError(t, stored.Transition(domorder.StatusReady, ""))
	require.NoError(t, stored.Transition(domorder.StatusOutForDelivery, ""))
	require.NoError(t, stored.Transition(domorder.StatusDelivered, ""))
	require.NoError(t, f.orders.Update(ctx, stored))

	_, err = f.svc.CancelOrder(ctx, result.Order.ID, "too late", false)
	require.ErrorIs(t, err, domorder.ErrInvalidTransition)
}

func TestGetOrderUnknownID(t *testing.T) {
	f := newFixture(t, nil, nil, 0)
	_, err := f.svc.GetOrder(context.Background(), "order-missing")
	require.ErrorIs(t, err, domorder.ErrNotFound)

	_, err = f.svc.GetOrder(context.Background(), "")
	require.ErrorIs(t, err, ErrValidation)
}
