package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appOrder "github.com/schooleats/orderflow/internal/application/order"
	appReservation "github.com/schooleats/orderflow/internal/application/reservation"
	appWebhook "github.com/schooleats/orderflow/internal/application/webhook"
	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"
	"github.com/schooleats/orderflow/internal/infrastructure/memory"
	"github.com/schooleats/orderflow/internal/pkg/keylock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

type stubGateway struct {
	outcome dompay.Outcome
	err     error
}

func (g *stubGateway) Charge(ctx context.Context, req dompay.ChargeRequest) (*dompay.Attempt, error) {
	if g.err != nil {
		return nil, g.err
	}
	now := time.Now().UTC()
	a := &dompay.Attempt{
		OrderID:       req.OrderID,
		TransactionID: "txn_" + uuid.NewString(),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Method:        req.Method,
		Outcome:       g.outcome,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if g.outcome == dompay.OutcomeFailed {
		a.RawResponse = "card declined"
	}
	return a, nil
}

func (g *stubGateway) Refund(ctx context.Context, transactionID string, amount int64) (*dompay.RefundResult, error) {
	return &dompay.RefundResult{RefundID: "rfd_1", Amount: amount, RefundedAt: time.Now().UTC()}, nil
}

func (g *stubGateway) VerifySignature(rawPayload []byte, signatureHeader, secret string) bool {
	return domhook.ValidSignature(rawPayload, signatureHeader, secret)
}

func newTestServer(t *testing.T, stock map[string]int, gw dompay.Gateway) *httptest.Server {
	t.Helper()
	if gw == nil {
		gw = &stubGateway{outcome: dompay.OutcomeSucceeded}
	}

	stockRepo := memory.NewStockRepository()
	for id, qty := range stock {
		require.NoError(t, stockRepo.SetAvailable(context.Background(), id, qty))
	}

	svc := appOrder.NewService(
		memory.NewOrderRepository(),
		memory.NewPaymentRepository(),
		appReservation.NewManager(memory.NewReservationRepository(), stockRepo, time.Minute),
		gw,
		appWebhook.NewVerifier(testSecret),
		memory.NewWebhookLedger(),
		nil,
		keylock.New(),
		uuidIDs{},
		appOrder.Config{ChargeTimeout: time.Second, RetryBackoff: time.Millisecond},
		nil,
	)

	server := httptest.NewServer(NewHandler(svc, nil, nil, nil).Router())
	t.Cleanup(server.Close)
	return server
}

type uuidIDs struct{}

func (uuidIDs) NewID() string { return uuid.NewString() }

func createBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"student_id":     "student-1",
		"school_id":      "school-1",
		"currency":       "USD",
		"payment_method": "card",
		"delivery_at":    time.Now().Add(2 * time.Hour).Format(time.RFC3339),
		"items": []map[string]any{
			{"menu_item_id": "bento-1", "quantity": 2, "unit_price": 650},
		},
	})
	return body
}

func postJSON(t *testing.T, url string, body []byte, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestCreateOrderEndpoint(t *testing.T) {
	server := newTestServer(t, map[string]int{"bento-1": 5}, nil)

	resp, body := postJSON(t, server.URL+"/orders", createBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	order := body["order"].(map[string]any)
	require.Equal(t, "confirmed", order["status"])
	require.Equal(t, float64(1300), order["total_amount"])
	require.NotEmpty(t, order["order_id"])

	payment := body["payment"].(map[string]any)
	require.Equal(t, "succeeded", payment["outcome"])

	// The created order is readable back.
	getResp, err := http.Get(server.URL + "/orders/" + order["order_id"].(string))
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestCreateOrderInsufficientStockConflict(t *testing.T) {
	server := newTestServer(t, map[string]int{"bento-1": 1}, nil)

	resp, body := postJSON(t, server.URL+"/orders", createBody(), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, body["error"], "insufficient inventory")
}

func TestCreateOrderDeclinedPaymentRequired(t *testing.T) {
	server := newTestServer(t, map[string]int{"bento-1": 5}, &stubGateway{outcome: dompay.OutcomeFailed})

	resp, body := postJSON(t, server.URL+"/orders", createBody(), nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	// The cancelled order still comes back so the client can show it.
	result := body["result"].(map[string]any)
	order := result["order"].(map[string]any)
	require.Equal(t, "cancelled", order["status"])
}

func TestCreateOrderGatewayDownBadGateway(t *testing.T) {
	server := newTestServer(t, map[string]int{"bento-1": 5}, &stubGateway{err: dompay.ErrGatewayUnavailable})

	resp, _ := postJSON(t, server.URL+"/orders", createBody(), nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCreateOrderMalformedBody(t *testing.T) {
	server := newTestServer(t, nil, nil)

	resp, _ := postJSON(t, server.URL+"/orders", []byte(`{"student_id":`), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpoint(t *testing.T) {
	server := newTestServer(t, map[string]int{"bento-1": 5}, &stubGateway{outcome: dompay.OutcomePending})

	resp, body := postJSON(t, server.URL+"/orders", createBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := body["order"].(map[string]any)["order_id"].(string)

	event := []byte(fmt.Sprintf(
		`{"event_id":"evt_1","type":"payment.captured","payment":{"id":"txn_9","order_id":%q,"amount":1300,"currency":"USD","status":"captured"}}`,
		orderID,
	))

	// No signature: rejected before any side effect.
	resp, _ = postJSON(t, server.URL+"/webhooks/payment", event, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Bad signature: rejected.
	resp, _ = postJSON(t, server.URL+"/webhooks/payment", event, map[string]string{headerSignature: "deadbeef"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Genuine delivery confirms the order.
	sig := domhook.Sign(event, testSecret)
	resp, _ = postJSON(t, server.URL+"/webhooks/payment", event, map[string]string{headerSignature: sig})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Redelivery is acknowledged, not retried.
	resp, _ = postJSON(t, server.URL+"/webhooks/payment", event, map[string]string{headerSignature: sig})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(server.URL + "/orders/" + orderID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	var order map[string]any
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&order))
	require.Equal(t, "confirmed", order["status"])
}

func TestWebhookUnknownOrderNotFound(t *testing.T) {
	server := newTestServer(t, nil, nil)

	event := []byte(`{"event_id":"evt_1","type":"payment.captured","payment":{"order_id":"order-missing"}}`)
	sig := domhook.Sign(event, testSecret)
	resp, _ := postJSON(t, server.URL+"/webhooks/payment", event, map[string]string{headerSignature: sig})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelOrderEndpoint(t *testing.T) {
	server := newTestServer(t, map[string]int{"bento-1": 5}, nil)

	resp, body := postJSON(t, server.URL+"/orders", createBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	orderID := body["order"].(map[string]any)["order_id"].(string)

	cancelBody := []byte(`{"reason":"school closure","refund":true}`)
	resp, cancelResp := postJSON(t, server.URL+"/orders/"+orderID+"/cancel", cancelBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "refunded", cancelResp["status"])
}

func TestGetOrderNotFound(t *testing.T) {
	server := newTestServer(t, nil, nil)

	resp, err := http.Get(server.URL + "/orders/order-missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, nil, nil)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
