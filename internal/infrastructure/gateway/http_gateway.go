// Package gateway talks to the external payment processor.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"
)

var _ dompay.Gateway = (*HTTPGateway)(nil)

// HTTPGateway is the production processor client. Transport failures,
// timeouts and 5xx answers surface as ErrGatewayUnavailable because the
// charge outcome is unknown; only an explicit decline becomes a failed
// attempt.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req dompay.ChargeRequest) (*dompay.Attempt, error) {
	var resp chargeResponse
	raw, err := g.post(ctx, "/v1/charges", chargeRequest{
		OrderID:  req.OrderID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Method:   req.Method,
	}, &resp)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	attempt := &dompay.Attempt{
		OrderID:       req.OrderID,
		TransactionID: resp.TransactionID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Method:        req.Method,
		RawResponse:   string(raw),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	switch resp.Status {
	case "succeeded", "captured":
		attempt.Outcome = dompay.OutcomeSucceeded
	case "pending":
		attempt.Outcome = dompay.OutcomePending
	default:
		attempt.Outcome = dompay.OutcomeFailed
		if resp.Message != "" {
			attempt.RawResponse = resp.Message
		}
	}
	return attempt, nil
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

func (g *HTTPGateway) Refund(ctx context.Context, transactionID string, amount int64) (*dompay.RefundResult, error) {
	var resp refundResponse
	if _, err := g.post(ctx, "/v1/refunds", refundRequest{TransactionID: transactionID, Amount: amount}, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "succeeded" {
		return nil, fmt.Errorf("%w: %s", dompay.ErrRefundFailed, resp.Message)
	}
	return &dompay.RefundResult{
		RefundID:   resp.RefundID,
		Amount:     amount,
		RefundedAt: time.Now().UTC(),
	}, nil
}

func (g *HTTPGateway) VerifySignature(rawPayload []byte, signatureHeader, secret string) bool {
	return domhook.ValidSignature(rawPayload, signatureHeader, secret)
}

// post sends the request and returns the raw response body. 5xx and
// transport errors map to ErrGatewayUnavailable.
func (g *HTTPGateway) post(ctx context.Context, path string, payload any, out any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dompay.ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", dompay.ErrGatewayUnavailable, err)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gateway answered %d", dompay.ErrGatewayUnavailable, httpResp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("gateway: decode response: %w", err)
	}
	return raw, nil
}
