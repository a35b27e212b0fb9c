package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"

	"github.com/google/uuid"
)

var _ dompay.Gateway = (*MockGateway)(nil)

// MockGateway stands in for the processor when no GATEWAY_URL is configured.
// FailureRate injects declines for local testing of the compensation path.
type MockGateway struct {
	FailureRate float64
}

func NewMockGateway(failureRate float64) *MockGateway {
	return &MockGateway{FailureRate: failureRate}
}

func (m *MockGateway) Charge(ctx context.Context, req dompay.ChargeRequest) (*dompay.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", dompay.ErrGatewayUnavailable, err)
	}

	now := time.Now().UTC()
	attempt := &dompay.Attempt{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    req.Method,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rand.Float64() < m.FailureRate {
		attempt.Outcome = dompay.OutcomeFailed
		attempt.RawResponse = "insufficient funds"
		return attempt, nil
	}
	attempt.TransactionID = "txn_" + uuid.NewString()
	attempt.Outcome = dompay.OutcomeSucceeded
	return attempt, nil
}

func (m *MockGateway) Refund(ctx context.Context, transactionID string, amount int64) (*dompay.RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", dompay.ErrGatewayUnavailable, err)
	}
	return &dompay.RefundResult{
		RefundID:   "rfd_" + uuid.NewString(),
		Amount:     amount,
		RefundedAt: time.Now().UTC(),
	}, nil
}

func (m *MockGateway) VerifySignature(rawPayload []byte, signatureHeader, secret string) bool {
	return domhook.ValidSignature(rawPayload, signatureHeader, secret)
}
