package payment

import (
	"context"
	"time"
)

type ChargeRequest struct {
	OrderID  string
	Amount   int64
	Currency string
	Method   string
}

type RefundResult struct {
	RefundID   string
	Amount     int64
	RefundedAt time.Time
}

// Gateway abstracts the external payment processor.
//
// Charge may return an Attempt with OutcomePending when the processor defers
// final confirmation to an asynchronous webhook; callers must not treat
// pending as failure. Transport failures and timeouts surface as
// ErrGatewayUnavailable, never as a declined charge.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*Attempt, error)
	Refund(ctx context.Context, transactionID string, amount int64) (*RefundResult, error)
	VerifySignature(rawPayload []byte, signatureHeader, secret string) bool
}
