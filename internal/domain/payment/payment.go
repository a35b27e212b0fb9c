package payment

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("payment: attempt not found")

	// ErrPaymentFailed marks a charge the gateway declined. Retrying will not
	// change the answer; the saga compensates instead.
	ErrPaymentFailed = errors.New("payment: charge declined by gateway")

	// ErrGatewayUnavailable marks a transport failure or timeout talking to
	// the gateway. The charge outcome is unknown and the call site may retry.
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")

	// ErrAlreadyCharged guards the one-successful-attempt invariant.
	ErrAlreadyCharged = errors.New("payment: order already has a successful charge")

	ErrRefundFailed = errors.New("payment: refund failed")
)

type Outcome string

const (
	OutcomeSucceeded    Outcome = "succeeded"
	OutcomeFailed       Outcome = "failed"
	OutcomePending      Outcome = "pending"
	OutcomeRefunded     Outcome = "refunded"
	OutcomeRefundFailed Outcome = "refund_failed"
)

// Attempt records one try at charging for an order. Orders may accumulate
// several attempts across retries; at most one ever reaches succeeded.
type Attempt struct {
	ID            string
	OrderID       string
	TransactionID string
	Amount        int64
	Currency      string
	Method        string
	Outcome       Outcome
	RawResponse   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// MarkRefunded records the refund outcome on the succeeded attempt.
func (a *Attempt) MarkRefunded() {
	a.Outcome = OutcomeRefunded
	a.UpdatedAt = time.Now().UTC()
}

func (a *Attempt) MarkRefundFailed() {
	a.Outcome = OutcomeRefundFailed
	a.UpdatedAt = time.Now().UTC()
}
