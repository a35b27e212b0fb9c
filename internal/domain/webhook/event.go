package webhook

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMissingSignature = errors.New("webhook: missing signature header")
	ErrInvalidSignature = errors.New("webhook: signature mismatch")
	ErrMalformedPayload = errors.New("webhook: malformed payload")
)

type EventType string

const (
	EventPaymentCaptured EventType = "payment.captured"
	EventPaymentFailed   EventType = "payment.failed"
)

// PaymentEntity is the nested payment object inside a gateway event.
type PaymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
}

// Event is a verified, typed gateway event.
type Event struct {
	ID         string
	Type       EventType
	Payment    PaymentEntity
	ReceivedAt time.Time
}

// Known reports whether the event type maps to an order outcome. Unknown
// types are acknowledged and ignored so new gateway event kinds do not turn
// into retry storms.
func (t EventType) Known() bool {
	return t == EventPaymentCaptured || t == EventPaymentFailed
}

// Ledger deduplicates gateway deliveries by event id. The gateway delivers
// at least once; an id must be processed at most once.
type Ledger interface {
	// Seen reports whether the event id has already been processed.
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records the id. Called only after the order transition
	// succeeded, so a crash mid-processing reprocesses on redelivery.
	MarkProcessed(ctx context.Context, eventID string, eventType EventType) error
}
