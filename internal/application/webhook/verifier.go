package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	domhook "github.com/schooleats/orderflow/internal/domain/webhook"
)

// envelope is the gateway's wire format: event type plus the nested payment
// entity.
type envelope struct {
	EventID string                `json:"event_id"`
	Type    string                `json:"type"`
	Payment domhook.PaymentEntity `json:"payment"`
}

// Verifier authenticates inbound gateway events. Verification always runs
// over the untouched raw request body; verifying a re-serialized body would
// accept forgeries whenever field ordering differs.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the HMAC signature and parses the envelope into a typed
// event. Signature failures carry no side effects.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) (*domhook.Event, error) {
	if signatureHeader == "" {
		return nil, domhook.ErrMissingSignature
	}
	if !domhook.ValidSignature(rawBody, signatureHeader, v.secret) {
		return nil, domhook.ErrInvalidSignature
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", domhook.ErrMalformedPayload, err)
	}
	if env.EventID == "" {
		return nil, fmt.Errorf("%w: event_id is required", domhook.ErrMalformedPayload)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: type is required", domhook.ErrMalformedPayload)
	}

	evt := &domhook.Event{
		ID:         env.EventID,
		Type:       domhook.EventType(env.Type),
		Payment:    env.Payment,
		ReceivedAt: time.Now().UTC(),
	}
	if evt.Type.Known() && evt.Payment.OrderID == "" {
		return nil, fmt.Errorf("%w: payment.order_id is required", domhook.ErrMalformedPayload)
	}
	return evt, nil
}
