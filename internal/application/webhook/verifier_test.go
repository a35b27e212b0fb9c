package webhook

import (
	"testing"

	domhook "github.com/schooleats/orderflow/internal/domain/webhook"

	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func signed(body string) (raw []byte, header string) {
	raw = []byte(body)
	return raw, domhook.Sign(raw, testSecret)
}

func TestVerifyAcceptsSignedCapture(t *testing.T) {
	v := NewVerifier(testSecret)
	raw, header := signed(`{"event_id":"evt_1","type":"payment.captured","payment":{"id":"txn_9","order_id":"order-1","amount":1500,"currency":"USD","status":"captured"}}`)

	evt, err := v.Verify(raw, header)
	require.NoError(t, err)
	require.Equal(t, "evt_1", evt.ID)
	require.Equal(t, domhook.EventPaymentCaptured, evt.Type)
	require.Equal(t, "order-1", evt.Payment.OrderID)
	require.Equal(t, int64(1500), evt.Payment.Amount)
	require.False(t, evt.ReceivedAt.IsZero())
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	v := NewVerifier(testSecret)
	_, err := v.Verify([]byte(`{}`), "")
	require.ErrorIs(t, err, domhook.ErrMissingSignature)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	v := NewVerifier(testSecret)
	raw, header := signed(`{"event_id":"evt_1","type":"payment.captured","payment":{"order_id":"order-1"}}`)

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-2] = '2'
	_, err := v.Verify(tampered, header)
	require.ErrorIs(t, err, domhook.ErrInvalidSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier("another-secret")
	raw, header := signed(`{"event_id":"evt_1","type":"payment.captured","payment":{"order_id":"order-1"}}`)
	_, err := v.Verify(raw, header)
	require.ErrorIs(t, err, domhook.ErrInvalidSignature)
}

func TestVerifyRejectsMalformedPayload(t *testing.T) {
	v := NewVerifier(testSecret)

	for name, body := range map[string]string{
		"not json":         `{"event_id":`,
		"missing event id": `{"type":"payment.captured","payment":{"order_id":"order-1"}}`,
		"missing type":     `{"event_id":"evt_1","payment":{"order_id":"order-1"}}`,
		"missing order id": `{"event_id":"evt_1","type":"payment.failed","payment":{}}`,
	} {
		raw, header := signed(body)
		_, err := v.Verify(raw, header)
		require.ErrorIs(t, err, domhook.ErrMalformedPayload, name)
	}
}

func TestVerifyPassesUnknownTypeThrough(t *testing.T) {
	v := NewVerifier(testSecret)
	raw, header := signed(`{"event_id":"evt_2","type":"payout.settled","payment":{}}`)

	evt, err := v.Verify(raw, header)
	require.NoError(t, err)
	require.False(t, evt.Type.Known())
}
