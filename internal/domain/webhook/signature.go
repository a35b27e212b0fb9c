package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 of body under secret. The gateway sends
// this value in its signature header; the mock gateway and tests reuse it.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares in constant time.
func ValidSignature(body []byte, signature, secret string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
