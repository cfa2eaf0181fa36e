package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifyWebhookSignature checks the HMAC-SHA256 signature the gateway
// attaches to webhook deliveries, computed over the exact request body
// with the shared webhook secret. Constant-time comparison prevents
// timing-based signature recovery.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(sign(c.webhookSecret, payload)), []byte(signature))
}

// VerifyPaymentSignature checks the signature the gateway hands the
// client-side checkout on completion, computed over
// "<paymentID>|<subscriptionID>" with the key secret. A mismatch means
// a forged or replayed activation attempt.
func (c *Client) VerifyPaymentSignature(paymentID, subscriptionID, signature string) bool {
	if signature == "" {
		return false
	}
	expected := sign(c.keySecret, []byte(paymentID+"|"+subscriptionID))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign computes the hex HMAC-SHA256 of payload with secret. Exposed so
// tests and local tooling can produce valid signatures.
func Sign(secret string, payload []byte) string {
	return sign(secret, payload)
}
