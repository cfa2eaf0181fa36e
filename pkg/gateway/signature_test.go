package gateway_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishkit/parishkit/pkg/gateway"
)

func newTestClient(t *testing.T) *gateway.Client {
	t.Helper()
	client, err := gateway.New(gateway.Config{
		BaseURL:       "https://gateway.invalid/v1",
		KeyID:         "key_test",
		KeySecret:     "key_secret",
		WebhookSecret: "webhook_secret",
	})
	require.NoError(t, err)
	return client
}

func TestVerifyWebhookSignature(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	payload := []byte(`{"event":"subscription.activated"}`)
	valid := gateway.Sign("webhook_secret", payload)

	assert.True(t, client.VerifyWebhookSignature(payload, valid))

	// Wrong secret, tampered body, or empty signature all fail.
	assert.False(t, client.VerifyWebhookSignature(payload, gateway.Sign("other_secret", payload)))
	assert.False(t, client.VerifyWebhookSignature([]byte(`{"event":"tampered"}`), valid))
	assert.False(t, client.VerifyWebhookSignature(payload, ""))
}

func TestVerifyPaymentSignature(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	valid := gateway.Sign("key_secret", []byte("pay_123|sub_456"))

	assert.True(t, client.VerifyPaymentSignature("pay_123", "sub_456", valid))

	// The signature binds the payment to the subscription: swapping
	// either identifier invalidates it.
	assert.False(t, client.VerifyPaymentSignature("pay_999", "sub_456", valid))
	assert.False(t, client.VerifyPaymentSignature("pay_123", "sub_999", valid))
	assert.False(t, client.VerifyPaymentSignature("pay_123", "sub_456", ""))
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := gateway.New(gateway.Config{KeyID: "key_test"})
	assert.ErrorIs(t, err, gateway.ErrMissingCredentials)

	_, err = gateway.New(gateway.Config{KeySecret: "secret"})
	assert.ErrorIs(t, err, gateway.ErrMissingCredentials)
}
