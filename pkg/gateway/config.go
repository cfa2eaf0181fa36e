package gateway

import "time"

type Config struct {
	BaseURL       string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.razorpay.com/v1"` // BaseURL is the gateway REST API root.
	KeyID         string        `env:"GATEWAY_KEY_ID,required"`                                   // KeyID is the API key identifier used for basic auth.
	KeySecret     string        `env:"GATEWAY_KEY_SECRET,required"`                               // KeySecret is the API key secret; also signs payment signatures.
	WebhookSecret string        `env:"GATEWAY_WEBHOOK_SECRET,required"`                           // WebhookSecret signs inbound webhook payloads.
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`                          // Timeout bounds each synchronous gateway call.
}
