package billing_test

import (
	"context"
	"errors"
	"sync"

	"github.com/parishkit/parishkit/pkg/gateway"
)

// fakeGateway implements billing.Gateway for tests. Signature checks
// compare against fixed tokens so tests can exercise both outcomes
// without real HMAC material.
type fakeGateway struct {
	mu sync.Mutex

	failCreateCustomer     bool
	failCreateSubscription bool
	failCancel             bool

	createdCustomers     int
	createdSubscriptions int
	cancelled            []string
	paused               []string
	resumed              []string

	lastSubscriptionParams gateway.SubscriptionParams
}

const (
	validWebhookSignature = "valid-webhook-signature"
	validPaymentSignature = "valid-payment-signature"
)

func (g *fakeGateway) CreateCustomer(ctx context.Context, params gateway.CustomerParams) (*gateway.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreateCustomer {
		return nil, errors.New("gateway unavailable")
	}
	g.createdCustomers++
	return &gateway.Customer{ID: "cust_test001", Name: params.Name, Email: params.Email}, nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, params gateway.SubscriptionParams) (*gateway.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreateSubscription {
		return nil, errors.New("gateway unavailable")
	}
	g.createdSubscriptions++
	g.lastSubscriptionParams = params
	return &gateway.Subscription{ID: "sub_test001", PlanID: params.PlanID, Status: "created"}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subID string, atCycleEnd bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCancel {
		return errors.New("gateway unavailable")
	}
	g.cancelled = append(g.cancelled, subID)
	return nil
}

func (g *fakeGateway) PauseSubscription(ctx context.Context, subID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = append(g.paused, subID)
	return nil
}

func (g *fakeGateway) ResumeSubscription(ctx context.Context, subID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resumed = append(g.resumed, subID)
	return nil
}

func (g *fakeGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	return &gateway.Payment{ID: paymentID, Status: "captured"}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	return signature == validWebhookSignature
}

func (g *fakeGateway) VerifyPaymentSignature(paymentID, subscriptionID, signature string) bool {
	return signature == validPaymentSignature
}
