package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin synchronous wrapper around the payment gateway's
// customer, subscription, and payment operations. All calls are
// short-lived HTTP round trips; signature verification is local HMAC
// computation and never touches the network.
type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	httpClient    *http.Client
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, primarily for
// tests against httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a gateway client from config.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, ErrMissingCredentials
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:       cfg.BaseURL,
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: timeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// CustomerParams identifies the billing contact for a new gateway customer.
type CustomerParams struct {
	Name  string
	Email string
	Phone string
	Notes map[string]string
}

// Customer is the gateway's customer object.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SubscriptionParams describes a new gateway subscription schedule.
type SubscriptionParams struct {
	PlanID     string            // gateway plan identifier
	CustomerID string
	TotalCount int               // number of billing cycles in the schedule
	Notes      map[string]string // carried back on webhook payloads
}

// Subscription is the gateway's subscription object.
type Subscription struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	ShortURL     string `json:"short_url"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
	ChargeAt     int64  `json:"charge_at"`
}

// Payment is the gateway's payment object.
type Payment struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	InvoiceID   string `json:"invoice_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"created_at"`
}

// CreateCustomer registers a billing contact with the gateway.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	body := map[string]any{
		"name":          params.Name,
		"email":         params.Email,
		"contact":       params.Phone,
		"fail_existing": "0",
	}
	if len(params.Notes) > 0 {
		body["notes"] = params.Notes
	}

	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/customers", body, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreateSubscription creates a recurring subscription schedule.
func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error) {
	body := map[string]any{
		"plan_id":         params.PlanID,
		"customer_id":     params.CustomerID,
		"total_count":     params.TotalCount,
		"customer_notify": 1,
	}
	if len(params.Notes) > 0 {
		body["notes"] = params.Notes
	}

	var sub Subscription
	if err := c.do(ctx, http.MethodPost, "/subscriptions", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription, optionally at the end of
// the current billing cycle.
func (c *Client) CancelSubscription(ctx context.Context, subID string, atCycleEnd bool) error {
	body := map[string]any{"cancel_at_cycle_end": boolToInt(atCycleEnd)}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+subID+"/cancel", body, nil)
}

// PauseSubscription pauses billing immediately.
func (c *Client) PauseSubscription(ctx context.Context, subID string) error {
	body := map[string]any{"pause_at": "now"}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+subID+"/pause", body, nil)
}

// ResumeSubscription resumes a paused subscription.
func (c *Client) ResumeSubscription(ctx context.Context, subID string) error {
	body := map[string]any{"resume_at": "now"}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+subID+"/resume", body, nil)
}

// FetchPayment retrieves a payment by gateway payment ID.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Join(ErrRequestFailed, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(ErrRequestFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Join(ErrUnexpectedStatus,
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, errorDescription(raw)))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Join(ErrDecodeResponse, err)
		}
	}
	return nil
}

// errorDescription pulls the human-readable description out of the
// gateway's error envelope, falling back to the raw body.
func errorDescription(raw []byte) string {
	var envelope struct {
		Error struct {
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Description != "" {
		return envelope.Error.Description
	}
	return string(raw)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
