package billing

import (
	"encoding/json"
	"errors"
	"time"
)

// EventKind is the closed set of gateway event types the engine
// understands. Unknown kinds are logged and ignored, keeping the engine
// forward compatible with new gateway events.
type EventKind string

const (
	EventSubscriptionActivated EventKind = "subscription.activated"
	EventSubscriptionCharged   EventKind = "subscription.charged"
	EventSubscriptionCompleted EventKind = "subscription.completed"
	EventSubscriptionCancelled EventKind = "subscription.cancelled"
	EventSubscriptionPaused    EventKind = "subscription.paused"
	EventSubscriptionResumed   EventKind = "subscription.resumed"
	EventSubscriptionHalted    EventKind = "subscription.halted"
	EventPaymentCaptured       EventKind = "payment.captured"
	EventPaymentFailed         EventKind = "payment.failed"
)

// Event is the parsed form of a gateway webhook delivery.
type Event struct {
	ID           string // gateway event ID from the delivery header, may be empty
	Kind         EventKind
	Subscription *SubscriptionEntity
	Payment      *PaymentEntity
	CreatedAt    time.Time
	Raw          Document
}

// SubscriptionEntity carries the gateway's view of a subscription.
// Period fields are unix epochs; zero means the gateway sent nothing.
type SubscriptionEntity struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	CustomerID   string            `json:"customer_id"`
	Status       string            `json:"status"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
	ChargeAt     int64             `json:"charge_at"`
	EndedAt      int64             `json:"ended_at"`
	PaidCount    int               `json:"paid_count"`
	Notes        map[string]string `json:"notes"`
}

// PeriodDates converts the gateway's epoch fields to times. ok is false
// when the gateway supplied no usable window and the caller should fall
// back to a synthetic one.
func (e *SubscriptionEntity) PeriodDates() (start, end, chargeAt time.Time, ok bool) {
	if e == nil || e.CurrentStart == 0 || e.CurrentEnd == 0 {
		return time.Time{}, time.Time{}, time.Time{}, false
	}
	start = time.Unix(e.CurrentStart, 0).UTC()
	end = time.Unix(e.CurrentEnd, 0).UTC()
	if e.ChargeAt > 0 {
		chargeAt = time.Unix(e.ChargeAt, 0).UTC()
	} else {
		chargeAt = end
	}
	return start, end, chargeAt, true
}

// PaymentEntity carries the gateway's view of a payment.
type PaymentEntity struct {
	ID               string            `json:"id"`
	OrderID          string            `json:"order_id"`
	InvoiceID        string            `json:"invoice_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	ErrorDescription string            `json:"error_description"`
	CreatedAt        int64             `json:"created_at"`
	Notes            map[string]string `json:"notes"`
}

// webhookEnvelope mirrors the gateway's delivery format: entities are
// nested one level under payload.<entity>.entity.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Entity  string `json:"entity"`
	Payload struct {
		Subscription struct {
			Entity *SubscriptionEntity `json:"entity"`
		} `json:"subscription"`
		Payment struct {
			Entity *PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// ParseEvent decodes a raw webhook body. eventID is the gateway's
// delivery identifier from the request headers and may be empty, in
// which case the dedup check is skipped for this delivery.
func ParseEvent(payload []byte, eventID string) (*Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedWebhookPayload, err)
	}
	if env.Event == "" {
		return nil, errors.Join(ErrMalformedWebhookPayload, errors.New("missing event field"))
	}

	evt := &Event{
		ID:           eventID,
		Kind:         EventKind(env.Event),
		Subscription: env.Payload.Subscription.Entity,
		Payment:      env.Payload.Payment.Entity,
		Raw:          Document(payload),
	}
	if env.CreatedAt > 0 {
		evt.CreatedAt = time.Unix(env.CreatedAt, 0).UTC()
	}
	return evt, nil
}

// EntityType names the primary entity carried by the event, for the
// receipt log.
func (e *Event) EntityType() string {
	switch {
	case e.Subscription != nil:
		return "subscription"
	case e.Payment != nil:
		return "payment"
	default:
		return ""
	}
}

// EntityID returns the gateway ID of the primary entity.
func (e *Event) EntityID() string {
	switch {
	case e.Subscription != nil:
		return e.Subscription.ID
	case e.Payment != nil:
		return e.Payment.ID
	default:
		return ""
	}
}
