package billing

import (
	"context"

	"github.com/google/uuid"
)

// Transition bundles the rows that must change atomically when a
// subscription moves between states: the subscription itself, the audit
// entry, and optionally the parish aggregate projection and plan
// pointer. Store implementations apply the whole set in one
// transaction.
type Transition struct {
	Subscription *Subscription
	History      *History

	// ParishStatus, when non-nil, re-projects the parish aggregate.
	ParishStatus *ParishStatus

	// SetParishPlan updates the parish's current-plan pointer when
	// non-nil; an empty string clears it.
	SetParishPlan *string
}

// PaymentRecord bundles a settlement with the subscription counters it
// adjusts. Applied atomically; Inserted is false when the gateway
// payment ID was already recorded, in which case nothing else changes.
// This is the per-handler idempotence guard: the outer webhook dedup is
// best effort, two concurrent deliveries of the same event can both
// pass it.
type PaymentRecord struct {
	Payment    *Payment
	Transition *Transition // optional accompanying state change
}

// Store is the durable record of plans, subscriptions, payments, the
// webhook receipt log, and the audit trail.
type Store interface {
	PlanStore
	SubscriptionStore
	PaymentStore
	WebhookLogStore
	HistoryStore
	ParishStore
}

type PlanStore interface {
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	SavePlan(ctx context.Context, plan *Plan) error
}

type SubscriptionStore interface {
	// GetSubscription retrieves the parish's subscription row.
	// Returns ErrSubscriptionNotFound if none exists.
	GetSubscription(ctx context.Context, parishID uuid.UUID) (*Subscription, error)

	// GetSubscriptionByGatewayID looks a subscription up by the
	// gateway's subscription identifier.
	GetSubscriptionByGatewayID(ctx context.Context, gatewaySubID string) (*Subscription, error)

	// CreateSubscription inserts a new row, failing with
	// ErrSubscriptionExists when the parish already has one.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// ApplyTransition atomically persists a state change.
	ApplyTransition(ctx context.Context, t Transition) error
}

type PaymentStore interface {
	// RecordPayment inserts the payment unless its gateway payment ID
	// is already present, applying the accompanying transition only on
	// insert. Returns whether the row was inserted.
	RecordPayment(ctx context.Context, rec PaymentRecord) (inserted bool, err error)

	ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error)
}

type WebhookLogStore interface {
	// InsertWebhookLog appends a receipt row before processing starts.
	InsertWebhookLog(ctx context.Context, entry *WebhookLog) error

	// MarkWebhookProcessed flags the row processed, recording the
	// handler error text when processing failed.
	MarkWebhookProcessed(ctx context.Context, id uuid.UUID, processError string) error

	// IsEventProcessed reports whether any log row with this gateway
	// event ID has been marked processed.
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
}

type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *History) error
	ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]History, error)
}

// ParishStore covers the slice of the parish record this engine owns:
// the aggregate status consulted by authentication and gating, and the
// current-plan pointer.
type ParishStore interface {
	ParishExists(ctx context.Context, parishID uuid.UUID) (bool, error)
	GetParishStatus(ctx context.Context, parishID uuid.UUID) (ParishStatus, error)
	SetParishStatus(ctx context.Context, parishID uuid.UUID, status ParishStatus) error
}
