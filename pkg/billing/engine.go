package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Engine is the stateless, at-least-once consumer of gateway webhook
// events. The gateway may deliver the same event more than once, may
// deliver events out of order, and expects a fast acknowledgement
// regardless of processing outcome; failure visibility lives entirely
// in the webhook receipt log.
type Engine struct {
	store    Store
	gateway  Gateway
	log      *slog.Logger
	now      func() time.Time
	handlers map[EventKind]eventHandler
}

type eventHandler func(ctx context.Context, evt *Event) error

// EngineOption configures optional engine behaviour.
type EngineOption func(*Engine)

func WithEngineLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates the webhook ingestion engine. The gateway is used
// for signature verification only, which is local HMAC computation, so
// the webhook path never blocks on a gateway round trip.
func NewEngine(store Store, gw Gateway, opts ...EngineOption) *Engine {
	if store == nil {
		panic("billing: Store is required")
	}
	if gw == nil {
		panic("billing: Gateway is required")
	}

	e := &Engine{
		store:   store,
		gateway: gw,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	// Closed dispatch table; event kinds outside it are logged no-ops.
	e.handlers = map[EventKind]eventHandler{
		EventSubscriptionActivated: e.handleActivated,
		EventSubscriptionCharged:   e.handleCharged,
		EventSubscriptionCompleted: e.handleCompleted,
		EventSubscriptionCancelled: e.handleCancelled,
		EventSubscriptionPaused:    e.handlePaused,
		EventSubscriptionResumed:   e.handleResumed,
		EventSubscriptionHalted:    e.handleHalted,
		EventPaymentCaptured:       e.handlePaymentCaptured,
		EventPaymentFailed:         e.handlePaymentFailed,
	}

	return e
}

// Process runs the ingestion pipeline for one delivery: authenticate,
// deduplicate, log, dispatch, mark processed. Handler failures are
// recorded on the log row and never returned; only authentication and
// malformed-payload failures surface, and the HTTP boundary still
// acknowledges those with a success status to stop gateway retries.
func (e *Engine) Process(ctx context.Context, payload []byte, signature, eventID string) error {
	if !e.gateway.VerifyWebhookSignature(payload, signature) {
		// Tampered or misrouted traffic is not logged as received.
		e.log.WarnContext(ctx, "webhook signature verification failed")
		return ErrInvalidWebhookSignature
	}

	evt, err := ParseEvent(payload, eventID)
	if err != nil {
		return err
	}

	// Dedup keys only on processed events: a delivery that crashed
	// mid-processing is retried, and handlers tolerate the partial
	// re-application through their own idempotence guards.
	if evt.ID != "" {
		processed, err := e.store.IsEventProcessed(ctx, evt.ID)
		if err != nil {
			return errors.Join(ErrStoreFailure, err)
		}
		if processed {
			e.log.DebugContext(ctx, "duplicate webhook event skipped",
				slog.String("event_id", evt.ID),
				slog.String("event_type", string(evt.Kind)))
			return nil
		}
	}

	// Log first, process second: even an unhandled failure leaves a
	// "received" row distinguishable from "processed".
	entry := &WebhookLog{
		ID:         uuid.New(),
		EventID:    evt.ID,
		EventType:  string(evt.Kind),
		EntityType: evt.EntityType(),
		EntityID:   evt.EntityID(),
		Payload:    evt.Raw,
		ReceivedAt: e.now(),
	}
	if err := e.store.InsertWebhookLog(ctx, entry); err != nil {
		return errors.Join(ErrStoreFailure, err)
	}

	var processErr string
	if handler, ok := e.handlers[evt.Kind]; ok {
		if err := e.dispatch(ctx, handler, evt); err != nil {
			processErr = err.Error()
			e.log.ErrorContext(ctx, "webhook handler failed",
				slog.String("event_type", string(evt.Kind)),
				slog.String("event_id", evt.ID),
				slog.String("error", processErr))
		}
	} else {
		e.log.InfoContext(ctx, "ignoring unhandled webhook event type",
			slog.String("event_type", string(evt.Kind)))
	}

	if err := e.store.MarkWebhookProcessed(ctx, entry.ID, processErr); err != nil {
		return errors.Join(ErrStoreFailure, err)
	}

	return nil
}

// dispatch isolates handler panics so a single malformed payload cannot
// take down the delivery endpoint.
func (e *Engine) dispatch(ctx context.Context, handler eventHandler, evt *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, evt)
}

// loadSubscription resolves the local subscription for a
// subscription-entity event. A missing local row is a hard no-op: the
// event belongs to a subscription this system never created.
func (e *Engine) loadSubscription(ctx context.Context, evt *Event) (*Subscription, bool, error) {
	if evt.Subscription == nil || evt.Subscription.ID == "" {
		return nil, false, errors.Join(ErrMalformedWebhookPayload, errors.New("missing subscription entity"))
	}
	sub, err := e.store.GetSubscriptionByGatewayID(ctx, evt.Subscription.ID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			e.log.WarnContext(ctx, "webhook for unknown subscription",
				slog.String("gateway_sub_id", evt.Subscription.ID),
				slog.String("event_type", string(evt.Kind)))
			return nil, false, nil
		}
		return nil, false, err
	}
	return sub, true, nil
}

// applyPeriod prefers gateway-supplied period dates and falls back to a
// synthetic thirty-day window only when the gateway sent none.
func (e *Engine) applyPeriod(sub *Subscription, entity *SubscriptionEntity) {
	if start, end, chargeAt, ok := entity.PeriodDates(); ok {
		sub.SetPeriod(start, end, chargeAt)
		return
	}
	sub.SetDefaultPeriod(e.now())
}

func (e *Engine) handleActivated(ctx context.Context, evt *Event) error {
	sub, found, err := e.loadSubscription(ctx, evt)
	if err != nil || !found {
		return err
	}

	oldStatus := sub.Status
	sub.Status = StatusActive
	e.applyPeriod(sub, evt.Subscription)
	sub.UpdatedAt = e.now()

	active := ParishActive
	return e.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History:      e.historyEntry(sub, ActionActivated, oldStatus, StatusActive, "gateway activated subscription"),
		ParishStatus: &active,
	})
}

func (e *Engine) handleCharged(ctx context.Context, evt *Event) error {
	sub, found, err := e.loadSubscription(ctx, evt)
	if err != nil || !found {
		return err
	}

	now := e.now()
	oldStatus := sub.Status
	sub.LastPaymentAt = &now
	sub.UpdatedAt = now

	transition := Transition{Subscription: sub}

	// Deliveries arrive out of order: a charge trailing a cancelled or
	// halted event must not resurrect the subscription, or the local row
	// would drift from the parish aggregate. Only a running subscription
	// refreshes its window, and only a first payment activates.
	switch {
	case sub.Status == StatusActive:
		e.applyPeriod(sub, evt.Subscription)
		transition.History = e.historyEntry(sub, ActionCharged, oldStatus, StatusActive, "recurring charge settled")
	case sub.AwaitingFirstPayment():
		sub.Status = StatusActive
		e.applyPeriod(sub, evt.Subscription)
		active := ParishActive
		transition.ParishStatus = &active
		transition.History = e.historyEntry(sub, ActionActivated, oldStatus, StatusActive, "first charge settled")
	default:
		transition.History = e.historyEntry(sub, ActionCharged, oldStatus, sub.Status,
			"charge settled for inactive subscription")
	}

	return e.store.ApplyTransition(ctx, transition)
}

func (e *Engine) handleCompleted(ctx context.Context, evt *Event) error {
	sub, found, err := e.loadSubscription(ctx, evt)
	if err != nil || !found {
		return err
	}

	now := e.now()
	oldStatus := sub.Status
	sub.Status = StatusExpired
	sub.ExpiresAt = &now
	sub.UpdatedAt = now

	return e.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History:      e.historyEntry(sub, ActionExpired, oldStatus, StatusExpired, "subscription schedule completed"),
	})
}

func (e *Engine) handleCancelled(ctx context.Context, evt *Event) error {
	sub, found, err := e.loadSubscription(ctx, evt)
	if err != nil || !found {
		return err
	}

	now := e.now()
	oldStatus := sub.Status
	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.ExpiresAt = &now
	sub.UpdatedAt = now

	cancelled := ParishCancelled
	clearPlan := ""
	return e.store.ApplyTransition(ctx, Transition{
		Subscription:  sub,
		History:       e.historyEntry(sub, ActionCancelled, oldStatus, StatusCancelled, "gateway cancelled subscription"),
		ParishStatus:  &cancelled,
		SetParishPlan: &clearPlan,
	})
}

func (e *Engine) handlePaused(ctx context.Context, evt *Event) error {
	sub, found, err := e.loadSubscription(ctx, evt)
	if err != nil || !found {
		return err
	}

	oldStatus := sub.Status
	sub.Status = StatusPaused
	sub.UpdatedAt = e.now()

	return e.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History:      e.historyEntry(sub, ActionPaused, oldStatus, StatusPaused, "gateway paused subscription"),
	})
}

func (e *Engine) handleResumed(ctx context.Context, evt *Event) error {
	sub, found, err := e.loadSubscription(ctx, evt)
	if err != nil || !found {
		return err
	}

	oldStatus := sub.Status
	sub.Status = StatusActive
	sub.UpdatedAt = e.now()

	return e.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History:      e.historyEntry(sub, ActionResumed, oldStatus, StatusActive, "gateway resumed subscription"),
	})
}

func (e *Engine) handleHalted(ctx context.Context, evt *Event) error {
	sub, found, err := e.loadSubscription(ctx, evt)
	if err != nil || !found {
		return err
	}

	oldStatus := sub.Status
	sub.Status = StatusHalted
	sub.UpdatedAt = e.now()

	suspended := ParishSuspended
	return e.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History:      e.historyEntry(sub, ActionHalted, oldStatus, StatusHalted, "gateway halted subscription after repeated payment failures"),
		ParishStatus: &suspended,
	})
}

// handlePaymentCaptured records a settlement. The payment row insert is
// keyed on the gateway payment ID, so replaying the same capture N
// times yields exactly one row and exactly one totals increment. A
// capture for a subscription still awaiting its first payment also
// activates it (payment-link flow included, resolved via the parish ID
// carried in the payment notes).
func (e *Engine) handlePaymentCaptured(ctx context.Context, evt *Event) error {
	if evt.Payment == nil || evt.Payment.ID == "" {
		return errors.Join(ErrMalformedWebhookPayload, errors.New("missing payment entity"))
	}

	sub, err := e.resolvePaymentSubscription(ctx, evt)
	if err != nil {
		return err
	}
	if sub == nil {
		e.log.WarnContext(ctx, "captured payment matches no subscription",
			slog.String("gateway_payment_id", evt.Payment.ID))
		return nil
	}

	now := e.now()
	var paidAt *time.Time
	if evt.Payment.CreatedAt > 0 {
		t := time.Unix(evt.Payment.CreatedAt, 0).UTC()
		paidAt = &t
	} else {
		paidAt = &now
	}

	payment := &Payment{
		ID:               uuid.New(),
		SubscriptionID:   sub.ID,
		ParishID:         sub.ParishID,
		GatewayPaymentID: evt.Payment.ID,
		GatewayOrderID:   evt.Payment.OrderID,
		GatewayInvoiceID: evt.Payment.InvoiceID,
		Amount:           evt.Payment.Amount,
		Currency:         evt.Payment.Currency,
		Status:           PaymentCaptured,
		PaidAt:           paidAt,
		CreatedAt:        now,
	}

	oldStatus := sub.Status
	sub.TotalPaid += evt.Payment.Amount
	sub.TotalInvoices++
	sub.PaymentFailedCount = 0
	sub.LastPaymentAt = paidAt
	sub.UpdatedAt = now

	transition := Transition{
		Subscription: sub,
		History:      e.historyEntry(sub, ActionCharged, oldStatus, sub.Status, "payment captured: "+evt.Payment.ID),
	}

	// First settled payment activates a subscription still waiting on
	// checkout or cash collection.
	if sub.AwaitingFirstPayment() {
		sub.Status = StatusActive
		e.applyPeriod(sub, evt.Subscription)
		transition.History = e.historyEntry(sub, ActionActivated, oldStatus, StatusActive, "first payment captured: "+evt.Payment.ID)
		active := ParishActive
		transition.ParishStatus = &active
	}

	inserted, err := e.store.RecordPayment(ctx, PaymentRecord{
		Payment:    payment,
		Transition: &transition,
	})
	if err != nil {
		return err
	}
	if !inserted {
		e.log.DebugContext(ctx, "payment already recorded",
			slog.String("gateway_payment_id", evt.Payment.ID))
	}
	return nil
}

func (e *Engine) handlePaymentFailed(ctx context.Context, evt *Event) error {
	if evt.Payment == nil || evt.Payment.ID == "" {
		return errors.Join(ErrMalformedWebhookPayload, errors.New("missing payment entity"))
	}

	sub, err := e.resolvePaymentSubscription(ctx, evt)
	if err != nil {
		return err
	}
	if sub == nil {
		e.log.WarnContext(ctx, "failed payment matches no subscription",
			slog.String("gateway_payment_id", evt.Payment.ID))
		return nil
	}

	now := e.now()
	payment := &Payment{
		ID:               uuid.New(),
		SubscriptionID:   sub.ID,
		ParishID:         sub.ParishID,
		GatewayPaymentID: evt.Payment.ID,
		GatewayOrderID:   evt.Payment.OrderID,
		GatewayInvoiceID: evt.Payment.InvoiceID,
		Amount:           evt.Payment.Amount,
		Currency:         evt.Payment.Currency,
		Status:           PaymentFailed,
		FailureReason:    evt.Payment.ErrorDescription,
		CreatedAt:        now,
	}

	sub.PaymentFailedCount++
	sub.UpdatedAt = now

	_, err = e.store.RecordPayment(ctx, PaymentRecord{
		Payment: payment,
		Transition: &Transition{
			Subscription: sub,
			History: e.historyEntry(sub, ActionPaymentFailed, sub.Status, sub.Status,
				"payment failed: "+evt.Payment.ErrorDescription),
		},
	})
	return err
}

// resolvePaymentSubscription finds the subscription a payment event
// belongs to: by the gateway subscription ID when the event carries the
// subscription entity, otherwise by the parish ID in the payment notes
// (payment-link flow). nil with no error means no match.
func (e *Engine) resolvePaymentSubscription(ctx context.Context, evt *Event) (*Subscription, error) {
	if evt.Subscription != nil && evt.Subscription.ID != "" {
		sub, err := e.store.GetSubscriptionByGatewayID(ctx, evt.Subscription.ID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
	}

	if raw, ok := evt.Payment.Notes["parish_id"]; ok {
		parishID, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.Join(ErrMalformedWebhookPayload,
				fmt.Errorf("invalid parish_id in payment notes: %q", raw))
		}
		sub, err := e.store.GetSubscription(ctx, parishID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

func (e *Engine) historyEntry(sub *Subscription, action HistoryAction, oldStatus, newStatus Status, description string) *History {
	return &History{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		ParishID:       sub.ParishID,
		Action:         action,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		OldPlanID:      sub.PlanID,
		NewPlanID:      sub.PlanID,
		Description:    description,
		Actor:          "gateway",
		CreatedAt:      e.now(),
	}
}
