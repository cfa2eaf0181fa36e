package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parishkit/parishkit/pkg/gateway"
)

// Gateway is the narrow contract the billing engine needs from the
// payment gateway client. *gateway.Client satisfies it; tests supply
// fakes.
type Gateway interface {
	CreateCustomer(ctx context.Context, params gateway.CustomerParams) (*gateway.Customer, error)
	CreateSubscription(ctx context.Context, params gateway.SubscriptionParams) (*gateway.Subscription, error)
	CancelSubscription(ctx context.Context, subID string, atCycleEnd bool) error
	PauseSubscription(ctx context.Context, subID string) error
	ResumeSubscription(ctx context.Context, subID string) error
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
	VerifyPaymentSignature(paymentID, subscriptionID, signature string) bool
}

// Service orchestrates subscription creation, cancellation, pause and
// resume, payment-signature verification, and manual activation. It is
// the only writer of subscription status outside the webhook path.
type Service struct {
	store   Store
	gateway Gateway
	log     *slog.Logger
	now     func() time.Time
}

// ServiceOption configures optional service behaviour.
type ServiceOption func(*Service)

// WithServiceLogger replaces the default logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithServiceClock replaces the time source, for deterministic tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the lifecycle service. Panics on nil store or
// gateway to fail fast on misconfigured wiring.
func NewService(store Store, gw Gateway, opts ...ServiceOption) *Service {
	if store == nil {
		panic("billing: Store is required")
	}
	if gw == nil {
		panic("billing: Gateway is required")
	}

	s := &Service{
		store:   store,
		gateway: gw,
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateParams carries everything needed to subscribe a parish to a plan.
type CreateParams struct {
	ParishID      uuid.UUID
	PlanID        string
	PaymentMethod PaymentMethod
	BillingName   string
	BillingEmail  string
	BillingPhone  string
	Actor         string
}

// CreateResult is returned to the caller driving the checkout flow.
type CreateResult struct {
	Plan         *Plan
	Subscription *Subscription

	// GatewaySubID is the identifier the client-side checkout needs to
	// open the gateway's hosted flow. Empty for cash subscriptions.
	GatewaySubID string

	// Instructions holds the cash-payment guidance for offline flows.
	Instructions string
}

// Create subscribes a parish to a plan. Online subscriptions register a
// gateway customer and a subscription schedule spanning roughly thirty
// years of billing cycles; cash subscriptions skip the gateway
// entirely and await manual settlement.
func (s *Service) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	exists, err := s.store.ParishExists(ctx, params.ParishID)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	if !exists {
		return nil, ErrParishNotFound
	}

	// One subscription per parish, enforced before any gateway call.
	if _, err := s.store.GetSubscription(ctx, params.ParishID); err == nil {
		return nil, ErrSubscriptionExists
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, errors.Join(ErrStoreFailure, err)
	}

	plan, err := s.store.GetPlan(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanInactive
	}

	now := s.now()
	sub := &Subscription{
		ID:            uuid.New(),
		ParishID:      params.ParishID,
		PlanID:        plan.ID,
		PaymentMethod: params.PaymentMethod,
		Status:        StatusPending,
		BillingName:   params.BillingName,
		BillingEmail:  params.BillingEmail,
		BillingPhone:  params.BillingPhone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if plan.HasTrial() {
		trialEnd := plan.TrialEndsAt(now)
		sub.TrialStartsAt = &now
		sub.TrialEndsAt = &trialEnd
	}

	if params.PaymentMethod == PaymentMethodOnline {
		customer, err := s.gateway.CreateCustomer(ctx, gateway.CustomerParams{
			Name:  params.BillingName,
			Email: params.BillingEmail,
			Phone: params.BillingPhone,
			Notes: map[string]string{"parish_id": params.ParishID.String()},
		})
		if err != nil {
			return nil, errors.Join(ErrGatewayFailure, err)
		}
		sub.GatewayCustomerID = customer.ID
		sub.Status = StatusCreated

		if plan.GatewayPlanID != "" {
			gwSub, err := s.gateway.CreateSubscription(ctx, gateway.SubscriptionParams{
				PlanID:     plan.GatewayPlanID,
				CustomerID: customer.ID,
				TotalCount: plan.Cycle.TotalCount(),
				Notes:      map[string]string{"parish_id": params.ParishID.String()},
			})
			if err != nil {
				return nil, errors.Join(ErrGatewayFailure, err)
			}
			sub.GatewaySubID = gwSub.ID
		}
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	planID := plan.ID
	if err := s.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History: s.historyEntry(sub, ActionCreated, sub.Status, sub.Status,
			fmt.Sprintf("subscription created (%s, plan %s)", sub.PaymentMethod, plan.ID), params.Actor),
		SetParishPlan: &planID,
	}); err != nil {
		return nil, err
	}

	result := &CreateResult{
		Plan:         plan,
		Subscription: sub,
		GatewaySubID: sub.GatewaySubID,
	}
	if params.PaymentMethod == PaymentMethodCash {
		result.Instructions = "Subscription is pending. Contact the parish office to complete the cash payment; access is enabled once the payment is recorded."
	}

	s.log.InfoContext(ctx, "subscription created",
		slog.String("parish_id", params.ParishID.String()),
		slog.String("plan_id", plan.ID),
		slog.String("payment_method", string(params.PaymentMethod)))

	return result, nil
}

// Cancel cancels the parish's subscription. The gateway is notified
// first when an external schedule exists; local state then moves to
// cancelled and the parish plan pointer is cleared.
func (s *Service) Cancel(ctx context.Context, parishID uuid.UUID, reason, actor string, atCycleEnd bool) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, parishID)
	if err != nil {
		return nil, err
	}
	if sub.IsCancelled() {
		return nil, ErrSubscriptionCancelled
	}

	if sub.GatewaySubID != "" {
		if err := s.gateway.CancelSubscription(ctx, sub.GatewaySubID, atCycleEnd); err != nil {
			return nil, errors.Join(ErrGatewayFailure, err)
		}
	}

	now := s.now()
	oldStatus := sub.Status
	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.CancelReason = reason
	sub.CancelAtCycleEnd = atCycleEnd
	sub.UpdatedAt = now

	cancelled := ParishCancelled
	clearPlan := ""
	if err := s.store.ApplyTransition(ctx, Transition{
		Subscription:  sub,
		History:       s.historyEntry(sub, ActionCancelled, oldStatus, StatusCancelled, "subscription cancelled: "+reason, actor),
		ParishStatus:  &cancelled,
		SetParishPlan: &clearPlan,
	}); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription cancelled",
		slog.String("parish_id", parishID.String()),
		slog.String("reason", reason))

	return sub, nil
}

// Pause suspends billing without ending the subscription.
func (s *Service) Pause(ctx context.Context, parishID uuid.UUID, actor string) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, parishID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, ErrInvalidSubscriptionOp
	}

	if sub.GatewaySubID != "" {
		if err := s.gateway.PauseSubscription(ctx, sub.GatewaySubID); err != nil {
			return nil, errors.Join(ErrGatewayFailure, err)
		}
	}

	oldStatus := sub.Status
	sub.Status = StatusPaused
	sub.UpdatedAt = s.now()

	if err := s.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History:      s.historyEntry(sub, ActionPaused, oldStatus, StatusPaused, "subscription paused", actor),
	}); err != nil {
		return nil, err
	}

	return sub, nil
}

// Resume reactivates a paused subscription.
func (s *Service) Resume(ctx context.Context, parishID uuid.UUID, actor string) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, parishID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusPaused {
		return nil, ErrInvalidSubscriptionOp
	}

	if sub.GatewaySubID != "" {
		if err := s.gateway.ResumeSubscription(ctx, sub.GatewaySubID); err != nil {
			return nil, errors.Join(ErrGatewayFailure, err)
		}
	}

	oldStatus := sub.Status
	sub.Status = StatusActive
	sub.UpdatedAt = s.now()

	if err := s.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History:      s.historyEntry(sub, ActionResumed, oldStatus, StatusActive, "subscription resumed", actor),
	}); err != nil {
		return nil, err
	}

	return sub, nil
}

// VerifyPaymentSignature confirms a checkout completion reported by the
// client. The webhook for the same payment may still be in flight, so
// this path activates the subscription directly once the signature over
// "<paymentID>|<subscriptionID>" checks out. A forged signature leaves
// all state untouched.
func (s *Service) VerifyPaymentSignature(ctx context.Context, paymentID, gatewaySubID, signature string) (*Subscription, error) {
	if !s.gateway.VerifyPaymentSignature(paymentID, gatewaySubID, signature) {
		return nil, ErrInvalidPaymentSignature
	}

	sub, err := s.store.GetSubscriptionByGatewayID(ctx, gatewaySubID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	oldStatus := sub.Status
	sub.Status = StatusActive
	sub.LastPaymentAt = &now
	// The checkout callback carries no period dates; the charged or
	// activated webhook refreshes them with gateway values later.
	sub.SetDefaultPeriod(now)
	sub.UpdatedAt = now

	active := ParishActive
	if err := s.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History: s.historyEntry(sub, ActionActivated, oldStatus, StatusActive,
			"payment signature verified, payment "+paymentID, "checkout"),
		ParishStatus: &active,
	}); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription activated via payment signature",
		slog.String("parish_id", sub.ParishID.String()),
		slog.String("gateway_payment_id", paymentID))

	return sub, nil
}

// ManuallyActivate forces a subscription active without any gateway
// interaction. Privileged escape hatch for environments where the
// gateway's test surface is unusable; the audit entry always records
// the action as manual.
func (s *Service) ManuallyActivate(ctx context.Context, parishID uuid.UUID, actor, reason string) (*Subscription, error) {
	exists, err := s.store.ParishExists(ctx, parishID)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	if !exists {
		return nil, ErrParishNotFound
	}

	sub, err := s.store.GetSubscription(ctx, parishID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// No subscription row: still force the aggregate so the
			// parish can log in while billing is sorted out by hand.
			if err := s.store.SetParishStatus(ctx, parishID, ParishActive); err != nil {
				return nil, errors.Join(ErrStoreFailure, err)
			}
			return nil, nil
		}
		return nil, err
	}

	now := s.now()
	oldStatus := sub.Status
	sub.Status = StatusActive
	sub.SetDefaultPeriod(now)
	sub.UpdatedAt = now

	active := ParishActive
	if err := s.store.ApplyTransition(ctx, Transition{
		Subscription: sub,
		History: s.historyEntry(sub, ActionManuallyActivated, oldStatus, StatusActive,
			"manually activated without gateway: "+reason, actor),
		ParishStatus: &active,
	}); err != nil {
		return nil, err
	}

	s.log.WarnContext(ctx, "subscription manually activated",
		slog.String("parish_id", parishID.String()),
		slog.String("actor", actor),
		slog.String("reason", reason))

	return sub, nil
}

// Get returns the parish's subscription together with its plan.
func (s *Service) Get(ctx context.Context, parishID uuid.UUID) (*Subscription, *Plan, error) {
	sub, err := s.store.GetSubscription(ctx, parishID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return sub, plan, nil
}

func (s *Service) historyEntry(sub *Subscription, action HistoryAction, oldStatus, newStatus Status, description, actor string) *History {
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
		Actor:          actor,
		CreatedAt:      s.now(),
	}
}
