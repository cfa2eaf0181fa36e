package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription represents a parish's subscription to a plan.
// Each parish has at most one subscription row; cancellation is a
// terminal status, never a row deletion.
type Subscription struct {
	ID            uuid.UUID
	ParishID      uuid.UUID
	PlanID        string
	PaymentMethod PaymentMethod
	Status        Status

	// Gateway identifiers, empty for cash subscriptions.
	GatewaySubID      string
	GatewayCustomerID string

	BillingName  string
	BillingEmail string
	BillingPhone string

	TrialStartsAt  *time.Time
	TrialEndsAt    *time.Time
	PeriodStartsAt *time.Time
	PeriodEndsAt   *time.Time
	NextBillingAt  *time.Time
	LastPaymentAt  *time.Time

	CancelledAt      *time.Time
	CancelReason     string
	CancelAtCycleEnd bool
	ExpiresAt        *time.Time

	TotalPaid          int64
	TotalInvoices      int64
	PaymentFailedCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// AwaitingFirstPayment reports whether the subscription has been created
// but never settled a payment. Both the online (created) and cash
// (pending) entry states qualify.
func (s *Subscription) AwaitingFirstPayment() bool {
	return s.Status == StatusCreated || s.Status == StatusPending
}

// ParishProjection maps a subscription status to the coarse four-value
// parish aggregate. Webhook handlers and the lifecycle service apply
// this only at the transitions that change parish-visible access.
func (s Status) ParishProjection() ParishStatus {
	switch s {
	case StatusActive:
		return ParishActive
	case StatusHalted:
		return ParishSuspended
	case StatusCancelled:
		return ParishCancelled
	default:
		return ParishPending
	}
}

// SetPeriod applies a billing window and next-billing marker.
// Zero times leave the corresponding field untouched.
func (s *Subscription) SetPeriod(start, end, nextBilling time.Time) {
	if !start.IsZero() {
		s.PeriodStartsAt = &start
	}
	if !end.IsZero() {
		s.PeriodEndsAt = &end
	}
	if !nextBilling.IsZero() {
		s.NextBillingAt = &nextBilling
	}
}

// defaultPeriodDays is the synthetic billing window used when the
// gateway supplies no period dates (manual activation, signature
// verification, payment-link flow).
const defaultPeriodDays = 30

// SetDefaultPeriod applies a synthetic billing window starting now.
// Gateway-supplied dates are preferred wherever they exist; this is the
// fallback only.
func (s *Subscription) SetDefaultPeriod(now time.Time) {
	end := now.AddDate(0, 0, defaultPeriodDays)
	s.SetPeriod(now, end, end)
}
