package billing

// Tier represents a plan tier in ascending order of capability.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// tierOrder fixes the ordinal ranking used by tier gating.
var tierOrder = map[Tier]int{
	TierBasic:      1,
	TierStandard:   2,
	TierPremium:    3,
	TierEnterprise: 4,
}

// AtLeast reports whether t ranks equal to or above min.
// Unknown tiers rank below every known tier to fail closed.
func (t Tier) AtLeast(min Tier) bool {
	return tierOrder[t] >= tierOrder[min] && tierOrder[t] > 0
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierOrder[t]
	return ok
}

// BillingCycle represents the billing frequency of a plan.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// TotalCount returns the number of billing cycles spanning roughly
// thirty years, the longest horizon the gateway accepts for a
// subscription schedule.
func (c BillingCycle) TotalCount() int {
	switch c {
	case CycleQuarterly:
		return 120
	case CycleYearly:
		return 30
	default:
		return 360
	}
}

// PaymentMethod distinguishes gateway-billed subscriptions from
// manually collected ones.
type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodCash   PaymentMethod = "cash"
)

// Status represents the state of a subscription.
type Status string

const (
	StatusCreated   Status = "created" // online subscription awaiting first charge
	StatusPending   Status = "pending" // cash subscription awaiting manual payment
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusHalted    Status = "halted" // gateway stopped retrying failed charges
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// ParishStatus is the coarse projection of subscription state stored on
// the parish record. Authentication and feature gating read this single
// value instead of joining the subscription tables.
type ParishStatus string

const (
	ParishActive    ParishStatus = "ACTIVE"
	ParishPending   ParishStatus = "PENDING"
	ParishSuspended ParishStatus = "SUSPENDED"
	ParishCancelled ParishStatus = "CANCELLED"
)

// PaymentStatus represents the settlement state of a payment.
type PaymentStatus string

const (
	PaymentCreated    PaymentStatus = "created"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentPending    PaymentStatus = "pending"
)

// Resource represents a countable parish resource capped by plan limits.
type Resource string

const (
	ResourceParishioners Resource = "max_parishioners"
	ResourceFamilies     Resource = "max_families"
	ResourceWards        Resource = "max_wards"
	ResourceAdmins       Resource = "max_admins"
	ResourceStorage      Resource = "max_storage" // measured in MB
)

// Unlimited indicates no cap for a resource. Plans omit a resource or
// set it to zero to grant unlimited usage.
const Unlimited int64 = 0

// Money represents a monetary amount in the smallest currency unit,
// e.g. INR 499.00 is Amount: 49900, Currency: "INR".
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// HistoryAction classifies entries in the subscription audit trail.
type HistoryAction string

const (
	ActionCreated           HistoryAction = "created"
	ActionActivated         HistoryAction = "activated"
	ActionCharged           HistoryAction = "charged"
	ActionCancelled         HistoryAction = "cancelled"
	ActionPaused            HistoryAction = "paused"
	ActionResumed           HistoryAction = "resumed"
	ActionHalted            HistoryAction = "halted"
	ActionExpired           HistoryAction = "expired"
	ActionPaymentFailed     HistoryAction = "payment_failed"
	ActionManuallyActivated HistoryAction = "manually_activated"
)
