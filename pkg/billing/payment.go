package billing

import (
	"time"

	"github.com/google/uuid"
)

// Payment is an append-only record of a settlement event from the
// gateway. The gateway payment ID, when present, is unique: a duplicate
// webhook delivery must never create a second row.
type Payment struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	ParishID       uuid.UUID

	GatewayPaymentID string
	GatewayOrderID   string
	GatewayInvoiceID string

	Amount   int64
	Currency string
	Status   PaymentStatus

	FailureReason string
	PaidAt        *time.Time
	CreatedAt     time.Time
}

// History is an append-only audit entry for a state transition or an
// administrative action on a subscription. Rows are never mutated.
type History struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	ParishID       uuid.UUID

	Action      HistoryAction
	OldStatus   Status
	NewStatus   Status
	OldPlanID   string
	NewPlanID   string
	Description string
	Actor       string

	CreatedAt time.Time
}
