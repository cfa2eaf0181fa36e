package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parishkit/parishkit/pkg/billing"
)

func TestMemStoreRecordPaymentAtomicWithTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemStore()
	parishID := uuid.New()
	store.AddParish(parishID)

	now := time.Now().UTC()
	sub := &billing.Subscription{
		ID:            uuid.New(),
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
		Status:        billing.StatusActive,
		GatewaySubID:  "sub_abc",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	rec := billing.PaymentRecord{
		Payment: &billing.Payment{
			ID:               uuid.New(),
			SubscriptionID:   sub.ID,
			ParishID:         parishID,
			GatewayPaymentID: "pay_atomic",
			Amount:           99900,
			Status:           billing.PaymentCaptured,
			CreatedAt:        now,
		},
		Transition: &billing.Transition{
			Subscription: sub,
			History: &billing.History{
				ID:             uuid.New(),
				SubscriptionID: sub.ID,
				ParishID:       parishID,
				Action:         billing.ActionCharged,
				CreatedAt:      now,
			},
		},
	}

	// The subscription row does not exist yet, so the transition is
	// rejected and no payment may be recorded alongside it.
	_, err := store.RecordPayment(ctx, rec)
	require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

	payments, err := store.ListPayments(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	// The failed attempt must not poison the dedup key: once the
	// subscription exists the same record goes through.
	require.NoError(t, store.CreateSubscription(ctx, sub))
	inserted, err := store.RecordPayment(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	payments, err = store.ListPayments(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}
