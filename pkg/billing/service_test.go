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

func testPlan() *billing.Plan {
	return &billing.Plan{
		ID:   "standard-monthly",
		Name: "Standard",
		Tier: billing.TierStandard,
		Price: billing.Money{
			Amount:   99900,
			Currency: "INR",
		},
		Cycle:     billing.CycleMonthly,
		TrialDays: 14,
		Limits: map[billing.Resource]int64{
			billing.ResourceParishioners: 2000,
			billing.ResourceWards:        15,
		},
		GatewayPlanID: "plan_standard_monthly",
		Active:        true,
	}
}

func newTestService(t *testing.T) (*billing.Service, *billing.MemStore, *fakeGateway, uuid.UUID) {
	t.Helper()

	store := billing.NewMemStore()
	gw := &fakeGateway{}
	svc := billing.NewService(store, gw)

	parishID := uuid.New()
	store.AddParish(parishID)
	require.NoError(t, store.SavePlan(context.Background(), testPlan()))

	return svc, store, gw, parishID
}

func TestServiceCreateOnline(t *testing.T) {
	t.Parallel()

	svc, store, gw, parishID := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
		BillingName:   "St. Mary's Parish",
		BillingEmail:  "office@stmarys.example",
		Actor:         "admin@stmarys.example",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, billing.StatusCreated, result.Subscription.Status)
	assert.Equal(t, "sub_test001", result.GatewaySubID)
	assert.Empty(t, result.Instructions)
	assert.NotNil(t, result.Subscription.TrialEndsAt)

	assert.Equal(t, 1, gw.createdCustomers)
	assert.Equal(t, 1, gw.createdSubscriptions)
	assert.Equal(t, billing.CycleMonthly.TotalCount(), gw.lastSubscriptionParams.TotalCount)
	assert.Equal(t, parishID.String(), gw.lastSubscriptionParams.Notes["parish_id"])

	// The parish plan pointer is set at creation; the aggregate stays
	// PENDING until the first payment settles.
	assert.Equal(t, "standard-monthly", store.ParishPlan(parishID))
	status, err := store.GetParishStatus(ctx, parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.ParishPending, status)
}

func TestServiceCreateCash(t *testing.T) {
	t.Parallel()

	svc, store, gw, parishID := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodCash,
		BillingName:   "Holy Cross Parish",
	})
	require.NoError(t, err)

	assert.Equal(t, billing.StatusPending, result.Subscription.Status)
	assert.Empty(t, result.GatewaySubID)
	assert.NotEmpty(t, result.Instructions)

	// Cash subscriptions never touch the gateway.
	assert.Equal(t, 0, gw.createdCustomers)
	assert.Equal(t, 0, gw.createdSubscriptions)

	sub, err := store.GetSubscription(ctx, parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.PaymentMethodCash, sub.PaymentMethod)
}

func TestServiceCreateDuplicate(t *testing.T) {
	t.Parallel()

	svc, _, _, parishID := newTestService(t)
	ctx := context.Background()

	params := billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodCash,
	}
	_, err := svc.Create(ctx, params)
	require.NoError(t, err)

	_, err = svc.Create(ctx, params)
	assert.ErrorIs(t, err, billing.ErrSubscriptionExists)
}

func TestServiceCreateUnknownParish(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), billing.CreateParams{
		ParishID:      uuid.New(),
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
	})
	assert.ErrorIs(t, err, billing.ErrParishNotFound)
}

func TestServiceCreateInactivePlan(t *testing.T) {
	t.Parallel()

	svc, store, _, parishID := newTestService(t)
	ctx := context.Background()

	retired := testPlan()
	retired.ID = "retired-plan"
	retired.Active = false
	require.NoError(t, store.SavePlan(ctx, retired))

	_, err := svc.Create(ctx, billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "retired-plan",
		PaymentMethod: billing.PaymentMethodOnline,
	})
	assert.ErrorIs(t, err, billing.ErrPlanInactive)
}

func TestServiceCancel(t *testing.T) {
	t.Parallel()

	svc, store, gw, parishID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
	})
	require.NoError(t, err)

	sub, err := svc.Cancel(ctx, parishID, "switching systems", "admin", false)
	require.NoError(t, err)

	assert.Equal(t, billing.StatusCancelled, sub.Status)
	assert.Equal(t, "switching systems", sub.CancelReason)
	require.NotNil(t, sub.CancelledAt)
	assert.Equal(t, []string{"sub_test001"}, gw.cancelled)

	status, err := store.GetParishStatus(ctx, parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.ParishCancelled, status)
	assert.Empty(t, store.ParishPlan(parishID))

	// Cancelling twice is rejected.
	_, err = svc.Cancel(ctx, parishID, "again", "admin", false)
	assert.ErrorIs(t, err, billing.ErrSubscriptionCancelled)
}

func TestServiceCancelGatewayFailureKeepsState(t *testing.T) {
	t.Parallel()

	svc, store, gw, parishID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
	})
	require.NoError(t, err)

	gw.failCancel = true
	_, err = svc.Cancel(ctx, parishID, "reason", "admin", false)
	assert.ErrorIs(t, err, billing.ErrGatewayFailure)

	sub, err := store.GetSubscription(ctx, parishID)
	require.NoError(t, err)
	assert.NotEqual(t, billing.StatusCancelled, sub.Status)
}

func TestServicePauseResume(t *testing.T) {
	t.Parallel()

	svc, store, gw, parishID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
	})
	require.NoError(t, err)

	// Pause requires an active subscription.
	_, err = svc.Pause(ctx, parishID, "admin")
	assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionOp)

	_, err = svc.ManuallyActivate(ctx, parishID, "admin", "test setup")
	require.NoError(t, err)

	sub, err := svc.Pause(ctx, parishID, "admin")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaused, sub.Status)
	assert.Equal(t, []string{"sub_test001"}, gw.paused)

	// Resume only applies to paused subscriptions.
	sub, err = svc.Resume(ctx, parishID, "admin")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, []string{"sub_test001"}, gw.resumed)

	_, err = svc.Resume(ctx, parishID, "admin")
	assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionOp)

	stored, err := store.GetSubscription(ctx, parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, stored.Status)
}

func TestServiceVerifyPaymentSignature(t *testing.T) {
	t.Parallel()

	svc, store, _, parishID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, billing.CreateParams{
		ParishID:      parishID,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
	})
	require.NoError(t, err)

	// Forged signature: hard failure, no state change.
	_, err = svc.VerifyPaymentSignature(ctx, "pay_123", "sub_test001", "forged")
	assert.ErrorIs(t, err, billing.ErrInvalidPaymentSignature)

	sub, err := store.GetSubscription(ctx, parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCreated, sub.Status)

	// Valid signature activates immediately with a synthetic period.
	sub, err = svc.VerifyPaymentSignature(ctx, "pay_123", "sub_test001", validPaymentSignature)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, sub.Status)
	require.NotNil(t, sub.PeriodEndsAt)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), *sub.PeriodEndsAt, time.Minute)

	status, err := store.GetParishStatus(ctx, parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.ParishActive, status)
}

func TestServiceManuallyActivateWithoutSubscription(t *testing.T) {
	t.Parallel()

	svc, store, _, parishID := newTestService(t)
	ctx := context.Background()

	sub, err := svc.ManuallyActivate(ctx, parishID, "root", "gateway sandbox down")
	require.NoError(t, err)
	assert.Nil(t, sub)

	status, err := store.GetParishStatus(ctx, parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.ParishActive, status)
}
