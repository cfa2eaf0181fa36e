package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingmod "github.com/parishkit/parishkit/modules/billing"
	"github.com/parishkit/parishkit/pkg/billing"
	"github.com/parishkit/parishkit/pkg/gateway"
	"github.com/parishkit/parishkit/pkg/gating"
)

const validSignature = "valid-signature"

// stubGateway satisfies billing.Gateway for handler tests.
type stubGateway struct{}

func (stubGateway) CreateCustomer(ctx context.Context, params gateway.CustomerParams) (*gateway.Customer, error) {
	return &gateway.Customer{ID: "cust_1"}, nil
}

func (stubGateway) CreateSubscription(ctx context.Context, params gateway.SubscriptionParams) (*gateway.Subscription, error) {
	return &gateway.Subscription{ID: "sub_1", Status: "created"}, nil
}

func (stubGateway) CancelSubscription(ctx context.Context, subID string, atCycleEnd bool) error {
	return nil
}

func (stubGateway) PauseSubscription(ctx context.Context, subID string) error  { return nil }
func (stubGateway) ResumeSubscription(ctx context.Context, subID string) error { return nil }

func (stubGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	return &gateway.Payment{ID: paymentID}, nil
}

func (stubGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	return signature == validSignature
}

func (stubGateway) VerifyPaymentSignature(paymentID, subscriptionID, signature string) bool {
	return signature == validSignature
}

func newTestRouter(t *testing.T) (http.Handler, *billing.MemStore, uuid.UUID) {
	t.Helper()

	store := billing.NewMemStore()
	gw := stubGateway{}

	parishID := uuid.New()
	store.AddParish(parishID)
	require.NoError(t, store.SavePlan(context.Background(), &billing.Plan{
		ID:            "standard-monthly",
		Name:          "Standard",
		Tier:          billing.TierStandard,
		Cycle:         billing.CycleMonthly,
		GatewayPlanID: "plan_std",
		Active:        true,
	}))

	router := billingmod.Router(billingmod.RouterOptions{
		Service: billing.NewService(store, gw),
		Engine:  billing.NewEngine(store, gw),
		Store:   store,
		Gating:  gating.New(store),
	})
	return router, store, parishID
}

func doJSON(t *testing.T, handler http.Handler, method, path string, parishID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if parishID != uuid.Nil {
		req.Header.Set(billingmod.HeaderParishID, parishID.String())
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateSubscriptionEndpoint(t *testing.T) {
	t.Parallel()

	router, _, parishID := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/subscriptions",
		parishID, `{"plan_id":"standard-monthly","payment_method":"online"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// One subscription per parish.
	rec = doJSON(t, router, http.MethodPost, "/subscriptions",
		parishID, `{"plan_id":"standard-monthly","payment_method":"online"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateSubscriptionRejectsBadMethod(t *testing.T) {
	t.Parallel()

	router, _, parishID := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/subscriptions",
		parishID, `{"plan_id":"standard-monthly","payment_method":"cheque"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscriptionsRequireParishHeader(t *testing.T) {
	t.Parallel()

	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/subscriptions", uuid.Nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSubscriptionNotFound(t *testing.T) {
	t.Parallel()

	router, _, parishID := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/subscriptions", parishID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPlansOnlyActive(t *testing.T) {
	t.Parallel()

	router, store, _ := newTestRouter(t)
	require.NoError(t, store.SavePlan(context.Background(), &billing.Plan{
		ID: "retired", Tier: billing.TierBasic, Cycle: billing.CycleMonthly, Active: false,
	}))

	rec := doJSON(t, router, http.MethodGet, "/plans", uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []billing.Plan `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "standard-monthly", envelope.Data[0].ID)
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	t.Parallel()

	router, store, _ := newTestRouter(t)

	payload := `{"event":"subscription.activated","payload":{"subscription":{"entity":{"id":"sub_nobody"}}}}`

	// Valid signature, unknown subscription: processed as a no-op.
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(payload))
	req.Header.Set(billingmod.HeaderSignature, validSignature)
	req.Header.Set(billingmod.HeaderEventID, "evt_1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"success":true}}`, rec.Body.String())
	assert.Len(t, store.WebhookLogs(), 1)

	// Tampered signature: still 200, flagged unsuccessful, not logged.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/gateway", strings.NewReader(payload))
	req.Header.Set(billingmod.HeaderSignature, "tampered")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"success":false}}`, rec.Body.String())
	assert.Len(t, store.WebhookLogs(), 1)
}

func TestStatusEndpointPendingCash(t *testing.T) {
	t.Parallel()

	router, _, parishID := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/subscriptions",
		parishID, `{"plan_id":"standard-monthly","payment_method":"cash"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/subscriptions/status", parishID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, string(billing.ParishPending), envelope.Data["subscription_status"])
	assert.Equal(t, string(billing.PaymentMethodCash), envelope.Data["payment_method"])
	assert.NotEmpty(t, envelope.Data["hint"])
}

func TestVerifyPaymentEndpoint(t *testing.T) {
	t.Parallel()

	router, store, parishID := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/subscriptions",
		parishID, `{"plan_id":"standard-monthly","payment_method":"online"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/subscriptions/verify-payment",
		parishID, `{"payment_id":"pay_1","subscription_id":"sub_1","signature":"forged"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/subscriptions/verify-payment",
		parishID, `{"payment_id":"pay_1","subscription_id":"sub_1","signature":"`+validSignature+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	status, err := store.GetParishStatus(context.Background(), parishID)
	require.NoError(t, err)
	assert.Equal(t, billing.ParishActive, status)
}

// mapCache is a minimal gating.StatusCache for invalidation tests.
type mapCache struct {
	mu     sync.Mutex
	values map[string]billing.ParishStatus
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]billing.ParishStatus)}
}

func (c *mapCache) Get(ctx context.Context, parishID string) (billing.ParishStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.values[parishID]
	return status, ok
}

func (c *mapCache) Set(ctx context.Context, parishID string, status billing.ParishStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[parishID] = status
	return nil
}

func (c *mapCache) Delete(ctx context.Context, parishID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, parishID)
	return nil
}

func TestVerifyPaymentInvalidatesOwningParish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := billing.NewMemStore()
	cache := newMapCache()
	gatingMW := gating.New(store, gating.WithCache(cache))

	owner := uuid.New()
	store.AddParish(owner)
	now := time.Now().UTC()
	require.NoError(t, store.CreateSubscription(ctx, &billing.Subscription{
		ID:            uuid.New(),
		ParishID:      owner,
		PlanID:        "standard-monthly",
		PaymentMethod: billing.PaymentMethodOnline,
		Status:        billing.StatusCreated,
		GatewaySubID:  "sub_owner",
		CreatedAt:     now,
		UpdatedAt:     now,
	}))

	router := billingmod.Router(billingmod.RouterOptions{
		Service: billing.NewService(store, stubGateway{}),
		Engine:  billing.NewEngine(store, stubGateway{}),
		Store:   store,
		Gating:  gatingMW,
	})

	// A stale non-active entry for the owning parish sits in the cache.
	require.NoError(t, cache.Set(ctx, owner.String(), billing.ParishPending))

	// The checkout callback is verified on a session scoped to a
	// different parish; the owner is resolved by gateway subscription ID.
	caller := uuid.New()
	rec := doJSON(t, router, http.MethodPost, "/subscriptions/verify-payment",
		caller, `{"payment_id":"pay_9","subscription_id":"sub_owner","signature":"`+validSignature+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	status, err := gatingMW.Status(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, billing.ParishActive, status)
}
