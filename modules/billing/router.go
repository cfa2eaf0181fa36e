package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parishkit/parishkit/core"
	"github.com/parishkit/parishkit/pkg/billing"
	"github.com/parishkit/parishkit/pkg/gating"
)

// Gateway delivery headers (Razorpay-style).
const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"
	HeaderParishID  = "X-Parish-ID"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// RouterOptions wires the billing module's collaborators.
type RouterOptions struct {
	Service *billing.Service
	Engine  *billing.Engine
	Store   billing.Store
	Gating  *gating.Middleware
}

// Router mounts the billing HTTP surface:
//
//	POST /webhooks/gateway          inbound gateway events (always 200)
//	GET  /plans                     plan catalog
//	POST /subscriptions             create subscription
//	GET  /subscriptions             current subscription + plan
//	GET  /subscriptions/status      auth-time status payload
//	POST /subscriptions/cancel      cancel
//	POST /subscriptions/pause       pause
//	POST /subscriptions/resume      resume
//	POST /subscriptions/verify-payment  checkout signature verification
//	POST /subscriptions/activate    privileged manual activation
func Router(opts RouterOptions) chi.Router {
	h := &handlers{
		service: opts.Service,
		engine:  opts.Engine,
		store:   opts.Store,
		gating:  opts.Gating,
	}

	r := chi.NewRouter()

	r.Post("/webhooks/gateway", h.handleWebhook)
	r.Get("/plans", h.handleListPlans)

	r.Route("/subscriptions", func(sr chi.Router) {
		sr.Use(parishFromHeader)
		sr.Post("/", h.handleCreate)
		sr.Get("/", h.handleGet)
		sr.Get("/status", h.handleStatus)
		sr.Post("/cancel", h.handleCancel)
		sr.Post("/pause", h.handlePause)
		sr.Post("/resume", h.handleResume)
		sr.Post("/verify-payment", h.handleVerifyPayment)
		sr.Post("/activate", h.handleActivate)
	})

	return r
}

type handlers struct {
	service *billing.Service
	engine  *billing.Engine
	store   billing.Store
	gating  *gating.Middleware
}

// parishFromHeader resolves the parish identity the authentication
// layer forwards on tenant-scoped requests.
func parishFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderParishID)
		parishID, err := uuid.Parse(raw)
		if err != nil {
			render(w, r, core.JSONErrorMessage(core.ErrUnauthorized, "missing or invalid parish identity"))
			return
		}
		next.ServeHTTP(w, r.WithContext(gating.WithParishID(r.Context(), parishID)))
	})
}

// handleWebhook is the gateway delivery endpoint. It always
// acknowledges with 200 so permanently unprocessable payloads never
// trigger endless gateway retries; failure visibility lives in the
// webhook receipt log.
func (h *handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		render(w, r, core.JSONWithStatus(http.StatusOK, map[string]bool{"success": false}))
		return
	}

	err = h.engine.Process(r.Context(), payload,
		r.Header.Get(HeaderSignature), r.Header.Get(HeaderEventID))

	success := err == nil
	render(w, r, core.JSONWithStatus(http.StatusOK, map[string]bool{"success": success}))
}

func (h *handlers) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.store.ListPlans(r.Context())
	if err != nil {
		render(w, r, mapError(err))
		return
	}
	active := make([]billing.Plan, 0, len(plans))
	for _, plan := range plans {
		if plan.Active {
			active = append(active, plan)
		}
	}
	render(w, r, core.JSON(active))
}

type createRequest struct {
	PlanID        string `json:"plan_id"`
	PaymentMethod string `json:"payment_method"`
	BillingName   string `json:"billing_name"`
	BillingEmail  string `json:"billing_email"`
	BillingPhone  string `json:"billing_phone"`
	Actor         string `json:"actor"`
}

func (h *handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	parishID, _ := gating.ParishIDFromContext(r.Context())

	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		render(w, r, core.JSONErrorMessage(core.ErrBadRequest, "invalid request body"))
		return
	}

	method := billing.PaymentMethod(req.PaymentMethod)
	if method != billing.PaymentMethodOnline && method != billing.PaymentMethodCash {
		render(w, r, core.JSONErrorMessage(core.ErrBadRequest, "payment_method must be online or cash"))
		return
	}

	result, err := h.service.Create(r.Context(), billing.CreateParams{
		ParishID:      parishID,
		PlanID:        req.PlanID,
		PaymentMethod: method,
		BillingName:   req.BillingName,
		BillingEmail:  req.BillingEmail,
		BillingPhone:  req.BillingPhone,
		Actor:         req.Actor,
	})
	if err != nil {
		render(w, r, mapError(err))
		return
	}

	h.gating.Invalidate(r.Context(), parishID)
	render(w, r, core.JSONWithStatus(http.StatusCreated, map[string]any{
		"plan":           result.Plan,
		"subscription":   result.Subscription,
		"gateway_sub_id": result.GatewaySubID,
		"instructions":   result.Instructions,
	}))
}

func (h *handlers) handleGet(w http.ResponseWriter, r *http.Request) {
	parishID, _ := gating.ParishIDFromContext(r.Context())

	sub, plan, err := h.service.Get(r.Context(), parishID)
	if err != nil {
		render(w, r, mapError(err))
		return
	}
	render(w, r, core.JSON(map[string]any{"subscription": sub, "plan": plan}))
}

// handleStatus is the auth-time consumer of the parish aggregate: when
// the parish is not ACTIVE it returns a payment-method-aware body with
// enough metadata for the client to resume checkout.
func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	parishID, _ := gating.ParishIDFromContext(r.Context())

	status, err := h.gating.Status(r.Context(), parishID)
	if err != nil {
		render(w, r, mapError(err))
		return
	}

	body := map[string]any{"subscription_status": string(status)}
	if status != billing.ParishActive {
		if sub, err := h.store.GetSubscription(r.Context(), parishID); err == nil {
			body["payment_method"] = string(sub.PaymentMethod)
			body["gateway_sub_id"] = sub.GatewaySubID
			body["plan_id"] = sub.PlanID
			if sub.PaymentMethod == billing.PaymentMethodCash {
				body["hint"] = "contact the parish office to complete the cash payment"
			} else {
				body["hint"] = "resume checkout with the gateway subscription id"
			}
		}
	}
	render(w, r, core.JSON(body))
}

type cancelRequest struct {
	Reason           string `json:"reason"`
	Actor            string `json:"actor"`
	CancelAtCycleEnd bool   `json:"cancel_at_cycle_end"`
}

func (h *handlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	parishID, _ := gating.ParishIDFromContext(r.Context())

	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		render(w, r, core.JSONErrorMessage(core.ErrBadRequest, "invalid request body"))
		return
	}

	sub, err := h.service.Cancel(r.Context(), parishID, req.Reason, req.Actor, req.CancelAtCycleEnd)
	if err != nil {
		render(w, r, mapError(err))
		return
	}

	h.gating.Invalidate(r.Context(), parishID)
	render(w, r, core.JSON(map[string]any{"subscription": sub}))
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (h *handlers) handlePause(w http.ResponseWriter, r *http.Request) {
	parishID, _ := gating.ParishIDFromContext(r.Context())

	var req actorRequest
	_ = decodeJSON(r, &req)

	sub, err := h.service.Pause(r.Context(), parishID, req.Actor)
	if err != nil {
		render(w, r, mapError(err))
		return
	}
	render(w, r, core.JSON(map[string]any{"subscription": sub}))
}

func (h *handlers) handleResume(w http.ResponseWriter, r *http.Request) {
	parishID, _ := gating.ParishIDFromContext(r.Context())

	var req actorRequest
	_ = decodeJSON(r, &req)

	sub, err := h.service.Resume(r.Context(), parishID, req.Actor)
	if err != nil {
		render(w, r, mapError(err))
		return
	}
	render(w, r, core.JSON(map[string]any{"subscription": sub}))
}

type verifyPaymentRequest struct {
	PaymentID      string `json:"payment_id"`
	SubscriptionID string `json:"subscription_id"`
	Signature      string `json:"signature"`
}

func (h *handlers) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		render(w, r, core.JSONErrorMessage(core.ErrBadRequest, "invalid request body"))
		return
	}

	sub, err := h.service.VerifyPaymentSignature(r.Context(), req.PaymentID, req.SubscriptionID, req.Signature)
	if err != nil {
		render(w, r, mapError(err))
		return
	}

	// The subscription is resolved by gateway ID and may belong to a
	// parish other than the caller's; invalidate the owner's entry.
	h.gating.Invalidate(r.Context(), sub.ParishID)
	render(w, r, core.JSON(map[string]any{"subscription": sub}))
}

type activateRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (h *handlers) handleActivate(w http.ResponseWriter, r *http.Request) {
	parishID, _ := gating.ParishIDFromContext(r.Context())

	var req activateRequest
	if err := decodeJSON(r, &req); err != nil {
		render(w, r, core.JSONErrorMessage(core.ErrBadRequest, "invalid request body"))
		return
	}

	sub, err := h.service.ManuallyActivate(r.Context(), parishID, req.Actor, req.Reason)
	if err != nil {
		render(w, r, mapError(err))
		return
	}

	h.gating.Invalidate(r.Context(), parishID)
	render(w, r, core.JSON(map[string]any{"subscription": sub}))
}

// mapError translates billing sentinel errors onto the HTTP taxonomy.
func mapError(err error) core.Response {
	switch {
	case errors.Is(err, billing.ErrSubscriptionExists):
		return core.JSONErrorMessage(core.ErrConflict, err.Error())
	case errors.Is(err, billing.ErrParishNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound):
		return core.JSONErrorMessage(core.ErrNotFound, err.Error())
	case errors.Is(err, billing.ErrPlanInactive),
		errors.Is(err, billing.ErrSubscriptionCancelled),
		errors.Is(err, billing.ErrInvalidSubscriptionOp),
		errors.Is(err, billing.ErrInvalidPaymentSignature):
		return core.JSONErrorMessage(core.ErrBadRequest, err.Error())
	case errors.Is(err, billing.ErrInvalidWebhookSignature):
		return core.JSONErrorMessage(core.ErrUnauthorized, err.Error())
	default:
		return core.JSONErrorMessage(core.ErrInternalServerError, err.Error())
	}
}

func render(w http.ResponseWriter, r *http.Request, resp core.Response) {
	_ = resp.Render(w, r)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
