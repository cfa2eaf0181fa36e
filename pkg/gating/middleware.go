package gating

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/parishkit/parishkit/pkg/billing"
)

// SubscriptionReader is the read-only slice of the billing store the
// gating middleware consults. It never writes subscription state.
type SubscriptionReader interface {
	GetParishStatus(ctx context.Context, parishID uuid.UUID) (billing.ParishStatus, error)
	GetSubscription(ctx context.Context, parishID uuid.UUID) (*billing.Subscription, error)
	GetPlan(ctx context.Context, id string) (*billing.Plan, error)
}

// CounterFunc returns the current usage of a resource for a parish.
// Called on every limit-gated creation attempt, so implementations
// should be a cheap tenant-scoped count or a cached aggregate.
type CounterFunc func(ctx context.Context, parishID uuid.UUID) (int64, error)

// Middleware gates tenant-scoped requests on the reconciled
// subscription state.
type Middleware struct {
	reader   SubscriptionReader
	cache    StatusCache
	counters map[billing.Resource]CounterFunc
	log      *slog.Logger
}

// Option configures the middleware.
type Option func(*Middleware)

// WithCache enables parish status caching on the hot path.
func WithCache(cache StatusCache) Option {
	return func(m *Middleware) {
		if cache != nil {
			m.cache = cache
		}
	}
}

// WithCounter registers a usage counter for a resource.
func WithCounter(res billing.Resource, counter CounterFunc) Option {
	return func(m *Middleware) {
		if counter != nil {
			m.counters[res] = counter
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(m *Middleware) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates the gating middleware. Panics on a nil reader to fail
// fast during wiring.
func New(reader SubscriptionReader, opts ...Option) *Middleware {
	if reader == nil {
		panic("gating: SubscriptionReader is required")
	}

	m := &Middleware{
		reader:   reader,
		cache:    NoopCache{},
		counters: make(map[billing.Resource]CounterFunc),
		log:      slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Status returns the parish aggregate status, consulting the cache
// before the store.
func (m *Middleware) Status(ctx context.Context, parishID uuid.UUID) (billing.ParishStatus, error) {
	key := parishID.String()
	if status, ok := m.cache.Get(ctx, key); ok {
		return status, nil
	}

	status, err := m.reader.GetParishStatus(ctx, parishID)
	if err != nil {
		return "", err
	}

	if err := m.cache.Set(ctx, key, status); err != nil {
		m.log.WarnContext(ctx, "failed to cache parish status",
			slog.String("parish_id", key), slog.String("error", err.Error()))
	}
	return status, nil
}

// Invalidate drops the cached status for a parish. Called by writers
// after a transition so gating picks the change up immediately.
func (m *Middleware) Invalidate(ctx context.Context, parishID uuid.UUID) {
	if err := m.cache.Delete(ctx, parishID.String()); err != nil {
		m.log.WarnContext(ctx, "failed to invalidate parish status cache",
			slog.String("parish_id", parishID.String()), slog.String("error", err.Error()))
	}
}

// statusHints map non-active parish statuses to the action the client
// should take.
var statusHints = map[billing.ParishStatus]string{
	billing.ParishPending:   "complete payment to activate your subscription",
	billing.ParishSuspended: "resolve payment failures to restore access",
	billing.ParishCancelled: "resubscribe to restore access",
}

// statusCodes: a pending parish owes payment; everything else
// non-active is an access refusal.
func statusCode(status billing.ParishStatus) int {
	if status == billing.ParishPending {
		return http.StatusPaymentRequired
	}
	return http.StatusForbidden
}

// RequireActiveSubscription blocks requests for parishes whose
// aggregate status is not ACTIVE, responding with the current status
// and an actionable hint.
func (m *Middleware) RequireActiveSubscription(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parishID, ok := ParishIDFromContext(r.Context())
		if !ok {
			writeDenied(w, http.StatusForbidden, deniedBody{
				Error: "no parish in request context",
			})
			return
		}

		status, err := m.Status(r.Context(), parishID)
		if err != nil {
			writeDenied(w, http.StatusForbidden, deniedBody{
				ParishID: parishID.String(),
				Error:    "subscription status unavailable",
			})
			return
		}

		if status != billing.ParishActive {
			writeDenied(w, statusCode(status), deniedBody{
				ParishID:           parishID.String(),
				SubscriptionStatus: string(status),
				Hint:               statusHints[status],
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireFeatureLimit blocks resource creation once the parish's usage
// reaches the plan's cap. A limit of zero is unlimited.
func (m *Middleware) RequireFeatureLimit(res billing.Resource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parishID, ok := ParishIDFromContext(r.Context())
			if !ok {
				writeDenied(w, http.StatusForbidden, deniedBody{Error: "no parish in request context"})
				return
			}

			if err := m.CheckLimit(r.Context(), parishID, res); err != nil {
				if errors.Is(err, ErrLimitExceeded) {
					writeDenied(w, http.StatusForbidden, deniedBody{
						ParishID: parishID.String(),
						Resource: string(res),
						Error:    "plan limit reached",
						Hint:     "upgrade your plan to add more " + string(res),
					})
					return
				}
				writeDenied(w, http.StatusForbidden, deniedBody{
					ParishID: parishID.String(),
					Resource: string(res),
					Error:    err.Error(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePlanTier blocks requests from parishes whose plan tier ranks
// below the given minimum.
func (m *Middleware) RequirePlanTier(min billing.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parishID, ok := ParishIDFromContext(r.Context())
			if !ok {
				writeDenied(w, http.StatusForbidden, deniedBody{Error: "no parish in request context"})
				return
			}

			if err := m.CheckTier(r.Context(), parishID, min); err != nil {
				writeDenied(w, http.StatusForbidden, deniedBody{
					ParishID: parishID.String(),
					Error:    "plan tier too low",
					Hint:     "upgrade to the " + string(min) + " plan or higher",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CheckLimit compares the current usage of a resource against the
// parish plan's cap.
func (m *Middleware) CheckLimit(ctx context.Context, parishID uuid.UUID, res billing.Resource) error {
	_, plan, err := m.activePlan(ctx, parishID)
	if err != nil {
		return err
	}

	limit := plan.LimitFor(res)
	if limit == billing.Unlimited {
		return nil
	}

	counter, ok := m.counters[res]
	if !ok {
		return ErrNoCounterRegistered
	}

	current, err := counter(ctx, parishID)
	if err != nil {
		return err
	}
	if current >= limit {
		return ErrLimitExceeded
	}
	return nil
}

// CheckTier verifies the parish plan's tier ranks at least min.
func (m *Middleware) CheckTier(ctx context.Context, parishID uuid.UUID, min billing.Tier) error {
	_, plan, err := m.activePlan(ctx, parishID)
	if err != nil {
		return err
	}
	if !plan.Tier.AtLeast(min) {
		return ErrTierTooLow
	}
	return nil
}

// Usage reports current usage and limit for a resource.
func (m *Middleware) Usage(ctx context.Context, parishID uuid.UUID, res billing.Resource) (used, limit int64, err error) {
	_, plan, err := m.activePlan(ctx, parishID)
	if err != nil {
		return 0, 0, err
	}
	limit = plan.LimitFor(res)

	counter, ok := m.counters[res]
	if !ok {
		return 0, limit, ErrNoCounterRegistered
	}
	used, err = counter(ctx, parishID)
	return used, limit, err
}

// UsagePercent returns usage as a percentage capped at 100, or -1 for
// unlimited resources. Returns 0 on errors.
func (m *Middleware) UsagePercent(ctx context.Context, parishID uuid.UUID, res billing.Resource) int {
	used, limit, err := m.Usage(ctx, parishID, res)
	if err != nil {
		return 0
	}
	if limit == billing.Unlimited {
		return -1
	}
	return min(int((used*100)/limit), 100)
}

func (m *Middleware) activePlan(ctx context.Context, parishID uuid.UUID) (*billing.Subscription, *billing.Plan, error) {
	sub, err := m.reader.GetSubscription(ctx, parishID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := m.reader.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return sub, plan, nil
}

type deniedBody struct {
	ParishID           string `json:"parish_id,omitempty"`
	SubscriptionStatus string `json:"subscription_status,omitempty"`
	Resource           string `json:"resource,omitempty"`
	Error              string `json:"error,omitempty"`
	Hint               string `json:"hint,omitempty"`
}

func writeDenied(w http.ResponseWriter, code int, body deniedBody) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
