package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and local development.
// All multi-row updates hold the single mutex for the whole operation,
// giving the same atomicity the postgres store gets from transactions.
type MemStore struct {
	mu sync.Mutex

	plans         map[string]Plan
	subscriptions map[uuid.UUID]*Subscription // keyed by parish ID
	payments      []Payment
	paymentIDs    map[string]struct{} // gateway payment IDs already recorded
	webhookLogs   map[uuid.UUID]*WebhookLog
	history       []History
	parishStatus  map[uuid.UUID]ParishStatus
	parishPlan    map[uuid.UUID]string
	parishes      map[uuid.UUID]struct{}
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		plans:         make(map[string]Plan),
		subscriptions: make(map[uuid.UUID]*Subscription),
		paymentIDs:    make(map[string]struct{}),
		webhookLogs:   make(map[uuid.UUID]*WebhookLog),
		parishStatus:  make(map[uuid.UUID]ParishStatus),
		parishPlan:    make(map[uuid.UUID]string),
		parishes:      make(map[uuid.UUID]struct{}),
	}
}

// AddParish registers a parish record so subscription operations can
// reference it.
func (s *MemStore) AddParish(parishID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parishes[parishID] = struct{}{}
	if _, ok := s.parishStatus[parishID]; !ok {
		s.parishStatus[parishID] = ParishPending
	}
}

func (s *MemStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	copied := plan
	return &copied, nil
}

func (s *MemStore) ListPlans(ctx context.Context) ([]Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		out = append(out, plan)
	}
	return out, nil
}

func (s *MemStore) SavePlan(ctx context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = *plan
	return nil
}

func (s *MemStore) GetSubscription(ctx context.Context, parishID uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[parishID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (s *MemStore) GetSubscriptionByGatewayID(ctx context.Context, gatewaySubID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.GatewaySubID != "" && sub.GatewaySubID == gatewaySubID {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subscriptions[sub.ParishID]; exists {
		return ErrSubscriptionExists
	}
	copied := *sub
	s.subscriptions[sub.ParishID] = &copied
	return nil
}

func (s *MemStore) ApplyTransition(ctx context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyTransitionLocked(t)
}

func (s *MemStore) applyTransitionLocked(t Transition) error {
	if t.Subscription == nil || t.History == nil {
		return ErrStoreFailure
	}
	if _, ok := s.subscriptions[t.Subscription.ParishID]; !ok {
		return ErrSubscriptionNotFound
	}

	copied := *t.Subscription
	s.subscriptions[t.Subscription.ParishID] = &copied
	s.history = append(s.history, *t.History)

	if t.ParishStatus != nil {
		s.parishStatus[t.Subscription.ParishID] = *t.ParishStatus
	}
	if t.SetParishPlan != nil {
		if *t.SetParishPlan == "" {
			delete(s.parishPlan, t.Subscription.ParishID)
		} else {
			s.parishPlan[t.Subscription.ParishID] = *t.SetParishPlan
		}
	}
	return nil
}

func (s *MemStore) RecordPayment(ctx context.Context, rec PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Payment.GatewayPaymentID != "" {
		if _, dup := s.paymentIDs[rec.Payment.GatewayPaymentID]; dup {
			return false, nil
		}
	}

	// Transition first so a rejected transition leaves no orphan payment
	// row, matching the postgres store's single transaction.
	if rec.Transition != nil {
		if err := s.applyTransitionLocked(*rec.Transition); err != nil {
			return false, err
		}
	}

	if rec.Payment.GatewayPaymentID != "" {
		s.paymentIDs[rec.Payment.GatewayPaymentID] = struct{}{}
	}
	s.payments = append(s.payments, *rec.Payment)
	return true, nil
}

func (s *MemStore) ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Payment
	for _, p := range s.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) InsertWebhookLog(ctx context.Context, entry *WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.webhookLogs[entry.ID] = &copied
	return nil
}

func (s *MemStore) MarkWebhookProcessed(ctx context.Context, id uuid.UUID, processError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.webhookLogs[id]
	if !ok {
		return ErrStoreFailure
	}
	now := time.Now().UTC()
	entry.Processed = true
	entry.ProcessError = processError
	entry.ProcessedAt = &now
	return nil
}

func (s *MemStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.webhookLogs {
		if entry.EventID == eventID && entry.Processed {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) AppendHistory(ctx context.Context, entry *History) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

func (s *MemStore) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []History
	for _, h := range s.history {
		if h.SubscriptionID == subscriptionID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemStore) ParishExists(ctx context.Context, parishID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.parishes[parishID]
	return ok, nil
}

func (s *MemStore) GetParishStatus(ctx context.Context, parishID uuid.UUID) (ParishStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parishes[parishID]; !ok {
		return "", ErrParishNotFound
	}
	return s.parishStatus[parishID], nil
}

func (s *MemStore) SetParishStatus(ctx context.Context, parishID uuid.UUID, status ParishStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parishes[parishID]; !ok {
		return ErrParishNotFound
	}
	s.parishStatus[parishID] = status
	return nil
}

// ParishPlan returns the parish's current-plan pointer, empty when
// cleared. Test helper.
func (s *MemStore) ParishPlan(parishID uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parishPlan[parishID]
}

// WebhookLogs returns a snapshot of the receipt log. Test helper.
func (s *MemStore) WebhookLogs() []WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WebhookLog, 0, len(s.webhookLogs))
	for _, entry := range s.webhookLogs {
		out = append(out, *entry)
	}
	return out
}
