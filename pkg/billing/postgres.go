package billing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"

	"github.com/parishkit/parishkit/pkg/pg"
)

// PGStore is the postgres-backed Store. Multi-row updates that must be
// atomic (status transition + parish projection + audit entry) run in a
// single transaction; payment inserts rely on the unique index over the
// gateway payment ID for cross-process idempotence.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

func (s *PGStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, tier, amount, currency, cycle, trial_days, limits, gateway_plan_id, active
		FROM billing_plans WHERE id = $1`, id)
	return scanPlan(row)
}

func (s *PGStore) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, tier, amount, currency, cycle, trial_days, limits, gateway_plan_id, active
		FROM billing_plans ORDER BY amount`)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func scanPlan(row pgx.Row) (*Plan, error) {
	var plan Plan
	var limits map[string]int64
	err := row.Scan(&plan.ID, &plan.Name, &plan.Tier, &plan.Price.Amount, &plan.Price.Currency,
		&plan.Cycle, &plan.TrialDays, &limits, &plan.GatewayPlanID, &plan.Active)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrPlanNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	plan.Limits = make(map[Resource]int64, len(limits))
	for res, limit := range limits {
		plan.Limits[Resource(res)] = limit
	}
	return &plan, nil
}

func (s *PGStore) SavePlan(ctx context.Context, plan *Plan) error {
	limits := make(map[string]int64, len(plan.Limits))
	for res, limit := range plan.Limits {
		limits[string(res)] = limit
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_plans (id, name, tier, amount, currency, cycle, trial_days, limits, gateway_plan_id, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, tier = EXCLUDED.tier, amount = EXCLUDED.amount,
			currency = EXCLUDED.currency, cycle = EXCLUDED.cycle, trial_days = EXCLUDED.trial_days,
			limits = EXCLUDED.limits, gateway_plan_id = EXCLUDED.gateway_plan_id, active = EXCLUDED.active`,
		plan.ID, plan.Name, plan.Tier, plan.Price.Amount, plan.Price.Currency,
		plan.Cycle, plan.TrialDays, limits, plan.GatewayPlanID, plan.Active)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

const subscriptionColumns = `
	id, parish_id, plan_id, payment_method, status,
	gateway_sub_id, gateway_customer_id,
	billing_name, billing_email, billing_phone,
	trial_starts_at, trial_ends_at, period_starts_at, period_ends_at,
	next_billing_at, last_payment_at,
	cancelled_at, cancel_reason, cancel_at_cycle_end, expires_at,
	total_paid, total_invoices, payment_failed_count,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var gatewaySubID, gatewayCustomerID *string
	err := row.Scan(&sub.ID, &sub.ParishID, &sub.PlanID, &sub.PaymentMethod, &sub.Status,
		&gatewaySubID, &gatewayCustomerID,
		&sub.BillingName, &sub.BillingEmail, &sub.BillingPhone,
		&sub.TrialStartsAt, &sub.TrialEndsAt, &sub.PeriodStartsAt, &sub.PeriodEndsAt,
		&sub.NextBillingAt, &sub.LastPaymentAt,
		&sub.CancelledAt, &sub.CancelReason, &sub.CancelAtCycleEnd, &sub.ExpiresAt,
		&sub.TotalPaid, &sub.TotalInvoices, &sub.PaymentFailedCount,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	if gatewaySubID != nil {
		sub.GatewaySubID = *gatewaySubID
	}
	if gatewayCustomerID != nil {
		sub.GatewayCustomerID = *gatewayCustomerID
	}
	return &sub, nil
}

func (s *PGStore) GetSubscription(ctx context.Context, parishID uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE parish_id = $1`, parishID)
	return scanSubscription(row)
}

func (s *PGStore) GetSubscriptionByGatewayID(ctx context.Context, gatewaySubID string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_sub_id = $1`, gatewaySubID)
	return scanSubscription(row)
}

func (s *PGStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		subscriptionArgs(sub)...)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrSubscriptionExists
		}
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func subscriptionArgs(sub *Subscription) []any {
	return []any{
		sub.ID, sub.ParishID, sub.PlanID, sub.PaymentMethod, sub.Status,
		nullable(sub.GatewaySubID), nullable(sub.GatewayCustomerID),
		sub.BillingName, sub.BillingEmail, sub.BillingPhone,
		sub.TrialStartsAt, sub.TrialEndsAt, sub.PeriodStartsAt, sub.PeriodEndsAt,
		sub.NextBillingAt, sub.LastPaymentAt,
		sub.CancelledAt, sub.CancelReason, sub.CancelAtCycleEnd, sub.ExpiresAt,
		sub.TotalPaid, sub.TotalInvoices, sub.PaymentFailedCount,
		sub.CreatedAt, sub.UpdatedAt,
	}
}

// nullable maps empty strings to NULL so the partial unique index on
// gateway identifiers ignores cash subscriptions.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PGStore) ApplyTransition(ctx context.Context, t Transition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	defer tx.Rollback(ctx)

	if err := applyTransitionTx(ctx, tx, t); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func applyTransitionTx(ctx context.Context, tx pgx.Tx, t Transition) error {
	sub := t.Subscription
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions SET
			plan_id = $2, status = $3, gateway_sub_id = $4, gateway_customer_id = $5,
			trial_starts_at = $6, trial_ends_at = $7,
			period_starts_at = $8, period_ends_at = $9,
			next_billing_at = $10, last_payment_at = $11,
			cancelled_at = $12, cancel_reason = $13, cancel_at_cycle_end = $14, expires_at = $15,
			total_paid = $16, total_invoices = $17, payment_failed_count = $18,
			updated_at = $19
		WHERE id = $1`,
		sub.ID, sub.PlanID, sub.Status, nullable(sub.GatewaySubID), nullable(sub.GatewayCustomerID),
		sub.TrialStartsAt, sub.TrialEndsAt,
		sub.PeriodStartsAt, sub.PeriodEndsAt,
		sub.NextBillingAt, sub.LastPaymentAt,
		sub.CancelledAt, sub.CancelReason, sub.CancelAtCycleEnd, sub.ExpiresAt,
		sub.TotalPaid, sub.TotalInvoices, sub.PaymentFailedCount,
		sub.UpdatedAt)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}

	if err := insertHistoryTx(ctx, tx, t.History); err != nil {
		return err
	}

	if t.ParishStatus != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE parishes SET subscription_status = $2 WHERE id = $1`,
			sub.ParishID, *t.ParishStatus); err != nil {
			return errors.Join(ErrStoreFailure, err)
		}
	}
	if t.SetParishPlan != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE parishes SET current_plan_id = $2 WHERE id = $1`,
			sub.ParishID, nullable(*t.SetParishPlan)); err != nil {
			return errors.Join(ErrStoreFailure, err)
		}
	}
	return nil
}

func insertHistoryTx(ctx context.Context, tx pgx.Tx, h *History) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscription_history
			(id, subscription_id, parish_id, action, old_status, new_status,
			 old_plan_id, new_plan_id, description, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.ID, h.SubscriptionID, h.ParishID, h.Action, h.OldStatus, h.NewStatus,
		h.OldPlanID, h.NewPlanID, h.Description, h.Actor, h.CreatedAt)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

// insertPaymentSQL is the insert-or-skip anchor for payment idempotence:
// two concurrent deliveries of the same capture insert exactly one row,
// and the loser skips the accompanying transition too, so totals
// accumulate exactly once. The payments unique index is partial, so the
// conflict target must repeat its predicate or postgres cannot infer the
// arbiter and the insert fails at runtime.
const insertPaymentSQL = `
	INSERT INTO payments
		(id, subscription_id, parish_id, gateway_payment_id, gateway_order_id,
		 gateway_invoice_id, amount, currency, status, failure_reason, paid_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (gateway_payment_id) WHERE gateway_payment_id IS NOT NULL DO NOTHING`

func (s *PGStore) RecordPayment(ctx context.Context, rec PaymentRecord) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	defer tx.Rollback(ctx)

	p := rec.Payment
	tag, err := tx.Exec(ctx, insertPaymentSQL,
		p.ID, p.SubscriptionID, p.ParishID, nullable(p.GatewayPaymentID), nullable(p.GatewayOrderID),
		nullable(p.GatewayInvoiceID), p.Amount, p.Currency, p.Status, p.FailureReason, p.PaidAt, p.CreatedAt)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if rec.Transition != nil {
		if err := applyTransitionTx(ctx, tx, *rec.Transition); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	return true, nil
}

func (s *PGStore) ListPayments(ctx context.Context, subscriptionID uuid.UUID) ([]Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, parish_id,
			COALESCE(gateway_payment_id, ''), COALESCE(gateway_order_id, ''), COALESCE(gateway_invoice_id, ''),
			amount, currency, status, failure_reason, paid_at, created_at
		FROM payments WHERE subscription_id = $1 ORDER BY created_at`, subscriptionID)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.ParishID,
			&p.GatewayPaymentID, &p.GatewayOrderID, &p.GatewayInvoiceID,
			&p.Amount, &p.Currency, &p.Status, &p.FailureReason, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, errors.Join(ErrStoreFailure, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *PGStore) InsertWebhookLog(ctx context.Context, entry *WebhookLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_logs
			(id, event_id, event_type, entity_type, entity_id, payload,
			 processed, process_error, received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, nullable(entry.EventID), entry.EventType, entry.EntityType, entry.EntityID,
		[]byte(entry.Payload), entry.Processed, entry.ProcessError, entry.ReceivedAt, entry.ProcessedAt)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *PGStore) MarkWebhookProcessed(ctx context.Context, id uuid.UUID, processError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_logs SET processed = TRUE, process_error = $2, processed_at = NOW()
		WHERE id = $1`, id, processError)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreFailure
	}
	return nil
}

func (s *PGStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_logs WHERE event_id = $1 AND processed)`,
		eventID).Scan(&processed)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	return processed, nil
}

func (s *PGStore) AppendHistory(ctx context.Context, entry *History) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	defer tx.Rollback(ctx)
	if err := insertHistoryTx(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *PGStore) ListHistory(ctx context.Context, subscriptionID uuid.UUID) ([]History, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, parish_id, action, old_status, new_status,
			old_plan_id, new_plan_id, description, actor, created_at
		FROM subscription_history WHERE subscription_id = $1 ORDER BY created_at`, subscriptionID)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	var entries []History
	for rows.Next() {
		var h History
		if err := rows.Scan(&h.ID, &h.SubscriptionID, &h.ParishID, &h.Action, &h.OldStatus, &h.NewStatus,
			&h.OldPlanID, &h.NewPlanID, &h.Description, &h.Actor, &h.CreatedAt); err != nil {
			return nil, errors.Join(ErrStoreFailure, err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func (s *PGStore) ParishExists(ctx context.Context, parishID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM parishes WHERE id = $1)`, parishID).Scan(&exists)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	return exists, nil
}

func (s *PGStore) GetParishStatus(ctx context.Context, parishID uuid.UUID) (ParishStatus, error) {
	var status ParishStatus
	err := s.pool.QueryRow(ctx,
		`SELECT subscription_status FROM parishes WHERE id = $1`, parishID).Scan(&status)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", ErrParishNotFound
		}
		return "", errors.Join(ErrStoreFailure, err)
	}
	return status, nil
}

func (s *PGStore) SetParishStatus(ctx context.Context, parishID uuid.UUID, status ParishStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE parishes SET subscription_status = $2 WHERE id = $1`, parishID, status)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParishNotFound
	}
	return nil
}
