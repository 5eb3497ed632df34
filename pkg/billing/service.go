package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/observability"
)

// Service processes payment webhooks and serves billing history
type Service interface {
	HandleEvent(ctx context.Context, payload []byte) (*Result, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	ListPurchases(ctx context.Context, userID uuid.UUID, limit int) ([]*Purchase, error)
}

// PostgresService implements Service on PostgreSQL. Every event is keyed in
// webhook_events inside the same transaction as its effects.
type PostgresService struct {
	db      *sql.DB
	ledger  credits.Ledger
	catalog CatalogSource
	metrics *observability.Metrics
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, ledger credits.Ledger, catalog CatalogSource, metrics *observability.Metrics) *PostgresService {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &PostgresService{db: db, ledger: ledger, catalog: catalog, metrics: metrics}
}

// plan is the decided effect of an event, applied inside the event's transaction
type plan struct {
	outcome Outcome
	credits int64
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// HandleEvent applies a verified webhook body. Redelivered events are
// reported as duplicates without side effects.
func (s *PostgresService) HandleEvent(ctx context.Context, payload []byte) (result *Result, err error) {
	p, err := parsePayload(payload)
	if err != nil {
		s.metrics.WebhookEventsTotal.WithLabelValues("other", "invalid").Inc()
		return nil, err
	}

	name := p.Meta.EventName
	result = &Result{EventKey: p.eventKey(), EventName: name}
	log := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"event":     name,
		"event_key": result.EventKey,
	})
	defer func() {
		outcome := "error"
		if err == nil {
			outcome = string(result.Outcome)
		}
		s.metrics.WebhookEventsTotal.WithLabelValues(metricEventLabel(name), outcome).Inc()
	}()

	pl, err := s.plan(ctx, p)
	if err != nil {
		return nil, err
	}
	if pl == nil {
		result.Outcome = OutcomeIgnored
		log.Debug("webhook event ignored")
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_events (event_key, event_name, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_key) DO NOTHING
	`, result.EventKey, name, string(pl.outcome))
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		result.Outcome = OutcomeDuplicate
		log.Info("duplicate webhook event")
		return result, nil
	}

	if pl.apply != nil {
		if err := pl.apply(ctx, tx); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit webhook event: %w", err)
	}

	result.Outcome = pl.outcome
	result.Credits = pl.credits
	log.WithFields(map[string]interface{}{
		"outcome": pl.outcome,
		"credits": pl.credits,
	}).Info("webhook event processed")
	return result, nil
}

// plan decides what an event does. A nil plan means the event is ignored
// without being recorded.
func (s *PostgresService) plan(ctx context.Context, p *webhookPayload) (*plan, error) {
	name := p.Meta.EventName
	switch {
	case name == EventOrderCreated:
		return s.planOrderCreated(ctx, p)
	case name == EventOrderRefunded:
		return s.planOrderRefunded(p), nil
	case name == EventSubscriptionPaymentSuccess:
		return s.planPaymentSuccess(ctx, p)
	case subscriptionEvents[name]:
		return s.planSubscriptionChange(ctx, p)
	}
	return nil, nil
}

func (s *PostgresService) planOrderCreated(ctx context.Context, p *webhookPayload) (*plan, error) {
	userID, wsID, err := p.owner()
	if err != nil {
		return nil, err
	}
	attrs := p.Data.Attributes
	orderID := string(p.Data.ID)
	if attrs.Status != string(PurchaseStatusPaid) {
		return &plan{outcome: OutcomeIgnored}, nil
	}

	variantID := string(attrs.FirstOrderItem.VariantID)
	variant, known := s.catalog.Catalog().Lookup(variantID)
	pl := &plan{outcome: OutcomeProcessed}
	switch {
	case !known:
		pl.outcome = OutcomeUnknownVariant
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"order_id":   orderID,
			"variant_id": variantID,
			"user_id":    userID,
		}).Warn("order for unknown variant, no credits granted")
	case variant.Kind == VariantOneTime:
		pl.credits = variant.Credits
	}
	// subscription first payments are granted by subscription_payment_success

	purchase := &Purchase{
		OrderID:     orderID,
		UserID:      userID,
		WorkspaceID: wsID,
		VariantID:   variantID,
		Credits:     pl.credits,
		Status:      PurchaseStatusPaid,
		TotalCents:  attrs.Total,
		Currency:    attrs.Currency,
	}
	pl.apply = func(ctx context.Context, tx *sql.Tx) error {
		if err := insertPurchase(ctx, tx, purchase); err != nil {
			return err
		}
		if pl.credits == 0 {
			return nil
		}
		pool := credits.PoolFor(userID, wsID)
		if err := s.ledger.Grant(ctx, tx, pool, pl.credits, "purchase:"+orderID); err != nil {
			return fmt.Errorf("failed to grant purchase credits: %w", err)
		}
		return nil
	}
	return pl, nil
}

func (s *PostgresService) planOrderRefunded(p *webhookPayload) *plan {
	orderID := string(p.Data.ID)
	return &plan{
		outcome: OutcomeProcessed,
		apply: func(ctx context.Context, tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE purchases SET status = $1, refunded_at = NOW()
				WHERE order_id = $2
			`, string(PurchaseStatusRefunded), orderID)
			if err != nil {
				return fmt.Errorf("failed to mark purchase refunded: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				observability.FromContext(ctx).WithField("order_id", orderID).Warn("refund for unknown order")
			}
			return nil
		},
	}
}

func (s *PostgresService) planSubscriptionChange(ctx context.Context, p *webhookPayload) (*plan, error) {
	userID, wsID, err := p.owner()
	if err != nil {
		return nil, err
	}
	attrs := p.Data.Attributes
	sub := &Subscription{
		SubscriptionID: string(p.Data.ID),
		UserID:         userID,
		WorkspaceID:    wsID,
		VariantID:      string(attrs.VariantID),
		Status:         attrs.Status,
		RenewsAt:       attrs.RenewsAt,
		EndsAt:         attrs.EndsAt,
	}

	outcome := OutcomeProcessed
	if _, known := s.catalog.Catalog().Lookup(sub.VariantID); !known {
		outcome = OutcomeUnknownVariant
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"subscription_id": sub.SubscriptionID,
			"variant_id":      sub.VariantID,
		}).Warn("subscription for unknown variant")
	}
	return &plan{
		outcome: outcome,
		apply: func(ctx context.Context, tx *sql.Tx) error {
			return upsertSubscription(ctx, tx, sub)
		},
	}, nil
}

func (s *PostgresService) planPaymentSuccess(ctx context.Context, p *webhookPayload) (*plan, error) {
	attrs := p.Data.Attributes
	subscriptionID := string(attrs.SubscriptionID)
	if subscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription_id is required", ErrInvalidPayload)
	}
	if attrs.Status != "" && attrs.Status != string(PurchaseStatusPaid) {
		return &plan{outcome: OutcomeIgnored}, nil
	}

	var userID uuid.UUID
	var wsID uuid.NullUUID
	var variantID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, workspace_id, variant_id FROM subscriptions WHERE subscription_id = $1
	`, subscriptionID).Scan(&userID, &wsID, &variantID)
	if errors.Is(err, sql.ErrNoRows) {
		// created events can arrive after the first payment; the provider retries
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	variant, known := s.catalog.Catalog().Lookup(variantID)
	if !known {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"subscription_id": subscriptionID,
			"variant_id":      variantID,
		}).Warn("subscription payment for unknown variant, no credits granted")
		return &plan{outcome: OutcomeUnknownVariant}, nil
	}

	pool := credits.PoolFor(userID, ptrUUID(wsID))
	amount := variant.MonthlyCredits
	return &plan{
		outcome: OutcomeProcessed,
		credits: amount,
		apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := s.ledger.Grant(ctx, tx, pool, amount, "subscription:"+subscriptionID); err != nil {
				return fmt.Errorf("failed to grant subscription credits: %w", err)
			}
			return nil
		},
	}, nil
}

func insertPurchase(ctx context.Context, tx *sql.Tx, p *Purchase) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO purchases (order_id, user_id, workspace_id, variant_id, credits, status, total_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (order_id) DO NOTHING
	`, p.OrderID, p.UserID, nullUUID(p.WorkspaceID), p.VariantID, p.Credits, string(p.Status), p.TotalCents, currencyOrDefault(p.Currency))
	if err != nil {
		return fmt.Errorf("failed to record purchase: %w", err)
	}
	return nil
}

func upsertSubscription(ctx context.Context, tx *sql.Tx, sub *Subscription) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (subscription_id, user_id, workspace_id, variant_id, status, renews_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subscription_id) DO UPDATE
		SET variant_id = EXCLUDED.variant_id, status = EXCLUDED.status,
		    renews_at = EXCLUDED.renews_at, ends_at = EXCLUDED.ends_at,
		    updated_at = NOW()
	`, sub.SubscriptionID, sub.UserID, nullUUID(sub.WorkspaceID), sub.VariantID, sub.Status, sub.RenewsAt, sub.EndsAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the user's most recently updated subscription
func (s *PostgresService) GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	query := `
		SELECT id, subscription_id, user_id, workspace_id, variant_id, status,
		       renews_at, ends_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	sub := &Subscription{}
	var wsID uuid.NullUUID
	var renewsAt, endsAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.ID, &sub.SubscriptionID, &sub.UserID, &wsID, &sub.VariantID, &sub.Status,
		&renewsAt, &endsAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.WorkspaceID = ptrUUID(wsID)
	if renewsAt.Valid {
		sub.RenewsAt = &renewsAt.Time
	}
	if endsAt.Valid {
		sub.EndsAt = &endsAt.Time
	}
	if v, ok := s.catalog.Catalog().Lookup(sub.VariantID); ok {
		sub.PlanName = v.Name
		sub.MonthlyCredits = v.MonthlyCredits
	}
	return sub, nil
}

// ListPurchases returns the user's orders, newest first
func (s *PostgresService) ListPurchases(ctx context.Context, userID uuid.UUID, limit int) ([]*Purchase, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, user_id, workspace_id, variant_id, credits, status,
		       total_cents, currency, created_at, refunded_at
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []*Purchase{}
	for rows.Next() {
		p := &Purchase{}
		var wsID uuid.NullUUID
		var refundedAt sql.NullTime
		var status string
		if err := rows.Scan(
			&p.ID, &p.OrderID, &p.UserID, &wsID, &p.VariantID, &p.Credits, &status,
			&p.TotalCents, &p.Currency, &p.CreatedAt, &refundedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		p.Status = PurchaseStatus(status)
		p.WorkspaceID = ptrUUID(wsID)
		if refundedAt.Valid {
			p.RefundedAt = &refundedAt.Time
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func ptrUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}
