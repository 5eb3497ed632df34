package credits

import (
	"context"
	"time"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

// defaultRefundTimeout bounds a refund issued after the request context is gone
const defaultRefundTimeout = 10 * time.Second

// Refunder returns credits for work that was charged but not delivered
type Refunder struct {
	ledger  Ledger
	store   ReconciliationStore
	metrics *observability.Metrics
	logger  *observability.Logger
	timeout time.Duration
}

// NewRefunder creates a Refunder. Nil metrics and logger are replaced with no-ops.
func NewRefunder(ledger Ledger, store ReconciliationStore, metrics *observability.Metrics, logger *observability.Logger) *Refunder {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Refunder{
		ledger:  ledger,
		store:   store,
		metrics: metrics,
		logger:  logger,
		timeout: defaultRefundTimeout,
	}
}

// RefundOrRecord refunds amount to pool. When the refund fails the debt is
// recorded for the reconciler and logged for operators. It reports whether
// the refund was applied.
//
// The refund runs detached from ctx cancellation: a disconnected client must
// still be refunded.
func (r *Refunder) RefundOrRecord(ctx context.Context, pool Pool, amount int64, reason, cause string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	err := r.ledger.Refund(ctx, pool, amount, reason)
	if err == nil {
		return true
	}

	r.metrics.RefundFailuresTotal.Inc()
	log := r.logger.WithFields(map[string]interface{}{
		"manual_intervention_required": true,
		"pool":                         pool.String(),
		"amount":                       amount,
		"reason":                       reason,
		"cause":                        cause,
	}).WithError(err)

	rec, recErr := r.store.RecordFailedRefund(ctx, pool, amount, reason, cause)
	if recErr != nil {
		log.WithField("record_error", recErr.Error()).
			Error("credits deducted but refund failed and could not be recorded")
		return false
	}

	r.metrics.ReconciliationsPending.Inc()
	log.WithField("reconciliation_id", rec.ID).
		Error("credits deducted but refund failed; queued for reconciliation")
	return false
}
