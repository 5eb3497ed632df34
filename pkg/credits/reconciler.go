package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/prdforge/pkg/observability"
)

// ReconcilerConfig sizes a reconciliation pass
type ReconcilerConfig struct {
	BatchSize   int
	Parallelism int
}

// Report summarizes one reconciliation pass
type Report struct {
	Resolved int `json:"resolved"`
	Retrying int `json:"retrying"`
	Manual   int `json:"manual"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Reconciler retries refunds recorded by RefundOrRecord
type Reconciler struct {
	ledger  Ledger
	store   ReconciliationStore
	policy  *RetryPolicy
	config  ReconcilerConfig
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(ledger Ledger, store ReconciliationStore, policy *RetryPolicy, config ReconcilerConfig, metrics *observability.Metrics, logger *observability.Logger) *Reconciler {
	if policy == nil {
		policy = NewRetryPolicy(DefaultRetryConfig())
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Reconciler{
		ledger:  ledger,
		store:   store,
		policy:  policy,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// RunOnce processes one batch of due reconciliations
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	pending, err := r.store.ListPending(ctx, r.config.BatchSize)
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Parallelism)

	for _, rec := range pending {
		rec := rec
		g.Go(func() error {
			outcome, err := r.process(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors++
				r.logger.WithField("reconciliation_id", rec.ID).WithError(err).
					Warn("failed to update reconciliation")
			case outcome == "":
				report.Skipped++
			case outcome == ReconciliationResolved:
				report.Resolved++
			case outcome == ReconciliationManual:
				report.Manual++
			default:
				report.Retrying++
			}
			return nil
		})
	}
	_ = g.Wait()

	if n, err := r.store.CountPending(ctx); err == nil {
		r.metrics.ReconciliationsPending.Set(float64(n))
	}

	if len(pending) > 0 {
		r.logger.WithFields(map[string]interface{}{
			"resolved": report.Resolved,
			"retrying": report.Retrying,
			"manual":   report.Manual,
			"errors":   report.Errors,
		}).Info("reconciliation pass complete")
	}

	return report, nil
}

// process settles rec. An empty status means another worker resolved it first.
func (r *Reconciler) process(ctx context.Context, rec *Reconciliation) (ReconciliationStatus, error) {
	refundErr, err := r.settle(ctx, rec, "refunded by reconciler")
	switch {
	case errors.Is(err, ErrReconciliationSettled):
		r.logger.WithField("reconciliation_id", rec.ID).Debug("reconciliation already settled")
		return "", nil
	case refundErr == nil && err != nil:
		return "", err
	case refundErr == nil:
		return ReconciliationResolved, nil
	}

	attempts := rec.Attempts + 1
	if errors.Is(refundErr, ErrPoolNotFound) || !r.policy.ShouldRetry(attempts, refundErr) {
		r.metrics.ReconciliationsTotal.WithLabelValues(string(ReconciliationManual)).Inc()
		r.logger.WithFields(map[string]interface{}{
			"manual_intervention_required": true,
			"reconciliation_id":            rec.ID,
			"pool":                         rec.Pool.String(),
			"amount":                       rec.Amount,
			"attempts":                     attempts,
		}).WithError(refundErr).Error("reconciliation exhausted retries")
		return ReconciliationManual, r.store.MarkManual(ctx, rec.ID, refundErr.Error())
	}

	r.metrics.ReconciliationsTotal.WithLabelValues("retry").Inc()
	return ReconciliationPending, r.store.MarkAttempt(ctx, rec.ID, refundErr, r.policy.NextRetryTime(attempts))
}

// settle claims rec and credits its pool in one transaction. refundErr is set
// when the credit itself failed; err covers the claim and the commit.
func (r *Reconciler) settle(ctx context.Context, rec *Reconciliation, note string) (refundErr, err error) {
	err = r.store.Settle(ctx, rec.ID, note, func(ctx context.Context, tx *sql.Tx) error {
		refundErr = r.ledger.Grant(ctx, tx, rec.Pool, rec.Amount, rec.Reason)
		return refundErr
	})
	if err == nil {
		r.metrics.ReconciliationsTotal.WithLabelValues(string(ReconciliationResolved)).Inc()
	}
	return refundErr, err
}

// Retry forces an immediate refund attempt for a pending or manual reconciliation
func (r *Reconciler) Retry(ctx context.Context, id int64) error {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == ReconciliationResolved {
		return fmt.Errorf("reconciliation %d is already resolved", id)
	}

	refundErr, err := r.settle(ctx, rec, "refunded by operator retry")
	switch {
	case errors.Is(err, ErrReconciliationSettled):
		return fmt.Errorf("reconciliation %d is already resolved", id)
	case refundErr != nil:
		return fmt.Errorf("failed to refund reconciliation %d: %w", id, refundErr)
	case err != nil:
		return fmt.Errorf("failed to settle reconciliation %d: %w", id, err)
	}
	return nil
}

// Resolve settles a reconciliation without refunding, for debts settled out of band
func (r *Reconciler) Resolve(ctx context.Context, id int64, note string) error {
	if note == "" {
		return errors.New("a note is required to resolve without refunding")
	}
	return r.store.MarkResolved(ctx, id, note)
}
