// Package credits implements the credit ledger that meters PRD generation.
//
// # Overview
//
// Balances live in two kinds of pool: a personal pool per profile and a
// shared pool per workspace. Balances are only ever changed by four stored
// procedures shipped in pkg/migrations:
//
//	deduct_credit(user_id, amount, reason)                 -> bool
//	add_credit(user_id, amount, reason)                    -> new balance
//	deduct_workspace_credit(workspace_id, user_id, amount) -> bool
//	add_workspace_credit(workspace_id, amount, reason)     -> new balance
//
// Each procedure locks the pool row, checks the balance and appends a
// credit_transactions row. The Go code never reads a balance to write it back.
//
// # Charging for work
//
//	if err := ledger.Deduct(ctx, pool, 1, "generation"); err != nil {
//		return err // credits.ErrInsufficientCredits -> 402
//	}
//	if err := doWork(ctx); err != nil {
//		refunded := refunder.RefundOrRecord(ctx, pool, 1, "refund:generation", err.Error())
//		...
//	}
//
// # Reconciliation
//
// A refund that fails after a successful deduction is written to
// credit_reconciliations and logged with manual_intervention_required=true.
// The Reconciler retries those rows with exponential backoff and hands them
// to operators (status manual) once the RetryPolicy is exhausted.
package credits
