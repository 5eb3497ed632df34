package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/prdforge/pkg/credits"
)

func newReconcileCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect and settle refunds that could not be applied",
	}
	cmd.AddCommand(
		newReconcileListCommand(opts),
		newReconcileRetryCommand(opts),
		newReconcileResolveCommand(opts),
	)
	return cmd
}

func (o Options) reconciler(db *sql.DB) *credits.Reconciler {
	ledger := credits.NewPostgresLedger(db, nil)
	store := credits.NewPostgresReconciliationStore(db)
	return credits.NewReconciler(ledger, store, credits.NewRetryPolicy(o.Retry), credits.ReconcilerConfig{}, nil, o.Logger)
}

func newReconcileListCommand(opts Options) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reconciliations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := credits.ReconciliationStatus(status)
			switch st {
			case "", credits.ReconciliationPending, credits.ReconciliationManual, credits.ReconciliationResolved:
			default:
				return fmt.Errorf("unknown status %q (want pending, manual or resolved)", status)
			}

			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				recs, err := credits.NewPostgresReconciliationStore(db).List(ctx, st, limit)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tPOOL\tAMOUNT\tATTEMPTS\tCREATED\tLAST ERROR")
				for _, r := range recs {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
						r.ID, r.Status, r.Pool, r.Amount, r.Attempts,
						r.CreatedAt.UTC().Format(time.RFC3339), truncate(r.LastError, 60))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d\n", len(recs))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, manual or resolved")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows to show")
	return cmd
}

func newReconcileRetryCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Attempt a refund now, regardless of backoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				if err := opts.reconciler(db).Retry(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reconciliation %d refunded\n", id)
				return nil
			})
		},
	}
}

func newReconcileResolveCommand(opts Options) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a reconciliation settled without refunding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				if err := opts.reconciler(db).Resolve(ctx, id, note); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reconciliation %d resolved\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Why the debt is settled (required)")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid reconciliation id %q", raw)
	}
	return id, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
