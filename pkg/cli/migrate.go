package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/prdforge/pkg/migrations"
)

func newMigrateCommand(opts Options) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				out := cmd.OutOrStdout()

				if dryRun {
					pending, err := migrations.Pending(ctx, db)
					if err != nil {
						return err
					}
					if len(pending) == 0 {
						fmt.Fprintln(out, "Schema is up to date")
						return nil
					}
					for _, m := range pending {
						fmt.Fprintf(out, "pending %d: %s\n", m.Version, m.Description)
					}
					return nil
				}

				ran, err := migrations.Run(ctx, db)
				for _, v := range ran {
					fmt.Fprintf(out, "applied %d\n", v)
				}
				if err != nil {
					return err
				}
				if len(ran) == 0 {
					fmt.Fprintln(out, "Schema is up to date")
				}
				opts.Logger.WithField("applied", len(ran)).Info("migrations complete")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List pending migrations without applying them")
	return cmd
}
