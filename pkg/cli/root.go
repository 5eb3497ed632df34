package cli

import (
	"context"
	"database/sql"
	"errors"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/observability"
)

// Connector opens the database the commands operate on
type Connector func(ctx context.Context) (*sql.DB, error)

// Options configures the admin commands
type Options struct {
	Connect Connector
	Retry   credits.RetryConfig
	Logger  *observability.Logger
}

// NewRootCommand creates the prdforge-admin root command
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	root := &cobra.Command{
		Use:           "prdforge-admin",
		Short:         "prdforge operator tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCommand(opts),
		newReconcileCommand(opts),
		newCreditsCommand(opts),
	)
	return root
}

// withDB opens the database for the duration of fn
func (o Options) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *sql.DB) error) error {
	if o.Connect == nil {
		return errors.New("no database configured")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := o.Connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db)
}
