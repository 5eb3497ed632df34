// Package cli provides the prdforge-admin command-line interface for operators.
//
// # Overview
//
// The commands talk to Postgres directly. They apply migrations, work the
// refund reconciliation queue, and grant credits by hand.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	prdforge-admin migrate
//	prdforge-admin migrate --dry-run
//
// reconcile: Inspect and settle failed refunds
//
//	prdforge-admin reconcile list --status manual
//	prdforge-admin reconcile retry 42
//	prdforge-admin reconcile resolve 42 --note "refunded via support ticket"
//
// credits: Grant credits to a user or a workspace
//
//	prdforge-admin credits grant --user 6f1c... --amount 10 --reason "support goodwill"
//	prdforge-admin credits grant --workspace 9a2b... --amount 100 --reason "enterprise trial"
//
// # Configuration
//
// The database is taken from PRDFORGE_DATABASE_URL, the same variable the
// server reads.
package cli
