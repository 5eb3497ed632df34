// Package billing turns Lemon Squeezy webhooks into credit grants.
//
// # Webhooks
//
// Each delivery is verified with VerifySignature (hex HMAC-SHA256 of the raw
// body) and then passed to Service.HandleEvent. Events are keyed as
// "<event_name>:<data.id>". The key is inserted into webhook_events in the
// same transaction as the grant, so a redelivery is a no-op and a failed grant
// is retried by the provider.
//
//	order_created                  paid one-time variants grant Credits
//	order_refunded                 purchase marked refunded, credits are kept
//	subscription_*                 subscription row upserted
//	subscription_payment_success   plan's MonthlyCredits granted
//
// Grants go to the workspace named in custom_data.workspace_id, otherwise to
// custom_data.user_id's personal pool.
//
// # Catalog
//
// The variant catalog is a YAML file:
//
//	variants:
//	  - id: "101"
//	    name: Starter pack
//	    kind: one_time
//	    credits: 20
//	  - id: "202"
//	    name: Team monthly
//	    kind: subscription
//	    monthly_credits: 200
//	    workspace: true
//
// CatalogWatcher reloads it when the file changes.
package billing
