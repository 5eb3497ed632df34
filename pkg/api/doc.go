/*
Package api implements the prdforge HTTP API on gorilla/mux.

Authenticated routes live under /api/v1 and accept either a session JWT or
an API token as a bearer credential. Each route requires a token scope.

# Streaming

POST /api/v1/prds and POST /api/v1/prds/{id}/revise answer with
Server-Sent Events:

	event: start
	data: {"kind":"generate","cost":1,"pool":"personal"}

	event: delta
	data: {"text":"# Taskly\n"}

	event: done
	data: {"id":"...","title":"Taskly","version":1,...}

A failure after credits were deducted ends the stream with an error frame
instead of done:

	event: error
	data: {"code":"llm_failed","message":"...","refunded":true}

Failures before the deduction (validation, insufficient credits, membership)
are plain JSON errors with status 400, 402, 403 or 404.

# Webhooks

POST /webhooks/lemonsqueezy is unauthenticated. The body must carry a valid
X-Signature HMAC. Duplicate deliveries are acknowledged with 200.

# Usage

	server := api.NewServer(api.Dependencies{
		Authenticator: authenticator,
		Generator:     generator,
		PRDs:          prdService,
		Credits:       ledger,
		Workspaces:    workspaceService,
		Billing:       billingService,
		Tokens:        tokenManager,
		WebhookSecret: cfg.Billing.WebhookSecret,
	})
	http.ListenAndServe(":8080", server)
*/
package api
