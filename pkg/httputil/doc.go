// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, prd)
//	httputil.WriteCreated(w, workspace)
//	httputil.WriteValidationError(w, "idea is required")
//	httputil.WritePaymentRequired(w, "insufficient credits")
//
// Every error body has the shape {"error": "...", "code": "..."}.
//
// # Request Parsing
//
//	var req GenerateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//	page, err := httputil.ParsePagination(r, 20, 100)
//
// # Server-Sent Events
//
//	sse, err := httputil.NewSSEWriter(w)
//	sse.Send("delta", map[string]string{"text": chunk})
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
