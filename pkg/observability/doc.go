// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("prd_id", id).Info("PRD generated")
//
// Request-scoped loggers carry request_id, user_id and trace ids:
//
//	observability.FromContext(ctx).WithError(err).Error("refund failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.GenerationsTotal.WithLabelValues("generate", observability.OutcomeSuccess).Inc()
//	metrics.CreditsRefundedTotal.WithLabelValues("personal").Add(1)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("archive", archive.Ping)
//
// Postgres is required for readiness. Redis and registered checks only degrade it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "prdforge",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
