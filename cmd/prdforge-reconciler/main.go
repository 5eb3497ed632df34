package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/prdforge/pkg/config"
	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/storage/postgres"
	"github.com/platinummonkey/prdforge/pkg/workspaces"
)

var (
	runOnce    = flag.Bool("run-once", false, "Run every job once and exit")
	jobTimeout = flag.Duration("job-timeout", 5*time.Minute, "Upper bound on a single job run")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := setupLogger(cfg.Observability.LogLevel.String())
	libLogger := observability.NewLoggerFrom(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm, err := postgres.NewConnectionManager(ctx, postgres.ConfigFromStorage(cfg.Storage), libLogger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer cm.Close()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	db := cm.Primary()
	ledger := credits.NewPostgresLedger(db, metrics)
	retry := credits.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Credits.ReconcileMaxAttempts
	reconciler := credits.NewReconciler(
		ledger,
		credits.NewPostgresReconciliationStore(db),
		credits.NewRetryPolicy(retry),
		credits.ReconcilerConfig{BatchSize: cfg.Credits.ReconcileBatchSize},
		metrics,
		libLogger,
	)

	j := &jobs{
		reconciler:  reconciler,
		invitations: workspaces.NewPostgresService(db),
		log:         log,
		timeout:     *jobTimeout,
	}

	if *runOnce {
		log.Info("Running reconciliation and invitation cleanup once")
		if err := j.runAll(ctx); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		log.Info("Run completed successfully")
		return
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(log)),
	))

	if _, err := c.AddFunc(cfg.Credits.ReconcileSchedule, func() { _ = j.reconcile(ctx) }); err != nil {
		log.Fatalf("Failed to schedule reconciliation: %v", err)
	}
	if _, err := c.AddFunc(cfg.Credits.InvitationCleanup, func() { _ = j.cleanupInvitations(ctx) }); err != nil {
		log.Fatalf("Failed to schedule invitation cleanup: %v", err)
	}

	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		observability.RegisterMetricsEndpoint(mux, registry)
		metricsServer = &http.Server{
			Addr:              ":" + cfg.Server.HealthPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	c.Start()
	log.Info("prdforge reconciler started")
	log.Infof("Reconciliation schedule: %s", cfg.Credits.ReconcileSchedule)
	log.Infof("Invitation cleanup schedule: %s", cfg.Credits.InvitationCleanup)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutting down gracefully...")
	cancel()

	stopCtx := c.Stop()
	<-stopCtx.Done()

	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("Reconciler stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
