package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/prdforge/pkg/api"
	"github.com/platinummonkey/prdforge/pkg/auth"
	"github.com/platinummonkey/prdforge/pkg/billing"
	"github.com/platinummonkey/prdforge/pkg/config"
	"github.com/platinummonkey/prdforge/pkg/credits"
	"github.com/platinummonkey/prdforge/pkg/llm"
	"github.com/platinummonkey/prdforge/pkg/middleware"
	"github.com/platinummonkey/prdforge/pkg/observability"
	"github.com/platinummonkey/prdforge/pkg/prd"
	"github.com/platinummonkey/prdforge/pkg/storage"
	"github.com/platinummonkey/prdforge/pkg/storage/objectstore"
	"github.com/platinummonkey/prdforge/pkg/storage/postgres"
	"github.com/platinummonkey/prdforge/pkg/workspaces"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	archiveWorkers   = 4
	archiveQueueSize = 256
	llmMaxRetries    = 2
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "prdforge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "prdforge").
		WithField("version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Storage
	dbConfig := postgres.ConfigFromStorage(cfg.Storage)
	cm, err := postgres.NewConnectionManager(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cm.StartHealthCheckRoutine(ctx, 30*time.Second, metrics)
	db := cm.Primary()

	var redisClient *redis.Client
	if cfg.Storage.RedisEnabled() {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	health := observability.NewHealthChecker(db, redisClient, version)
	if len(dbConfig.ReplicaURLs) > 0 {
		health.AddCheck("postgres_replicas", cm.HealthCheck)
	}

	var archiver prd.Archiver
	var s3Archiver *prd.S3Archiver
	if cfg.Storage.ArchiveEnabled() {
		objects, err := objectstore.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize object store: %w", err)
		}
		health.AddCheck("object_store", objects.HealthCheck)
		s3Archiver = prd.NewS3Archiver(ctx, objects, archiveWorkers, archiveQueueSize, logger)
		archiver = s3Archiver
	}

	catalog, err := billing.NewCatalogWatcher(cfg.Billing.CatalogPath, logger)
	if err != nil {
		return fmt.Errorf("failed to load credit catalog: %w", err)
	}
	if err := catalog.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch credit catalog: %w", err)
	}

	// Domain services
	ledger := credits.NewPostgresLedger(db, metrics)
	refunder := credits.NewRefunder(ledger, credits.NewPostgresReconciliationStore(db), metrics, logger)
	workspaceService := workspaces.NewPostgresService(db)

	prdService := prd.NewService(prd.NewPostgresStore(db).WithReplicas(cm.Replica), workspaceService)
	streamer := llm.NewAnthropicClient(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		MaxTokens:  cfg.LLM.MaxTokens,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: llmMaxRetries,
	}, metrics)
	generator := prd.NewGenerator(prdService, ledger, refunder, streamer, prd.GeneratorOptions{
		Costs:     prd.Costs{Generation: cfg.Credits.GenerationCost, Revision: cfg.Credits.RevisionCost},
		MaxTokens: cfg.LLM.MaxTokens,
		Archiver:  archiver,
		Metrics:   metrics,
	})

	// Auth
	sessions, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
	if err != nil {
		return fmt.Errorf("failed to initialize OIDC verifier: %w", err)
	}
	tokens := auth.NewTokenManager(auth.NewPostgresTokenStore(db), auth.TokenManagerConfig{
		CacheSize: cfg.Auth.TokenCacheSize,
		CacheTTL:  cfg.Auth.TokenCacheTTL,
	})
	profiles := auth.NewPostgresProfileStore(db, ledger, cfg.Credits.SignupBonus, cfg.Auth.TokenCacheSize, cfg.Auth.TokenCacheTTL)

	var limiter middleware.Limiter
	if cfg.RateLimit.Enabled {
		limitConfig := middleware.GenerationRateLimitConfig(cfg.RateLimit.GenerationsPerMin)
		if redisClient != nil {
			limiter = middleware.NewDistributedRateLimiter(redisClient, limitConfig, "")
		} else {
			local := middleware.NewRateLimiter(limitConfig)
			local.StartCleanup(ctx)
			limiter = local
		}
	}

	apiServer := api.NewServer(api.Dependencies{
		Authenticator:     auth.NewAuthenticator(tokens, sessions, profiles),
		Generator:         generator,
		PRDs:              prdService,
		Credits:           ledger,
		Workspaces:        workspaceService,
		Billing:           billing.NewPostgresService(db, ledger, catalog, metrics),
		Tokens:            tokens,
		WebhookSecret:     cfg.Billing.WebhookSecret,
		GenerationLimiter: limiter,
		CORSOrigins:       cfg.Server.CORSOrigins,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		Metrics:           metrics,
		Logger:            logger,
	})

	// Request contexts ignore the signal and are cancelled when the drain
	// deadline passes.
	requestCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(apiServer, "prdforge-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return requestCtx },
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              ":" + cfg.Server.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.OnDrainTimeout(cancelRequests)
	shutdown.RegisterShutdownFunc(generator.Wait)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return catalog.Close()
	})
	if s3Archiver != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return s3Archiver.Close(cfg.Server.ShutdownTimeout)
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("Starting API server")
		return serve(httpServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		return serve(healthServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	err = g.Wait()

	if redisClient != nil {
		redisClient.Close()
	}
	if closeErr := cm.Close(); closeErr != nil {
		logger.WithError(closeErr).Warn("Failed to close database connections")
	}
	return err
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", server.Addr, err)
	}
	return nil
}
