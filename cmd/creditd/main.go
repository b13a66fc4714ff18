package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/careerforge/creditd/pkg/aiproxy"
	"github.com/careerforge/creditd/pkg/analytics"
	"github.com/careerforge/creditd/pkg/api"
	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/billingsource"
	"github.com/careerforge/creditd/pkg/config"
	"github.com/careerforge/creditd/pkg/gate"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
	"github.com/careerforge/creditd/pkg/reconcile"
	"github.com/careerforge/creditd/pkg/storage"
)

func main() {
	// Optional .env for local development; environment wins in production.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (optional)
	tracerProvider, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Tracing initialization failed, continuing without tracing")
	}

	// Database
	connections, err := storage.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	connections.StartMonitorRoutine(ctx, 0, metrics)

	if err := ledger.InitSchema(ctx, connections.Primary()); err != nil {
		log.Fatalf("Failed to initialize ledger schema: %v", err)
	}
	if err := auth.InitSchema(ctx, connections.Primary()); err != nil {
		log.Fatalf("Failed to initialize auth schema: %v", err)
	}

	// Redis (optional, shared balance cache)
	redisClient, err := storage.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	// Plan catalog, optionally loaded from file and hot-reloaded
	catalog := plans.DefaultCatalog()
	if cfg.Plans.File != "" {
		catalog, err = plans.LoadCatalog(cfg.Plans.File)
		if err != nil {
			log.Fatalf("Failed to load plan catalog: %v", err)
		}
		if cfg.Plans.Watch {
			watcher, err := plans.NewWatcher(catalog, cfg.Plans.File, logger)
			if err != nil {
				log.Fatalf("Failed to watch plan catalog: %v", err)
			}
			go watcher.Run(ctx)
		}
	}

	// Credit ledger with two-tier balance cache
	store := ledger.NewPostgresStore(connections.Primary(), catalog, logger, metrics)
	credits, err := ledger.NewCachedService(store, redisClient, cfg.Cache.L1Size, cfg.Cache.TTL, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to build credit service: %v", err)
	}

	authStore := auth.NewStore(connections.Primary(), logger)
	analyticsService := analytics.NewService(connections.Replica(), logger)
	creditGate := gate.New(credits, logger, metrics)

	// External billing source + reconciliation (optional)
	var reconciler *reconcile.Reconciler
	var webhook http.Handler
	var sweeper *reconcile.Sweeper
	if cfg.Billing.BaseURL != "" {
		billing := billingsource.NewHTTPClient(cfg.Billing.BaseURL, cfg.Billing.APIKey, catalog, logger, metrics)
		reconciler = reconcile.New(credits, billing, authStore, catalog, logger, metrics)

		webhook, err = billingsource.NewWebhookHandler(cfg.Billing.WebhookSecret, credits, authStore, catalog, logger)
		if err != nil {
			log.Fatalf("Failed to build webhook handler: %v", err)
		}

		if cfg.Reconcile.Enabled {
			sweepLog := logrus.New()
			sweepLog.SetFormatter(&logrus.JSONFormatter{})
			sweeper = reconcile.NewSweeper(reconciler, cfg.Reconcile.Schedule, cfg.Reconcile.Workers, sweepLog)
			if err := sweeper.Start(ctx); err != nil {
				log.Fatalf("Failed to start reconciliation sweep: %v", err)
			}
		}
	} else {
		logger.Warn("No billing source configured, reconciliation and webhooks disabled")
	}

	// AI feature handlers (optional, credit-gated)
	var aiHandlers *aiproxy.Handlers
	if cfg.AI.OpenAIKey != "" {
		completer := aiproxy.NewOpenAICompleter(cfg.AI.OpenAIKey, cfg.AI.Model)
		aiHandlers = aiproxy.NewHandlers(aiproxy.NewService(completer, logger), logger)
	} else {
		logger.Warn("No OpenAI key configured, generation endpoints disabled")
	}

	server := api.NewServer(api.Options{
		Credits:       credits,
		Analytics:     analyticsService,
		Reconciler:    reconciler,
		Accounts:      authStore,
		Authenticator: authStore,
		Gate:          creditGate,
		AI:            aiHandlers,
		Webhook:       webhook,
		Logger:        logger,
		Metrics:       metrics,
	})

	var handler http.Handler = server
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "creditd")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(connections.Primary(), redisClient)
	healthServer := observability.NewHealthServer(cfg.Server.Host+":"+cfg.Server.HealthPort, healthChecker, registry)

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancel()
		if sweeper != nil {
			sweeper.Stop()
		}
		if tracerProvider != nil {
			if err := observability.ShutdownTracing(ctx, tracerProvider, logger); err != nil {
				logger.WithError(err).Warn("Tracing shutdown failed")
			}
		}
		if redisClient != nil {
			redisClient.Close()
		}
		return connections.Close()
	})

	// The signal handler drains both servers, which unblocks the errgroup.
	go func() {
		if err := shutdown.WaitForShutdown(); err != nil {
			logger.WithError(err).Error("Graceful shutdown reported errors")
		}
	}()

	var group errgroup.Group
	group.Go(func() error {
		logger.Infof("Starting credit service on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Starting health server on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		log.Fatalf("Service exited with error: %v", err)
	}
}
