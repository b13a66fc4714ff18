// creditd-sweep runs a single reconciliation sweep and exits. It is meant
// for cron jobs and for operators verifying ledger consistency after a
// billing provider incident, without touching the long-running service.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/careerforge/creditd/pkg/auth"
	"github.com/careerforge/creditd/pkg/billingsource"
	"github.com/careerforge/creditd/pkg/config"
	"github.com/careerforge/creditd/pkg/ledger"
	"github.com/careerforge/creditd/pkg/observability"
	"github.com/careerforge/creditd/pkg/plans"
	"github.com/careerforge/creditd/pkg/reconcile"
	"github.com/careerforge/creditd/pkg/storage"
)

func main() {
	timeout := flag.Duration("timeout", 15*time.Minute, "Maximum duration for the sweep")
	workers := flag.Int("workers", 0, "Concurrent accounts to reconcile (0 = config default)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Billing.BaseURL == "" {
		log.Fatal("CREDITD_BILLING_URL is required: a sweep without a billing source has nothing to reconcile against")
	}
	if *workers == 0 {
		*workers = cfg.Reconcile.Workers
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	connections, err := storage.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer connections.Close()

	catalog := plans.DefaultCatalog()
	if cfg.Plans.File != "" {
		catalog, err = plans.LoadCatalog(cfg.Plans.File)
		if err != nil {
			log.Fatalf("Failed to load plan catalog: %v", err)
		}
	}

	store := ledger.NewPostgresStore(connections.Primary(), catalog, logger, metrics)
	authStore := auth.NewStore(connections.Primary(), logger)
	billing := billingsource.NewHTTPClient(cfg.Billing.BaseURL, cfg.Billing.APIKey, catalog, logger, metrics)
	reconciler := reconcile.New(store, billing, authStore, catalog, logger, metrics)

	sweepLog := logrus.New()
	sweepLog.SetFormatter(&logrus.JSONFormatter{})
	sweeper := reconcile.NewSweeper(reconciler, "", *workers, sweepLog)

	if err := sweeper.RunOnce(ctx); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
}
