// Command reaper runs the stall-recovery and orphaned-reservation sweep
// as a standalone maintenance process, for deployments that prefer it
// separate from cmd/worker's -embed-reaper mode.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyi-network/blog-pipeline/internal/config"
	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/platform/database"
	"github.com/fyi-network/blog-pipeline/internal/queue"
	"github.com/fyi-network/blog-pipeline/internal/reaper"
	"github.com/fyi-network/blog-pipeline/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log := logging.New("reaper", cfg.Logging.Level, cfg.Logging.Format)
	ctx := context.Background()

	ledgerDB, err := database.Open(ctx, cfg.Ledger.DSN, database.PoolSettings{
		MaxOpenConns:    cfg.Ledger.MaxOpenConns,
		MaxIdleConns:    cfg.Ledger.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Ledger.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		log.WithError(err).Fatal("open ledger database")
	}
	defer ledgerDB.Close()

	docDB, err := database.Open(ctx, cfg.Document.DSN, database.PoolSettings{
		MaxOpenConns:    cfg.Document.MaxOpenConns,
		MaxIdleConns:    cfg.Document.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Document.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		log.WithError(err).Fatal("open document store database")
	}
	defer docDB.Close()

	ledgerStore := ledger.NewPostgresLedger(ledgerDB)
	queueStore := queue.NewSQLStore(docDB)

	r := reaper.New(reaper.Config{
		Schedule:                        cfg.Reaper.Schedule,
		StallMultiple:                   cfg.Reaper.StallMultiple,
		DefaultHeartbeatIntervalSeconds: cfg.Worker.HeartbeatIntervalSeconds,
		ReservationTTL:                  cfg.Reaper.ReservationTTL,
	}, queueStore, ledgerStore)

	if err := r.Start(ctx); err != nil {
		log.WithError(err).Fatal("start reaper")
	}
	log.WithField("schedule", cfg.Reaper.Schedule).Info("reaper started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	r.Stop()
}
