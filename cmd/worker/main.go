// Command worker runs the processing pipeline's polling loop (component
// G): one process per replica, each running many concurrent job tasks.
// Pass -embed-reaper to additionally run the stall-recovery sweep as a
// background goroutine inside this process instead of a separate
// cmd/reaper deployment.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyi-network/blog-pipeline/internal/artifact"
	"github.com/fyi-network/blog-pipeline/internal/config"
	"github.com/fyi-network/blog-pipeline/internal/crawler"
	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/llm"
	"github.com/fyi-network/blog-pipeline/internal/llm/anthropic"
	"github.com/fyi-network/blog-pipeline/internal/llm/bedrock"
	"github.com/fyi-network/blog-pipeline/internal/llm/google"
	"github.com/fyi-network/blog-pipeline/internal/pipeline"
	"github.com/fyi-network/blog-pipeline/internal/platform/database"
	"github.com/fyi-network/blog-pipeline/internal/queue"
	"github.com/fyi-network/blog-pipeline/internal/reaper"
	"github.com/fyi-network/blog-pipeline/pkg/logging"
)

func main() {
	embedReaper := flag.Bool("embed-reaper", false, "run the stall-recovery sweep as a goroutine inside this process")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log := logging.New("worker", cfg.Logging.Level, cfg.Logging.Format)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	artifactStore := artifact.NewPostgresStore(docDB)

	c := crawler.New(crawler.Config{
		MaxRedirects:   cfg.Crawler.MaxRedirects,
		MaxContentSize: cfg.Crawler.MaxContentBytes,
		Timeout:        cfg.Crawler.RequestTimeout,
		MaxRetries:     cfg.Crawler.MaxRetries,
		UserAgent:      cfg.Crawler.UserAgent,
	})

	registry := llm.NewRegistry()
	if cfg.LLM.AnthropicAPIKey != "" {
		registry.Register("anthropic", anthropic.New(cfg.LLM.AnthropicAPIKey))
	}
	if cfg.LLM.AWSRegion != "" {
		if backend, err := bedrock.New(ctx, cfg.LLM.AWSRegion, "", ""); err != nil {
			log.WithError(err).Warn("bedrock backend unavailable")
		} else {
			registry.Register("bedrock", backend)
		}
	}
	if cfg.LLM.GoogleAPIKey != "" {
		if backend, err := google.New(ctx, cfg.LLM.GoogleAPIKey); err != nil {
			log.WithError(err).Warn("google backend unavailable")
		} else {
			registry.Register("google", backend)
		}
	}
	orchestrator := llm.NewOrchestrator(registry)

	w := pipeline.New(pipeline.Config{
		WorkerID:                 cfg.Worker.ID,
		PollInterval:             cfg.Worker.PollInterval,
		BatchSize:                cfg.Worker.BatchSize,
		Concurrency:              cfg.Worker.Concurrency,
		HeartbeatIntervalSeconds: cfg.Worker.HeartbeatIntervalSeconds,
		DefaultMaxRetries:        cfg.Worker.DefaultMaxRetries,
		EmbeddingModel:           "google/" + cfg.LLM.GoogleEmbedModel,
	}, queueStore, ledgerStore, artifactStore, c, orchestrator)

	if err := w.Start(ctx); err != nil {
		log.WithError(err).Fatal("start worker")
	}

	var r *reaper.Reaper
	if *embedReaper {
		r = reaper.New(reaper.Config{
			Schedule:                        cfg.Reaper.Schedule,
			StallMultiple:                   cfg.Reaper.StallMultiple,
			DefaultHeartbeatIntervalSeconds: cfg.Worker.HeartbeatIntervalSeconds,
			ReservationTTL:                  cfg.Reaper.ReservationTTL,
		}, queueStore, ledgerStore)
		if err := r.Start(ctx); err != nil {
			log.WithError(err).Fatal("start embedded reaper")
		}
	}

	log.WithField("worker_id", cfg.Worker.ID).Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	w.Stop()
	if r != nil {
		r.Stop()
	}
}
