// Command api-gateway serves the public read API and the admin API
// (component H): a stateless process holding connection pools to the
// Publisher Ledger, the Queue/Artifact document store, and Redis.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyi-network/blog-pipeline/internal/api"
	"github.com/fyi-network/blog-pipeline/internal/artifact"
	"github.com/fyi-network/blog-pipeline/internal/config"
	"github.com/fyi-network/blog-pipeline/internal/ledger"
	"github.com/fyi-network/blog-pipeline/internal/llm"
	"github.com/fyi-network/blog-pipeline/internal/llm/anthropic"
	"github.com/fyi-network/blog-pipeline/internal/llm/bedrock"
	"github.com/fyi-network/blog-pipeline/internal/llm/google"
	"github.com/fyi-network/blog-pipeline/internal/platform/database"
	"github.com/fyi-network/blog-pipeline/internal/platform/migrations"
	"github.com/fyi-network/blog-pipeline/internal/queue"
	"github.com/fyi-network/blog-pipeline/internal/threshold"
	"github.com/fyi-network/blog-pipeline/pkg/logging"
	"github.com/fyi-network/blog-pipeline/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log := logging.New("api-gateway", cfg.Logging.Level, cfg.Logging.Format)
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

	if cfg.Ledger.MigrateOnStart {
		if err := migrations.ApplyLedger(ledgerDB); err != nil {
			log.WithError(err).Fatal("apply ledger migrations")
		}
	}
	if cfg.Document.MigrateOnStart {
		if err := migrations.ApplyDocumentStore(docDB); err != nil {
			log.WithError(err).Fatal("apply document store migrations")
		}
	}

	ledgerStore := ledger.NewPostgresLedger(ledgerDB)
	queueStore := queue.NewSQLStore(docDB)
	artifactStore := artifact.NewPostgresStore(docDB)
	thresholdCounter := threshold.NewRedisCounter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer thresholdCounter.Close()

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

	m := metrics.New("blog_pipeline_api")

	router := api.NewRouter(api.Deps{
		LedgerStore:      ledgerStore,
		QueueStore:       queueStore,
		Artifacts:        artifactStore,
		ThresholdCounter: thresholdCounter,
		LLMClient:        registry,
		AdminKey:         cfg.Admin.Key,
		Metrics:          m,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr()).Info("api-gateway starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
