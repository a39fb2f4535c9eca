package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcravero/statement-ingest/internal/config"
	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/mcravero/statement-ingest/internal/handler"
	"github.com/mcravero/statement-ingest/internal/infra/cache"
	"github.com/mcravero/statement-ingest/internal/infra/client"
	"github.com/mcravero/statement-ingest/internal/infra/observability"
	"github.com/mcravero/statement-ingest/internal/infra/resilience"
	"github.com/mcravero/statement-ingest/internal/infra/supabase"
	"github.com/mcravero/statement-ingest/internal/service"
	"github.com/mcravero/statement-ingest/internal/tasks"

	"go.uber.org/zap"
)

func main() {
	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("extraction_timeout", cfg.ExtractionTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("chunk_concurrency", cfg.ChunkConcurrency),
		zap.Int("task_workers", cfg.TaskWorkers),
	)

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "statement-ingest")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Caches ---
	// Entries can be whole-statement markdown, so both caches are capped.
	ocrCache := cache.New[*domain.OCRResult](cfg.CacheTTL, 256)
	indexCache := cache.New[*service.MarkdownIndex](cfg.CacheTTL, 256)

	// --- Resilience ---
	retryCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Retryable:      domain.IsRetryable,
	}
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: uint32(cfg.BreakerFailures),
		Cooldown:         cfg.BreakerCooldown,
		OnStateChange: func(name, from, to string) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from),
				zap.String("to", to),
			)
			metrics.IncrBreakerTransition(name, to)
		},
	}
	recognitionCB := resilience.NewCircuitBreaker("recognition", breakerCfg)
	structuringCB := resilience.NewCircuitBreaker("structuring", breakerCfg)
	supabaseCB := resilience.NewCircuitBreaker("supabase", breakerCfg)

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	recognition := client.NewRecognitionClient(httpClient, cfg.OCRServiceURL, cfg.OCRAPIKey, cfg.OCRModel, recognitionCB, retryCfg)
	structurer := client.NewStructuringClient(httpClient, cfg.LLMServiceURL, cfg.LLMAPIKey, cfg.LLMModel, structuringCB, retryCfg, metrics)

	// --- Stores ---
	store := supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseServiceKey, supabaseCB, retryCfg, logger)
	files := supabase.NewStorage(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.StorageBucket, logger)

	// --- Services ---
	structuring := service.NewStructuring(structurer, cfg.ChunkConcurrency, logger, metrics)
	validator := service.NewValidator(logger)
	cacheMgr := service.NewCacheManager(store, ocrCache, logger, metrics)
	persister := service.NewPersister(store, retryCfg, logger, metrics)
	indexes := service.NewIndexProvider(indexCache, metrics)

	pipeline := service.NewPipeline(
		recognition,
		structuring,
		validator,
		cacheMgr,
		persister,
		files,
		indexes,
		cfg.ExtractionTimeout,
		metrics,
		logger,
	)

	// --- Background tasks ---
	runner := tasks.NewRunner(cfg.TaskWorkers, cfg.TaskQueueSize, pipeline.ProcessImport, logger)
	runner.Start()

	// --- Router ---
	router := handler.NewRouter(store, runner, metrics, cfg.JWTSecret, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	// Drain in-flight imports; queued rows stay pending and remain
	// claimable after restart.
	if err := runner.Stop(ctx); err != nil {
		logger.Error("task runner forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
