package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/configs"
	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/cases"
	"github.com/prodetect/aml-engine/internal/monitoring"
	"github.com/prodetect/aml-engine/internal/queue"
	"github.com/prodetect/aml-engine/internal/repositories"
)

const (
	slaScanInterval = 15 * time.Minute
	slaScanLockKey  = "monitoring:sla_scan_lock"
	slaScanLockTTL  = 10 * time.Minute

	backlogInterval  = time.Minute
	backlogThreshold = 1000
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting AML Engine Monitoring Worker")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis Stream client
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	// Initialize Redis Cache client
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Initialize repositories
	customerRepo := repositories.NewCustomerRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	caseRepo := repositories.NewCaseRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	monitoringStore := repositories.NewMonitoringStore(db, txRepo, alertRepo, ruleRepo)

	// Initialize monitoring engine
	recorder := audit.NewRecorder(auditRepo, cfg.Compliance.AuditRetentionYears)
	snapshot := monitoring.NewSnapshotProvider(ruleRepo, cacheClient)
	engine := monitoring.NewEngine(customerRepo, txRepo, snapshot, monitoringStore, cfg.Compliance)
	caseService := cases.NewService(caseRepo, alertRepo, recorder, cfg.Compliance.AuditRetentionYears)

	// Create worker pool
	workerPool := monitoring.NewWorkerPool(
		cfg.Worker.Concurrency,
		engine,
		streamClient,
		cfg.Worker,
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic SLA scan flags investigation cases past their deadline
	go runSLAScan(ctx, caseService, cacheClient)

	// Backlog monitor logs stream depth so a stalled consumer group shows up
	go runBacklogMonitor(ctx, streamClient)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start worker pool in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- workerPool.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Worker pool error")
		}
	}

	// Stop worker pool
	if err := workerPool.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop worker pool")
	}

	log.Info().Msg("Worker shutdown complete")
}

func runSLAScan(ctx context.Context, caseService *cases.Service, cache *queue.CacheClient) {
	ticker := time.NewTicker(slaScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Only one worker instance runs each scan
			acquired, err := cache.SetNX(ctx, slaScanLockKey, time.Now().UTC(), slaScanLockTTL)
			if err != nil {
				log.Error().Err(err).Msg("SLA scan lock check failed")
				continue
			}
			if !acquired {
				continue
			}

			breached, err := caseService.OverdueScan(ctx)
			if err != nil {
				log.Error().Err(err).Msg("SLA scan failed")
			} else if breached > 0 {
				log.Warn().Int("breached", breached).Msg("Cases past SLA deadline")
			}

			if err := cache.Delete(ctx, slaScanLockKey); err != nil {
				log.Warn().Err(err).Msg("Failed to release SLA scan lock")
			}
		}
	}
}

func runBacklogMonitor(ctx context.Context, stream *queue.RedisStreamClient) {
	ticker := time.NewTicker(backlogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := stream.GetPendingCount(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to read stream backlog")
				continue
			}
			if pending > backlogThreshold {
				log.Warn().Int64("pending", pending).Msg("Stream backlog building up")
			}
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
