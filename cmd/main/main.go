package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/config"
	"gitlab.com/voxline/api/voxline-call-engine/internal/healthcheck"
	"gitlab.com/voxline/api/voxline-call-engine/internal/httpapi"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
	"gitlab.com/voxline/api/voxline-call-engine/internal/reconciler"
	"gitlab.com/voxline/api/voxline-call-engine/internal/storage"
	"gitlab.com/voxline/api/voxline-call-engine/internal/usecase"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Voxline Call Engine",
		zap.String("environment", cfg.Environment),
		zap.String("provider_base_url", cfg.Provider.BaseURL),
		zap.Int("server_port", cfg.Server.Port),
	)

	markup, err := decimal.NewFromString(cfg.Dispatch.CostMarkupFactor)
	if err != nil {
		logger.Log.Fatal("Invalid cost markup factor",
			zap.String("value", cfg.Dispatch.CostMarkupFactor), zap.Error(err))
	}

	postgresRepo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Repository adapters
	callRepo := storage.NewCallRepoAdapter(postgresRepo)
	contactRepo := storage.NewContactRepoAdapter(postgresRepo)
	batchCallRepo := storage.NewBatchCallRepoAdapter(postgresRepo)
	webhookEventRepo := storage.NewWebhookEventRepoAdapter(postgresRepo)
	clientRepo := storage.NewClientRepoAdapter(postgresRepo)
	campaignRepo := storage.NewCampaignRepoAdapter(postgresRepo)
	agentRepo := storage.NewAgentRepoAdapter(postgresRepo)

	providerClient := provider.NewHTTPClient(cfg.Provider)

	pollBackoff := reconciler.NewScheduleBackoff(cfg.Reconcile.Delays, cfg.Reconcile.MaxAttempts)

	settleSvc := usecase.NewSettlementService(batchCallRepo, callRepo, clientRepo)
	callSyncSvc := usecase.NewCallSyncService(callRepo, contactRepo, settleSvc, markup)
	webhookSvc := usecase.NewWebhookService(
		webhookEventRepo, callRepo, batchCallRepo, providerClient, callSyncSvc,
		cfg.Dispatch, cfg.Reconcile.DefaultStatus,
	)
	dispatchSvc := usecase.NewDispatchService(
		campaignRepo, agentRepo, clientRepo, contactRepo, batchCallRepo, callRepo,
		providerClient, settleSvc, cfg.Dispatch, pollBackoff.InitialDelay(),
	)

	reconcileWorker, err := reconciler.NewReconciler(
		cfg.Reconcile, batchCallRepo, callRepo, providerClient,
		callSyncSvc, settleSvc, pollBackoff, logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize reconciler", zap.Error(err))
	}

	retryWorker, err := reconciler.NewWebhookRetryWorker(cfg.WebhookRetry, webhookEventRepo, webhookSvc, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize webhook retry worker", zap.Error(err))
	}

	// Health check server, with /metrics when enabled
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Health.Port), logger.Log, postgresRepo.Ping)
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Health.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled", zap.String("environment", cfg.Environment))
	}
	healthServer.Start()

	// API server
	router := httpapi.NewRouter(httpapi.Handlers{
		Dispatch:      dispatchSvc,
		Webhook:       webhookSvc,
		WebhookSecret: cfg.Provider.WebhookSecret,
	}, logger.Log)
	apiServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	reconcileWorker.Start(mainCtx)
	retryWorker.Start(mainCtx)

	sigChan := make(chan os.Signal, 1)
	utils.SafeGo(func() {
		logger.Log.Info("Starting API server", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("API server failed, initiating shutdown", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}, nil)

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(5)

	// API server first, so no new work arrives while workers drain.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping API server")
		start := time.Now()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] API server shutdown error", zap.Error(err))
		}
		logger.Log.Info("[shutdown] API server stopped", zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping API server",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping reconciler")
		start := time.Now()
		reconcileWorker.Stop()
		logger.Log.Info("[shutdown] Reconciler stopped", zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping reconciler",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping webhook retry worker")
		start := time.Now()
		retryWorker.Stop()
		logger.Log.Info("[shutdown] Webhook retry worker stopped", zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping webhook retry worker",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Health check server shutdown error", zap.Error(err))
		}
		logger.Log.Info("[shutdown] Health check server stopped", zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Closing database connection")
		start := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Database close error", zap.Error(err))
		}
		logger.Log.Info("[shutdown] Database connection closed", zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing database",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("Graceful shutdown complete")
	case <-shutdownCtx.Done():
		logger.Log.Warn("Graceful shutdown timed out; exiting anyway")
	}
}
