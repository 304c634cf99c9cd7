package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/config"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/internal/storage"
	"gitlab.com/voxline/api/voxline-call-engine/internal/usecase"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

// WebhookRetryWorker re-runs processing for webhook events whose first
// attempt failed after the row was already persisted. Events past the
// attempt cap stay in the table unprocessed for manual inspection.
type WebhookRetryWorker struct {
	events  storage.WebhookEventRepo
	webhook *usecase.WebhookService

	scanInterval time.Duration
	maxAttempts  int
	batchSize    int

	pool   *ants.Pool
	logger *zap.Logger
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

func NewWebhookRetryWorker(
	cfg config.WebhookRetryConfig,
	events storage.WebhookEventRepo,
	webhook *usecase.WebhookService,
	logger *zap.Logger,
) (*WebhookRetryWorker, error) {
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithLogger(newAntsLoggerAdapter(logger.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			logger.Error("Webhook retry worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook retry pool: %w", err)
	}

	return &WebhookRetryWorker{
		events:       events,
		webhook:      webhook,
		scanInterval: cfg.ScanInterval,
		maxAttempts:  cfg.MaxAttempts,
		batchSize:    cfg.BatchSize,
		pool:         pool,
		logger:       logger.Named("webhook_retry"),
	}, nil
}

func (w *WebhookRetryWorker) Start(ctx context.Context) {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.stopWg.Add(1)
	utils.SafeGo(func() {
		defer w.stopWg.Done()
		w.scanLoop(derivedCtx)
	}, func(rec interface{}, stack []byte) {
		w.logger.Error("Scan loop panic", zap.Any("panic", rec), zap.ByteString("stack", stack))
	})

	w.logger.Info("Webhook retry worker started",
		zap.Duration("scan_interval", w.scanInterval),
		zap.Int("max_attempts", w.maxAttempts))
}

func (w *WebhookRetryWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.stopWg.Wait()
	w.pool.Release()
	w.logger.Info("Webhook retry worker stopped")
}

func (w *WebhookRetryWorker) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanOnce(ctx)
		}
	}
}

func (w *WebhookRetryWorker) scanOnce(ctx context.Context) {
	pending, err := w.events.FindUnprocessed(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		w.logger.Error("Failed to load unprocessed webhook events", zap.Error(err))
		return
	}

	for i := range pending {
		event := pending[i]
		submitErr := w.pool.Submit(func() {
			w.retryEvent(ctx, &event)
		})
		if submitErr != nil {
			w.logger.Error("Failed to submit webhook retry",
				zap.String("event_id", event.ID),
				zap.Error(submitErr))
		}
	}
}

func (w *WebhookRetryWorker) retryEvent(ctx context.Context, event *model.WebhookEvent) {
	observer.IncWebhookRetry()
	w.logger.Info("Retrying webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.Int("attempt_count", event.AttemptCount))
	w.webhook.Process(ctx, event)
}
