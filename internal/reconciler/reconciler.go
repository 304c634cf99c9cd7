package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/callstate"
	"gitlab.com/voxline/api/voxline-call-engine/internal/config"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
	"gitlab.com/voxline/api/voxline-call-engine/internal/storage"
	"gitlab.com/voxline/api/voxline-call-engine/internal/usecase"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

const (
	claimBatchLimit = 20
	// claimHold keeps a claimed batch out of other scanners' reach while its
	// attempt runs. A crashed worker delays the chain by this much at most.
	claimHold = 2 * time.Minute
)

// Reconciler polls the provider for batches whose webhooks have not (yet)
// arrived and merges the provider's view into local Call rows. Chains for
// different batches run concurrently on the pool; attempts within one chain
// are strictly sequential because a batch is only rescheduled after its
// current attempt finishes.
type Reconciler struct {
	batches  storage.BatchCallRepo
	calls    storage.CallRepo
	provider provider.Client
	sync     *usecase.CallSyncService
	settle   *usecase.SettlementService
	backoff  BackoffPolicy

	scanInterval  time.Duration
	defaultStatus string

	pool   *ants.Pool
	logger *zap.Logger
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

// NewReconciler creates a Reconciler with its worker pool.
func NewReconciler(
	cfg config.ReconcileConfig,
	batches storage.BatchCallRepo,
	calls storage.CallRepo,
	providerClient provider.Client,
	callSync *usecase.CallSyncService,
	settle *usecase.SettlementService,
	backoff BackoffPolicy,
	logger *zap.Logger,
) (*Reconciler, error) {
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithLogger(newAntsLoggerAdapter(logger.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			logger.Error("Reconcile worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile pool: %w", err)
	}

	return &Reconciler{
		batches:       batches,
		calls:         calls,
		provider:      providerClient,
		sync:          callSync,
		settle:        settle,
		backoff:       backoff,
		scanInterval:  cfg.ScanInterval,
		defaultStatus: cfg.DefaultStatus,
		pool:          pool,
		logger:        logger.Named("reconciler"),
	}, nil
}

// Start begins the scan loop.
func (r *Reconciler) Start(ctx context.Context) {
	derivedCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.stopWg.Add(1)
	utils.SafeGo(func() {
		defer r.stopWg.Done()
		r.scanLoop(derivedCtx)
	}, func(rec interface{}, stack []byte) {
		r.logger.Error("Scan loop panic", zap.Any("panic", rec), zap.ByteString("stack", stack))
	})

	r.logger.Info("Reconciler started",
		zap.Duration("scan_interval", r.scanInterval),
		zap.Int("pool_size", r.pool.Cap()))
}

// Stop shuts the loop down and waits for in-flight attempts to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.stopWg.Wait()
	r.pool.Release()
	r.logger.Info("Reconciler stopped")
}

func (r *Reconciler) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

// scanOnce claims due batches and fans their attempts out onto the pool.
func (r *Reconciler) scanOnce(ctx context.Context) {
	claimed, err := r.batches.ClaimDuePolls(ctx, utils.Now(), claimHold, claimBatchLimit)
	if err != nil {
		r.logger.Error("Failed to claim due batches", zap.Error(err))
		return
	}

	for i := range claimed {
		batch := claimed[i]
		submitErr := r.pool.Submit(func() {
			observer.SetReconcileWorkersActive(r.pool.Running())
			defer func() { observer.SetReconcileWorkersActive(r.pool.Running()) }()
			r.PollBatch(ctx, &batch)
		})
		if submitErr != nil {
			r.logger.Error("Failed to submit poll attempt",
				zap.String("batch_call_id", batch.ID),
				zap.Error(submitErr))
		}
	}
}

// PollBatch runs one reconciliation attempt for one batch.
func (r *Reconciler) PollBatch(ctx context.Context, batch *model.BatchCall) {
	log := r.logger.With(
		zap.String("batch_call_id", batch.ID),
		zap.String("provider_batch_id", batch.ProviderBatchID),
		zap.Int("attempt", batch.PollAttempts+1))
	startTime := time.Now()
	attempts := batch.PollAttempts + 1

	providerCalls, err := r.provider.ListCallsByBatch(ctx, batch.ProviderBatchID)
	if err != nil {
		log.Warn("Provider poll failed", zap.Error(err))
		observer.IncReconcileAttempt("error")
		r.reschedule(ctx, batch, attempts, err.Error())
		observer.ObserveReconcileDuration(time.Since(startTime))
		return
	}

	if len(providerCalls) == 0 {
		log.Info("Provider has no calls for batch yet")
		observer.IncReconcileAttempt("empty")
		r.reschedule(ctx, batch, attempts, "")
		observer.ObserveReconcileDuration(time.Since(startTime))
		return
	}

	merged := 0
	for i := range providerCalls {
		if mergeErr := r.mergeProviderCall(ctx, batch, &providerCalls[i]); mergeErr != nil {
			log.Warn("Failed to merge provider call",
				zap.String("provider_call_id", providerCalls[i].CallID),
				zap.Error(mergeErr))
			continue
		}
		merged++
	}

	if merged == 0 {
		observer.IncReconcileAttempt("error")
		r.reschedule(ctx, batch, attempts, "no provider call could be merged")
		observer.ObserveReconcileDuration(time.Since(startTime))
		return
	}

	// One successful sync closes the chain for this batch. Individual calls
	// may still be finalized later by webhooks.
	batch.PollAttempts = attempts
	batch.NextPollAt = nil
	batch.Reconciled = true
	batch.LastPollError = ""
	if updErr := r.batches.Update(ctx, batch); updErr != nil {
		log.Error("Failed to close reconciliation chain", zap.Error(updErr))
	}
	if _, finErr := r.settle.FinalizeBatchIfComplete(ctx, batch.ID); finErr != nil {
		log.Warn("Batch finalization check failed", zap.Error(finErr))
	}

	observer.IncReconcileAttempt("synced")
	observer.ObserveReconcileDuration(time.Since(startTime))
	log.Info("Batch reconciled", zap.Int("calls_merged", merged))
}

// reschedule books the next attempt, or parks the batch for manual
// inspection once the policy says stop.
func (r *Reconciler) reschedule(ctx context.Context, batch *model.BatchCall, attempts int, lastErr string) {
	delay, ok := r.backoff.NextDelay(attempts)
	if !ok {
		r.logger.Warn("Reconciliation attempts exhausted; batch left for manual inspection",
			zap.String("batch_call_id", batch.ID),
			zap.Int("attempts", attempts))
		observer.IncReconcileAttempt("exhausted")
		if err := r.batches.SchedulePoll(ctx, batch.ID, attempts, nil, lastErr); err != nil {
			r.logger.Error("Failed to park batch", zap.String("batch_call_id", batch.ID), zap.Error(err))
		}
		return
	}

	next := utils.Now().Add(delay)
	if err := r.batches.SchedulePoll(ctx, batch.ID, attempts, &next, lastErr); err != nil {
		r.logger.Error("Failed to schedule next poll", zap.String("batch_call_id", batch.ID), zap.Error(err))
	}
}

// mergeProviderCall folds one provider call into its local row. Placeholder
// rows carry no provider call id yet, so the matching key is (batch id,
// to-number); rows already bound to a provider id are found directly.
func (r *Reconciler) mergeProviderCall(ctx context.Context, batch *model.BatchCall, pc *provider.Call) error {
	local, err := r.calls.FindByProviderCallID(ctx, pc.CallID)
	if errors.Is(err, apperrors.ErrNotFound) {
		local, err = r.calls.FindByBatchAndToNumber(ctx, batch.ID, pc.ToNumber)
	}
	if err != nil {
		return err
	}

	upd := callstate.Update{
		ProviderCallID:   pc.CallID,
		StartedAt:        pc.StartedAt,
		EndedAt:          pc.EndedAt,
		DurationMs:       pc.DurationMs,
		DisconnectReason: pc.Disconnect,
		RecordingURL:     pc.RecordingURL,
	}
	if pc.Status != "" {
		status, mapped := callstate.MapProviderStatus(pc.Status, r.defaultStatus)
		if !mapped {
			observer.IncUnmappedProviderStatus(pc.Status)
			r.logger.Warn("Unmapped provider status during reconciliation",
				zap.String("provider_status", pc.Status),
				zap.String("defaulted_to", status))
		}
		upd.Status = status
	}
	if !pc.Price.IsZero() {
		price := pc.Price
		upd.ProviderCost = &price
	}

	// A call the webhooks never finalized gets its transcript and analysis
	// from the detail endpoint, the same source the call_ended path uses.
	if model.IsTerminalStatus(upd.Status) && local.Transcript == "" {
		detail, detErr := r.provider.GetCallDetails(ctx, pc.CallID)
		if detErr != nil {
			return detErr
		}
		upd.Transcript = detail.Transcript
		upd.TranscriptObject = datatypes.JSON(detail.TranscriptObject)
		upd.Analysis = datatypes.JSON(detail.Analysis)
		upd.ProviderMetadata = datatypes.JSON(detail.Metadata)
		if upd.ProviderCost == nil && !detail.Price.IsZero() {
			price := detail.Price
			upd.ProviderCost = &price
		}
	}

	_, err = r.sync.MergeUpdate(ctx, local.ID, upd)
	return err
}
