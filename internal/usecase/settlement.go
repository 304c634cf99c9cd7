package usecase

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/storage"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
)

// SettlementService releases a batch's credit reservation exactly once, when
// the batch reaches a terminal status. Actual usage is consumed, the
// remainder of the reservation is refunded.
type SettlementService struct {
	batches storage.BatchCallRepo
	calls   storage.CallRepo
	clients storage.ClientRepo
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(batches storage.BatchCallRepo, calls storage.CallRepo, clients storage.ClientRepo) *SettlementService {
	return &SettlementService{batches: batches, calls: calls, clients: clients}
}

// SettleBatch settles the reservation for a terminal batch. The settlement
// flag is flipped under a guard first, so the webhook and polling paths can
// both call this and only one touches the ledger.
func (s *SettlementService) SettleBatch(ctx context.Context, batch *model.BatchCall) error {
	log := logger.FromContext(ctx)

	if batch.CreditsSettled {
		return nil
	}
	won, err := s.batches.MarkCreditsSettled(ctx, batch.ID)
	if err != nil {
		return err
	}
	if !won {
		log.Debug("Batch already settled by a concurrent path",
			zap.String("batch_call_id", batch.ID))
		batch.CreditsSettled = true
		return nil
	}
	batch.CreditsSettled = true

	if batch.ReservedMinutes <= 0 {
		return nil
	}

	calls, err := s.calls.ListByBatch(ctx, batch.ID)
	if err != nil {
		return err
	}
	consumed := consumedMinutes(calls)
	if consumed > batch.ReservedMinutes {
		log.Warn("Actual usage exceeded the reservation; consuming the full reservation",
			zap.String("batch_call_id", batch.ID),
			zap.Int64("consumed", consumed),
			zap.Int64("reserved", batch.ReservedMinutes))
		consumed = batch.ReservedMinutes
	}

	if consumed == 0 {
		err = s.clients.RefundCredits(ctx, batch.ClientID, batch.ReservedMinutes)
	} else {
		err = s.clients.ConsumeCredits(ctx, batch.ClientID, batch.ReservedMinutes, consumed)
	}
	if err != nil {
		// The settled flag is already set; this needs operator attention
		// rather than a second automatic release.
		log.Error("Batch marked settled but the ledger update failed",
			zap.String("batch_call_id", batch.ID),
			zap.String("client_id", batch.ClientID),
			zap.Int64("reserved_minutes", batch.ReservedMinutes),
			zap.Int64("consumed_minutes", consumed),
			zap.Error(err))
		return err
	}

	log.Info("Batch credits settled",
		zap.String("batch_call_id", batch.ID),
		zap.Int64("reserved_minutes", batch.ReservedMinutes),
		zap.Int64("consumed_minutes", consumed))
	return nil
}

// FinalizeBatchIfComplete checks whether every call in the batch has reached
// a terminal status and, if so, writes the execution summary, takes the batch
// out of the polling rotation and settles the reservation. Returns true when
// the batch was finalized by this pass.
func (s *SettlementService) FinalizeBatchIfComplete(ctx context.Context, batchCallID string) (bool, error) {
	batch, err := s.batches.FindByID(ctx, batchCallID)
	if err != nil {
		return false, err
	}
	if model.IsTerminalBatchStatus(batch.Status) {
		if !batch.CreditsSettled {
			return false, s.SettleBatch(ctx, batch)
		}
		return false, nil
	}

	calls, err := s.calls.ListByBatch(ctx, batch.ID)
	if err != nil {
		return false, err
	}
	if len(calls) == 0 {
		return false, nil
	}

	successful, failed := 0, 0
	var totalDurationMs int64
	totalCost := decimal.Zero
	for i := range calls {
		call := &calls[i]
		if !call.IsTerminal() {
			return false, nil
		}
		if call.Status == model.CallStatusCompleted {
			successful++
		} else {
			failed++
		}
		totalDurationMs += call.DurationMs
		totalCost = totalCost.Add(call.ClientCost)
	}

	batch.Status = model.BatchStatusCompleted
	batch.SuccessfulCalls = successful
	batch.FailedCalls = failed
	batch.TotalDurationMs = totalDurationMs
	batch.TotalCost = totalCost
	batch.Reconciled = true
	batch.NextPollAt = nil
	if err := s.batches.Update(ctx, batch); err != nil {
		return false, err
	}
	if err := s.SettleBatch(ctx, batch); err != nil {
		return false, err
	}

	logger.FromContext(ctx).Info("Batch finalized",
		zap.String("batch_call_id", batch.ID),
		zap.Int("successful_calls", successful),
		zap.Int("failed_calls", failed),
		zap.Int64("total_duration_ms", totalDurationMs))
	return true, nil
}

// consumedMinutes sums call durations rounded up to whole minutes per call.
func consumedMinutes(calls []model.Call) int64 {
	var minutes int64
	for i := range calls {
		ms := calls[i].DurationMs
		if ms <= 0 {
			continue
		}
		minutes += (ms + 59999) / 60000
	}
	return minutes
}
