package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

// CreateBatchCall inserts a new batch row.
func (r *PostgresRepo) CreateBatchCall(ctx context.Context, batch *model.BatchCall) error {
	operation := func() error {
		if result := r.db.WithContext(ctx).Create(batch); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateBatchCall Commit", operation)
	observer.ObserveDbOperationDuration("insert", "batch_call", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to insert batch call after retries",
			zap.String("batch_call_id", batch.ID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateBatchCall persists the full batch row.
func (r *PostgresRepo) UpdateBatchCall(ctx context.Context, batch *model.BatchCall) error {
	batch.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Save(batch)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateBatchCall Commit", operation)
	observer.ObserveDbOperationDuration("update", "batch_call", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update batch call after retries",
			zap.String("batch_call_id", batch.ID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindBatchCallByID retrieves a batch by its internal id.
func (r *PostgresRepo) FindBatchCallByID(ctx context.Context, id string) (*model.BatchCall, error) {
	var batch model.BatchCall

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&batch)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindBatchCallByID", operation)
	observer.ObserveDbOperationDuration("find", "batch_call", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &batch, nil
}

// FindBatchCallByProviderBatchID retrieves a batch by the provider-assigned id.
func (r *PostgresRepo) FindBatchCallByProviderBatchID(ctx context.Context, providerBatchID string) (*model.BatchCall, error) {
	var batch model.BatchCall

	operation := func() error {
		result := r.db.WithContext(ctx).Where("provider_batch_id = ?", providerBatchID).First(&batch)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindBatchCallByProviderBatchID", operation)
	observer.ObserveDbOperationDuration("find", "batch_call", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &batch, nil
}

// ClaimDuePolls selects unreconciled batches whose next_poll_at has elapsed.
// Rows are locked with SKIP LOCKED so concurrent scanners never double-claim,
// and next_poll_at is pushed forward inside the same transaction so a crashed
// worker only delays the chain instead of losing it.
func (r *PostgresRepo) ClaimDuePolls(ctx context.Context, now time.Time, holdFor time.Duration, limit int) ([]model.BatchCall, error) {
	var claimed []model.BatchCall

	operation := func() error {
		claimed = claimed[:0]
		txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where("reconciled = ? AND next_poll_at IS NOT NULL AND next_poll_at <= ?", false, now).
				Order("next_poll_at ASC").
				Limit(limit).
				Find(&claimed)
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}
			if len(claimed) == 0 {
				return nil
			}

			ids := make([]string, 0, len(claimed))
			for i := range claimed {
				ids = append(ids, claimed[i].ID)
			}
			hold := now.Add(holdFor)
			update := tx.Model(&model.BatchCall{}).
				Where("id IN ?", ids).
				Updates(map[string]interface{}{
					"next_poll_at": hold,
					"updated_at":   now,
				})
			if update.Error != nil {
				return checkConstraintViolation(update.Error)
			}
			return nil
		})
		return txErr
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ClaimDuePolls Commit", operation)
	observer.ObserveDbOperationDuration("claim", "batch_call", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to claim due polls after retries", zap.Error(commitErr))
		return nil, commitErr
	}
	return claimed, nil
}

// MarkBatchCreditsSettled flips the settlement flag with a guard so only one
// caller wins when the webhook and polling paths race to settle.
func (r *PostgresRepo) MarkBatchCreditsSettled(ctx context.Context, id string) (bool, error) {
	var won bool

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.BatchCall{}).
			Where("id = ? AND credits_settled = ?", id, false).
			Updates(map[string]interface{}{
				"credits_settled": true,
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		won = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkBatchCreditsSettled Commit", operation)
	observer.ObserveDbOperationDuration("update", "batch_call", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark batch credits settled after retries",
			zap.String("batch_call_id", id),
			zap.Error(commitErr))
		return false, commitErr
	}
	return won, nil
}

// SchedulePoll records the attempt count and next poll time for a batch. A
// nil nextPollAt removes the batch from the polling rotation. A scheduled
// batch is by definition not reconciled, so the flag is cleared: a manual
// re-sync after a closed chain re-enters the claim predicate.
func (r *PostgresRepo) SchedulePoll(ctx context.Context, id string, attempts int, nextPollAt *time.Time, lastErr string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.BatchCall{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"poll_attempts":   attempts,
				"next_poll_at":    nextPollAt,
				"last_poll_error": lastErr,
				"reconciled":      false,
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(errors.Join(apperrors.ErrNotFound,
				errors.New("batch call not found for poll scheduling")))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SchedulePoll Commit", operation)
	observer.ObserveDbOperationDuration("update", "batch_call", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to schedule poll after retries",
			zap.String("batch_call_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
