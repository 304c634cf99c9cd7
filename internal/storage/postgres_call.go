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

// CreateCalls inserts placeholder call rows all-or-nothing.
func (r *PostgresRepo) CreateCalls(ctx context.Context, calls []*model.Call) error {
	if len(calls) == 0 {
		return nil
	}

	operation := func() error {
		txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, call := range calls {
				if result := tx.Create(call); result.Error != nil {
					return checkConstraintViolation(result.Error)
				}
			}
			return nil
		})
		if txErr != nil {
			if errors.Is(txErr, apperrors.ErrDuplicate) || errors.Is(txErr, apperrors.ErrBadRequest) {
				return backoff.Permanent(txErr)
			}
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateBatch Commit", operation)
	observer.ObserveDbOperationDuration("insert_batch", "call", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to insert call batch after retries",
			zap.Int("count", len(calls)),
			zap.Error(commitErr))
		return commitErr
	}

	return nil
}

// CreateCall inserts a single call row.
func (r *PostgresRepo) CreateCall(ctx context.Context, call *model.Call) error {
	operation := func() error {
		if result := r.db.WithContext(ctx).Create(call); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateCall Commit", operation)
	observer.ObserveDbOperationDuration("insert", "call", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to insert call after retries",
			zap.String("call_id", call.ID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindCallByID retrieves a call by its internal id.
func (r *PostgresRepo) FindCallByID(ctx context.Context, id string) (*model.Call, error) {
	var call model.Call

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&call)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindCallByID", operation)
	observer.ObserveDbOperationDuration("find", "call", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &call, nil
}

// FindCallByProviderCallID retrieves a call by the provider-assigned id.
func (r *PostgresRepo) FindCallByProviderCallID(ctx context.Context, providerCallID string) (*model.Call, error) {
	var call model.Call

	operation := func() error {
		result := r.db.WithContext(ctx).Where("provider_call_id = ?", providerCallID).First(&call)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindCallByProviderCallID", operation)
	observer.ObserveDbOperationDuration("find", "call", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &call, nil
}

// FindCallByBatchAndToNumber returns the oldest call in the batch for the given
// destination that has not yet reached a terminal status.
func (r *PostgresRepo) FindCallByBatchAndToNumber(ctx context.Context, batchCallID, toNumber string) (*model.Call, error) {
	var call model.Call

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("batch_call_id = ? AND to_number = ? AND status NOT IN ?",
				batchCallID, toNumber, terminalCallStatuses()).
			Order("created_at ASC").
			First(&call)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindCallByBatchAndToNumber", operation)
	observer.ObserveDbOperationDuration("find", "call", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &call, nil
}

// FindRecentCallByParties matches a call by its agent and from/to pair
// created after the cutoff. Calls still waiting for a provider id come first
// so a late call_started event binds to the right placeholder.
func (r *PostgresRepo) FindRecentCallByParties(ctx context.Context, fromNumber, toNumber, agentID string, since time.Time) (*model.Call, error) {
	var call model.Call

	operation := func() error {
		query := r.db.WithContext(ctx).
			Where("from_number = ? AND to_number = ? AND created_at >= ?", fromNumber, toNumber, since)
		if agentID != "" {
			query = query.Where("agent_id = ?", agentID)
		}
		result := query.
			Order("provider_call_id ASC NULLS FIRST, created_at ASC").
			First(&call)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindRecentCallByParties", operation)
	observer.ObserveDbOperationDuration("find", "call", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &call, nil
}

// ListCallsByBatch returns all calls in a batch, oldest first.
func (r *PostgresRepo) ListCallsByBatch(ctx context.Context, batchCallID string) ([]model.Call, error) {
	var calls []model.Call

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("batch_call_id = ?", batchCallID).
			Order("created_at ASC").
			Find(&calls)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "ListCallsByBatch", operation)
	observer.ObserveDbOperationDuration("list", "call", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return calls, nil
}

// UpdateCallWithLock loads the call under FOR UPDATE, applies fn, and saves when
// fn reports a change. fn decides whether the write happens, so status
// monotonicity is enforced while the row is locked.
func (r *PostgresRepo) UpdateCallWithLock(ctx context.Context, id string, fn func(call *model.Call) (bool, error)) (*model.Call, error) {
	var updated model.Call

	operation := func() error {
		txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var call model.Call
			result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", id).
				First(&call)
			if result.Error != nil {
				return checkConstraintViolation(result.Error)
			}

			changed, fnErr := fn(&call)
			if fnErr != nil {
				return fnErr
			}
			if changed {
				call.UpdatedAt = utils.Now()
				if saveErr := tx.Save(&call).Error; saveErr != nil {
					return checkConstraintViolation(saveErr)
				}
			}
			updated = call
			return nil
		})
		if txErr != nil {
			if errors.Is(txErr, apperrors.ErrNotFound) ||
				errors.Is(txErr, apperrors.ErrDuplicate) ||
				errors.Is(txErr, apperrors.ErrInvalidState) {
				return backoff.Permanent(txErr)
			}
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateCallWithLock Commit", operation)
	observer.ObserveDbOperationDuration("update_locked", "call", time.Since(startTime), commitErr)

	if commitErr != nil {
		if !errors.Is(commitErr, apperrors.ErrNotFound) {
			logger.FromContext(ctx).Error("Failed to update call after retries",
				zap.String("call_id", id),
				zap.Error(commitErr))
		}
		return nil, commitErr
	}
	return &updated, nil
}

func terminalCallStatuses() []string {
	return []string{
		model.CallStatusCompleted,
		model.CallStatusFailed,
		model.CallStatusNoAnswer,
		model.CallStatusBusy,
		model.CallStatusVoicemail,
	}
}
