package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

// InsertWebhookEvent persists an inbound provider event before processing.
// Once this commit succeeds the event is acknowledged upstream; processing
// failures are retried from this row, never redelivered by the provider.
func (r *PostgresRepo) InsertWebhookEvent(ctx context.Context, event *model.WebhookEvent) error {
	operation := func() error {
		if result := r.db.WithContext(ctx).Create(event); result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "InsertWebhookEvent Commit", operation)
	observer.ObserveDbOperationDuration("insert", "webhook_event", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to insert webhook event after retries",
			zap.String("event_type", event.EventType),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// MarkWebhookEventProcessed flips the processed flag and records the entities
// the event resolved to.
func (r *PostgresRepo) MarkWebhookEventProcessed(ctx context.Context, id string, callID, batchCallID *string) error {
	now := utils.Now()
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"processed":       true,
				"call_id":         callID,
				"batch_call_id":   batchCallID,
				"error_message":   "",
				"last_attempt_at": now,
				"updated_at":      now,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkWebhookEventProcessed Commit", operation)
	observer.ObserveDbOperationDuration("update", "webhook_event", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark webhook event processed after retries",
			zap.String("event_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// RecordWebhookEventFailure bumps the attempt counter and stores the error so
// the retry worker can pick the event up later.
func (r *PostgresRepo) RecordWebhookEventFailure(ctx context.Context, id string, attemptErr error) error {
	msg := ""
	if attemptErr != nil {
		msg = attemptErr.Error()
	}
	now := utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"attempt_count":   gorm.Expr("attempt_count + 1"),
				"error_message":   msg,
				"last_attempt_at": now,
				"updated_at":      now,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "RecordWebhookEventFailure Commit", operation)
	observer.ObserveDbOperationDuration("update", "webhook_event", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to record webhook event failure after retries",
			zap.String("event_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindUnprocessedWebhookEvents returns failed events still under the attempt
// cap, oldest first.
func (r *PostgresRepo) FindUnprocessedWebhookEvents(ctx context.Context, maxAttempts, limit int) ([]model.WebhookEvent, error) {
	var events []model.WebhookEvent

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("processed = ? AND attempt_count > 0 AND attempt_count < ?", false, maxAttempts).
			Order("created_at ASC").
			Limit(limit).
			Find(&events)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindUnprocessedWebhookEvents", operation)
	observer.ObserveDbOperationDuration("list", "webhook_event", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return events, nil
}
