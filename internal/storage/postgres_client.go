package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

// FindClientByID retrieves a client ledger row.
func (r *PostgresRepo) FindClientByID(ctx context.Context, id string) (*model.Client, error) {
	var client model.Client

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&client)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindClientByID", operation)
	observer.ObserveDbOperationDuration("find", "client", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &client, nil
}

// ReserveClientCredits moves minutes from available to reserved. The guard in
// the WHERE clause makes the check-and-reserve a single atomic statement;
// two concurrent reservations can never both succeed against one balance.
func (r *PostgresRepo) ReserveClientCredits(ctx context.Context, clientID string, minutes int64) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: reservation must be positive, got %d", apperrors.ErrBadRequest, minutes)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Exec(
			`UPDATE clients
			 SET reserved_minutes = reserved_minutes + ?, updated_at = ?
			 WHERE id = ? AND total_minutes - reserved_minutes - consumed_minutes >= ?`,
			minutes, utils.Now(), clientID, minutes,
		)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			// Guard failed: either the client is missing or the balance is short.
			var client model.Client
			if findErr := r.db.WithContext(ctx).Where("id = ?", clientID).First(&client).Error; findErr != nil {
				if errors.Is(findErr, gorm.ErrRecordNotFound) {
					return backoff.Permanent(fmt.Errorf("%w: client %s", apperrors.ErrNotFound, clientID))
				}
				return checkConstraintViolation(findErr)
			}
			return backoff.Permanent(fmt.Errorf("%w: need %d minutes, %d available",
				apperrors.ErrInsufficientCredits, minutes, client.AvailableMinutes()))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ReserveClientCredits Commit", operation)
	observer.ObserveDbOperationDuration("update", "client", time.Since(startTime), commitErr)
	observer.IncCreditOperation("reserve", creditResult(commitErr))

	if commitErr != nil {
		if !errors.Is(commitErr, apperrors.ErrInsufficientCredits) {
			logger.FromContext(ctx).Error("Failed to reserve credits after retries",
				zap.String("client_id", clientID),
				zap.Int64("minutes", minutes),
				zap.Error(commitErr))
		}
		return commitErr
	}
	return nil
}

// ConsumeClientCredits settles actual usage: the reservation is released and
// consumed minutes are booked in one statement. The guard stops the ledger
// from going negative when settlement is attempted twice.
func (r *PostgresRepo) ConsumeClientCredits(ctx context.Context, clientID string, reserved, consumed int64) error {
	if reserved < 0 || consumed < 0 {
		return fmt.Errorf("%w: negative settlement (reserved=%d consumed=%d)", apperrors.ErrBadRequest, reserved, consumed)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Exec(
			`UPDATE clients
			 SET reserved_minutes = reserved_minutes - ?,
			     consumed_minutes = consumed_minutes + ?,
			     updated_at = ?
			 WHERE id = ? AND reserved_minutes >= ?`,
			reserved, consumed, utils.Now(), clientID, reserved,
		)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: settlement of %d reserved minutes for client %s",
				apperrors.ErrInvalidState, reserved, clientID))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ConsumeClientCredits Commit", operation)
	observer.ObserveDbOperationDuration("update", "client", time.Since(startTime), commitErr)
	observer.IncCreditOperation("consume", creditResult(commitErr))

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to consume credits after retries",
			zap.String("client_id", clientID),
			zap.Int64("reserved", reserved),
			zap.Int64("consumed", consumed),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// RefundClientCredits releases a reservation without consuming anything.
func (r *PostgresRepo) RefundClientCredits(ctx context.Context, clientID string, minutes int64) error {
	if minutes <= 0 {
		if minutes == 0 {
			return nil
		}
		return fmt.Errorf("%w: refund must be positive, got %d", apperrors.ErrBadRequest, minutes)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Exec(
			`UPDATE clients
			 SET reserved_minutes = reserved_minutes - ?, updated_at = ?
			 WHERE id = ? AND reserved_minutes >= ?`,
			minutes, utils.Now(), clientID, minutes,
		)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(fmt.Errorf("%w: refund of %d minutes for client %s",
				apperrors.ErrInvalidState, minutes, clientID))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "RefundClientCredits Commit", operation)
	observer.ObserveDbOperationDuration("update", "client", time.Since(startTime), commitErr)
	observer.IncCreditOperation("refund", creditResult(commitErr))

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to refund credits after retries",
			zap.String("client_id", clientID),
			zap.Int64("minutes", minutes),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

func creditResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrInsufficientCredits):
		return "insufficient"
	default:
		return "error"
	}
}
