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

// FindPendingByCampaign returns active pending contacts in FIFO order.
func (r *PostgresRepo) FindPendingByCampaign(ctx context.Context, campaignID string, limit int) ([]model.CampaignContact, error) {
	var contacts []model.CampaignContact

	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("campaign_id = ? AND active = ? AND call_status = ?",
				campaignID, true, model.ContactStatusPending).
			Order("created_at ASC").
			Limit(limit).
			Find(&contacts)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindPendingContacts", operation)
	observer.ObserveDbOperationDuration("list", "campaign_contact", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return contacts, nil
}

// MarkDispatched moves contacts from pending to in_progress and bumps their
// attempt counts in one statement.
func (r *PostgresRepo) MarkDispatched(ctx context.Context, contactIDs []string) error {
	if len(contactIDs) == 0 {
		return nil
	}

	now := utils.Now()
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("id IN ? AND call_status = ?", contactIDs, model.ContactStatusPending).
			Updates(map[string]interface{}{
				"call_status":   model.ContactStatusInProgress,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"last_call_at":  now,
				"updated_at":    now,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkContactsDispatched Commit", operation)
	observer.ObserveDbOperationDuration("update", "campaign_contact", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark contacts dispatched after retries",
			zap.Int("count", len(contactIDs)),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateOutcome records the terminal call status for a contact.
func (r *PostgresRepo) UpdateOutcome(ctx context.Context, campaignID, phoneNumber, callStatus string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("campaign_id = ? AND phone_number = ?", campaignID, phoneNumber).
			Updates(map[string]interface{}{
				"call_status": callStatus,
				"updated_at":  utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			logger.FromContext(ctx).Debug("No contact matched for outcome update",
				zap.String("campaign_id", campaignID),
				zap.String("phone_number", phoneNumber))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateContactOutcome Commit", operation)
	observer.ObserveDbOperationDuration("update", "campaign_contact", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update contact outcome after retries",
			zap.String("campaign_id", campaignID),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// MarkInFlightFailed flags remaining in_progress contacts of a campaign as
// failed and returns how many rows were touched.
func (r *PostgresRepo) MarkInFlightFailed(ctx context.Context, campaignID string) (int64, error) {
	var affected int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("campaign_id = ? AND call_status = ?", campaignID, model.ContactStatusInProgress).
			Updates(map[string]interface{}{
				"call_status": model.ContactStatusFailed,
				"updated_at":  utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		affected = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkInFlightContactsFailed Commit", operation)
	observer.ObserveDbOperationDuration("update", "campaign_contact", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to fail in-flight contacts after retries",
			zap.String("campaign_id", campaignID),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return affected, nil
}
