package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

// FindCampaignByID retrieves a campaign.
func (r *PostgresRepo) FindCampaignByID(ctx context.Context, id string) (*model.Campaign, error) {
	var campaign model.Campaign

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindCampaignByID", operation)
	observer.ObserveDbOperationDuration("find", "campaign", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &campaign, nil
}

// UpdateCampaignStatus sets a campaign's status.
func (r *PostgresRepo) UpdateCampaignStatus(ctx context.Context, id, status string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(errors.Join(apperrors.ErrNotFound,
				errors.New("campaign not found for status update")))
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateCampaignStatus Commit", operation)
	observer.ObserveDbOperationDuration("update", "campaign", time.Since(startTime), commitErr)

	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update campaign status after retries",
			zap.String("campaign_id", id),
			zap.String("status", status),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindAgentByID retrieves a voice agent.
func (r *PostgresRepo) FindAgentByID(ctx context.Context, id string) (*model.Agent, error) {
	var agent model.Agent

	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&agent)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	readErr := retryableOperation(ctx, readPolicy, "FindAgentByID", operation)
	observer.ObserveDbOperationDuration("find", "agent", time.Since(startTime), readErr)

	if readErr != nil {
		return nil, readErr
	}
	return &agent, nil
}
