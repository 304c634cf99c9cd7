package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/config"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
	"gitlab.com/voxline/api/voxline-call-engine/internal/storage"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

// DispatchService turns pending campaign contacts into one provider batch.
type DispatchService struct {
	campaigns storage.CampaignRepo
	agents    storage.AgentRepo
	clients   storage.ClientRepo
	contacts  storage.ContactRepo
	batches   storage.BatchCallRepo
	calls     storage.CallRepo
	provider  provider.Client
	settle    *SettlementService

	cfg              config.DispatchConfig
	initialPollDelay time.Duration
}

// NewDispatchService creates a DispatchService.
func NewDispatchService(
	campaigns storage.CampaignRepo,
	agents storage.AgentRepo,
	clients storage.ClientRepo,
	contacts storage.ContactRepo,
	batches storage.BatchCallRepo,
	calls storage.CallRepo,
	providerClient provider.Client,
	settle *SettlementService,
	cfg config.DispatchConfig,
	initialPollDelay time.Duration,
) *DispatchService {
	return &DispatchService{
		campaigns:        campaigns,
		agents:           agents,
		clients:          clients,
		contacts:         contacts,
		batches:          batches,
		calls:            calls,
		provider:         providerClient,
		settle:           settle,
		cfg:              cfg,
		initialPollDelay: initialPollDelay,
	}
}

// StartBatchResult is returned to the API caller on a successful dispatch.
type StartBatchResult struct {
	BatchCallID    string `json:"batch_call_id"`
	TotalTaskCount int    `json:"total_task_count"`
}

// StartBatch dispatches all pending contacts of a campaign as one provider
// batch. Credits are reserved before the provider call; a provider failure
// triggers a compensating refund before the error is returned. Placeholder
// Call rows are written all-or-nothing, and the batch is put into the polling
// rotation before this returns. Dispatch never blocks on call completion.
func (s *DispatchService) StartBatch(ctx context.Context, campaignID string) (*StartBatchResult, error) {
	log := logger.FromContext(ctx)

	if campaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", apperrors.ErrValidation)
	}

	campaign, err := s.campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusPublished {
		observer.IncBatchDispatchFailure(campaign.ClientID, "not_eligible")
		return nil, fmt.Errorf("%w: campaign %s is %s, want %s",
			apperrors.ErrNotEligible, campaignID, campaign.Status, model.CampaignStatusPublished)
	}

	agent, err := s.agents.FindByID(ctx, campaign.AgentID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			observer.IncBatchDispatchFailure(campaign.ClientID, "not_eligible")
			return nil, fmt.Errorf("%w: campaign %s has no agent", apperrors.ErrNotEligible, campaignID)
		}
		return nil, err
	}
	if agent.ClientID != campaign.ClientID {
		observer.IncBatchDispatchFailure(campaign.ClientID, "not_eligible")
		return nil, fmt.Errorf("%w: agent %s is not owned by client %s",
			apperrors.ErrNotEligible, agent.ID, campaign.ClientID)
	}

	// One batch picks up at most as many contacts as the provider runs
	// concurrently, so the reservation tracks what can actually dial.
	contacts, err := s.contacts.FindPendingByCampaign(ctx, campaignID, s.cfg.ConcurrencyCap)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		observer.IncBatchDispatchFailure(campaign.ClientID, "no_contacts")
		return nil, fmt.Errorf("%w: campaign %s has no pending contacts", apperrors.ErrNoContacts, campaignID)
	}

	estimated := int64(len(contacts)) * s.cfg.MinutesPerCall
	if err := s.clients.ReserveCredits(ctx, campaign.ClientID, estimated); err != nil {
		if errors.Is(err, apperrors.ErrInsufficientCredits) {
			observer.IncBatchDispatchFailure(campaign.ClientID, "insufficient_credits")
		}
		return nil, err
	}

	// The one unavoidable dual-write: the reservation and the batch row are
	// local, the dispatch itself is not. Reconciliation (webhook + polling)
	// repairs disagreement; a provider failure here is compensated by an
	// immediate refund.
	batchResp, err := s.provider.CreateBatch(ctx, s.buildBatchRequest(campaign, agent, contacts))
	if err != nil {
		observer.IncBatchDispatchFailure(campaign.ClientID, "provider_error")
		if refundErr := s.clients.RefundCredits(ctx, campaign.ClientID, estimated); refundErr != nil {
			log.Error("Compensating refund after provider failure did not apply",
				zap.String("client_id", campaign.ClientID),
				zap.Int64("minutes", estimated),
				zap.Error(refundErr))
		}
		return nil, err
	}

	now := utils.Now()
	nextPoll := now.Add(s.initialPollDelay)
	batch := &model.BatchCall{
		ID:               uuid.NewString(),
		ProviderBatchID:  batchResp.BatchID,
		CampaignID:       campaign.ID,
		ClientID:         campaign.ClientID,
		TaskCount:        batchResp.TotalTaskCount,
		Status:           model.BatchStatusProcessing,
		EstimatedMinutes: estimated,
		ReservedMinutes:  estimated,
		NextPollAt:       &nextPoll,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		log.Error("Provider batch dispatched but local batch row failed; manual re-sync required",
			zap.String("provider_batch_id", batchResp.BatchID),
			zap.Error(err))
		return nil, err
	}

	calls := make([]*model.Call, 0, len(contacts))
	contactIDs := make([]string, 0, len(contacts))
	for i := range contacts {
		contact := &contacts[i]
		contactIDs = append(contactIDs, contact.ID)
		batchID := batch.ID
		calls = append(calls, &model.Call{
			ID:            uuid.NewString(),
			BatchCallID:   &batchID,
			CampaignID:    campaign.ID,
			ClientID:      campaign.ClientID,
			FromNumber:    campaign.FromNumber,
			ToNumber:      contact.PhoneNumber,
			AgentID:       campaign.AgentID,
			Direction:     model.CallDirectionOutbound,
			Status:        model.CallStatusInitiated,
			AttemptNumber: contact.AttemptCount + 1,
		})
	}
	if err := s.calls.CreateBatch(ctx, calls); err != nil {
		return nil, err
	}
	if err := s.contacts.MarkDispatched(ctx, contactIDs); err != nil {
		return nil, err
	}

	observer.IncBatchDispatched(campaign.ClientID)
	observer.AddCallsDispatched(campaign.ClientID, len(calls))
	log.Info("Batch dispatched",
		zap.String("batch_call_id", batch.ID),
		zap.String("provider_batch_id", batch.ProviderBatchID),
		zap.String("campaign_id", campaign.ID),
		zap.Int("task_count", batch.TaskCount),
		zap.Int64("reserved_minutes", estimated))

	return &StartBatchResult{BatchCallID: batch.ID, TotalTaskCount: batch.TaskCount}, nil
}

func (s *DispatchService) buildBatchRequest(campaign *model.Campaign, agent *model.Agent, contacts []model.CampaignContact) provider.CreateBatchRequest {
	tasks := make([]provider.BatchTask, 0, len(contacts))
	for i := range contacts {
		contact := &contacts[i]
		task := provider.BatchTask{PhoneNumber: contact.PhoneNumber}
		if len(contact.DynamicVars) > 0 {
			var pairs []model.DynamicVar
			if err := utils.UnmarshalJSON(contact.DynamicVars, &pairs); err == nil && len(pairs) > 0 {
				task.Variables = make(map[string]string, len(pairs))
				for _, p := range pairs {
					task.Variables[p.Key] = p.Value
				}
			}
		}
		tasks = append(tasks, task)
	}
	return provider.CreateBatchRequest{
		FromNumber:     campaign.FromNumber,
		AgentID:        agent.ProviderAgentID,
		Label:          campaign.Name,
		ConcurrencyCap: s.cfg.ConcurrencyCap,
		Tasks:          tasks,
	}
}

// BatchStatusResult is the aggregate view returned to the API caller.
type BatchStatusResult struct {
	BatchCallID     string     `json:"batch_call_id"`
	CampaignID      string     `json:"campaign_id"`
	Status          string     `json:"status"`
	TaskCount       int        `json:"task_count"`
	SuccessfulCalls int        `json:"successful_calls"`
	FailedCalls     int        `json:"failed_calls"`
	TotalDurationMs int64      `json:"total_duration_ms"`
	TotalCost       string     `json:"total_cost"`
	ReservedMinutes int64      `json:"reserved_minutes"`
	CreditsSettled  bool       `json:"credits_settled"`
	PollAttempts    int        `json:"poll_attempts"`
	NextPollAt      *time.Time `json:"next_poll_at,omitempty"`
}

// BatchStatus returns the current aggregate status of a batch.
func (s *DispatchService) BatchStatus(ctx context.Context, campaignID, batchCallID string) (*BatchStatusResult, error) {
	batch, err := s.findCampaignBatch(ctx, campaignID, batchCallID)
	if err != nil {
		return nil, err
	}
	return &BatchStatusResult{
		BatchCallID:     batch.ID,
		CampaignID:      batch.CampaignID,
		Status:          batch.Status,
		TaskCount:       batch.TaskCount,
		SuccessfulCalls: batch.SuccessfulCalls,
		FailedCalls:     batch.FailedCalls,
		TotalDurationMs: batch.TotalDurationMs,
		TotalCost:       batch.TotalCost.String(),
		ReservedMinutes: batch.ReservedMinutes,
		CreditsSettled:  batch.CreditsSettled,
		PollAttempts:    batch.PollAttempts,
		NextPollAt:      batch.NextPollAt,
	}, nil
}

// StopBatch requests a best-effort provider-side stop, marks still-in-flight
// contacts failed and settles the reservation. In-flight reconciliation
// attempts are not interrupted; terminal-state-is-final keeps them harmless.
func (s *DispatchService) StopBatch(ctx context.Context, campaignID, batchCallID string) error {
	log := logger.FromContext(ctx)

	batch, err := s.findCampaignBatch(ctx, campaignID, batchCallID)
	if err != nil {
		return err
	}
	if model.IsTerminalBatchStatus(batch.Status) {
		return fmt.Errorf("%w: batch %s is already %s", apperrors.ErrInvalidState, batch.ID, batch.Status)
	}

	if err := s.provider.StopBatch(ctx, batch.ProviderBatchID); err != nil {
		// Best effort: local cleanup still proceeds.
		log.Warn("Provider stop request failed",
			zap.String("provider_batch_id", batch.ProviderBatchID),
			zap.Error(err))
	}

	failed, err := s.contacts.MarkInFlightFailed(ctx, batch.CampaignID)
	if err != nil {
		return err
	}

	batch.Status = model.BatchStatusCancelled
	batch.NextPollAt = nil
	if err := s.batches.Update(ctx, batch); err != nil {
		return err
	}
	if err := s.settle.SettleBatch(ctx, batch); err != nil {
		return err
	}

	log.Info("Batch stopped",
		zap.String("batch_call_id", batch.ID),
		zap.Int64("contacts_failed", failed))
	return nil
}

// ResyncBatch is the manual safety valve for the dispatch dual-write: it puts
// the batch back into the polling rotation immediately, regardless of how many
// attempts the automatic chain already used.
func (s *DispatchService) ResyncBatch(ctx context.Context, campaignID, batchCallID string) error {
	batch, err := s.findCampaignBatch(ctx, campaignID, batchCallID)
	if err != nil {
		return err
	}
	if batch.CreditsSettled && model.IsTerminalBatchStatus(batch.Status) {
		return fmt.Errorf("%w: batch %s is settled and %s", apperrors.ErrInvalidState, batch.ID, batch.Status)
	}

	now := utils.Now()
	if err := s.batches.SchedulePoll(ctx, batch.ID, 0, &now, ""); err != nil {
		return err
	}

	logger.FromContext(ctx).Info("Batch re-sync scheduled",
		zap.String("batch_call_id", batch.ID),
		zap.String("provider_batch_id", batch.ProviderBatchID))
	return nil
}

func (s *DispatchService) findCampaignBatch(ctx context.Context, campaignID, batchCallID string) (*model.BatchCall, error) {
	if campaignID == "" || batchCallID == "" {
		return nil, fmt.Errorf("%w: campaign id and batch call id are required", apperrors.ErrValidation)
	}
	batch, err := s.batches.FindByID(ctx, batchCallID)
	if err != nil {
		return nil, err
	}
	if batch.CampaignID != campaignID {
		return nil, fmt.Errorf("%w: batch %s does not belong to campaign %s",
			apperrors.ErrNotFound, batchCallID, campaignID)
	}
	return batch, nil
}
