package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/config"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
	providermock "gitlab.com/voxline/api/voxline-call-engine/internal/provider/mock"
	storagemock "gitlab.com/voxline/api/voxline-call-engine/internal/storage/mock"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
)

type dispatchFixture struct {
	svc       *DispatchService
	campaigns *storagemock.CampaignRepoMock
	agents    *storagemock.AgentRepoMock
	clients   *storagemock.ClientRepoMock
	contacts  *storagemock.ContactRepoMock
	batches   *storagemock.BatchCallRepoMock
	calls     *storagemock.CallRepoMock
	provider  *providermock.ClientMock
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	f := &dispatchFixture{
		campaigns: new(storagemock.CampaignRepoMock),
		agents:    new(storagemock.AgentRepoMock),
		clients:   new(storagemock.ClientRepoMock),
		contacts:  new(storagemock.ContactRepoMock),
		batches:   new(storagemock.BatchCallRepoMock),
		calls:     new(storagemock.CallRepoMock),
		provider:  new(providermock.ClientMock),
	}
	settle := NewSettlementService(f.batches, f.calls, f.clients)
	f.svc = NewDispatchService(
		f.campaigns, f.agents, f.clients, f.contacts, f.batches, f.calls,
		f.provider, settle,
		config.DispatchConfig{ConcurrencyCap: 200, MinutesPerCall: 5},
		15*time.Second,
	)
	return f
}

func publishedCampaign() *model.Campaign {
	return &model.Campaign{
		ID:         "camp-1",
		ClientID:   "client-1",
		Name:       "Q3 renewals",
		Status:     model.CampaignStatusPublished,
		AgentID:    "agent-1",
		FromNumber: "+15550100",
	}
}

func ownedAgent() *model.Agent {
	return &model.Agent{
		ID:              "agent-1",
		ClientID:        "client-1",
		Name:            "Renewal bot",
		ProviderAgentID: "prov-agent-1",
	}
}

func pendingContacts() []model.CampaignContact {
	return []model.CampaignContact{
		{
			ID: "contact-1", CampaignID: "camp-1", PhoneNumber: "+15550001",
			Active: true, CallStatus: model.ContactStatusPending,
			DynamicVars: datatypes.JSON(`[{"key":"first_name","value":"Ada"}]`),
		},
		{
			ID: "contact-2", CampaignID: "camp-1", PhoneNumber: "+15550002",
			Active: true, CallStatus: model.ContactStatusPending,
			AttemptCount: 2,
		},
	}
}

func TestStartBatchSuccess(t *testing.T) {
	f := newDispatchFixture(t)

	f.campaigns.On("FindByID", mock.Anything, "camp-1").Return(publishedCampaign(), nil)
	f.agents.On("FindByID", mock.Anything, "agent-1").Return(ownedAgent(), nil)
	f.contacts.On("FindPendingByCampaign", mock.Anything, "camp-1", 200).
		Return(pendingContacts(), nil)
	f.clients.On("ReserveCredits", mock.Anything, "client-1", int64(10)).Return(nil)

	f.provider.On("CreateBatch", mock.Anything, mock.MatchedBy(func(req provider.CreateBatchRequest) bool {
		return req.FromNumber == "+15550100" &&
			req.AgentID == "prov-agent-1" &&
			req.Label == "Q3 renewals" &&
			req.ConcurrencyCap == 200 &&
			len(req.Tasks) == 2 &&
			req.Tasks[0].Variables["first_name"] == "Ada" &&
			req.Tasks[1].Variables == nil
	})).Return(&provider.CreateBatchResponse{BatchID: "pb-1", TotalTaskCount: 2, Status: "processing"}, nil)

	var createdBatch *model.BatchCall
	f.batches.On("Create", mock.Anything, mock.MatchedBy(func(b *model.BatchCall) bool {
		createdBatch = b
		return b.ProviderBatchID == "pb-1" &&
			b.Status == model.BatchStatusProcessing &&
			b.EstimatedMinutes == 10 && b.ReservedMinutes == 10 &&
			b.NextPollAt != nil
	})).Return(nil)

	f.calls.On("CreateBatch", mock.Anything, mock.MatchedBy(func(calls []*model.Call) bool {
		if len(calls) != 2 {
			return false
		}
		c := calls[1]
		return calls[0].Status == model.CallStatusInitiated &&
			calls[0].AttemptNumber == 1 &&
			c.ToNumber == "+15550002" && c.AttemptNumber == 3 &&
			c.Direction == model.CallDirectionOutbound &&
			c.BatchCallID != nil
	})).Return(nil)
	f.contacts.On("MarkDispatched", mock.Anything, []string{"contact-1", "contact-2"}).Return(nil)

	result, err := f.svc.StartBatch(context.Background(), "camp-1")

	require.NoError(t, err)
	assert.Equal(t, createdBatch.ID, result.BatchCallID)
	assert.Equal(t, 2, result.TotalTaskCount)
	assert.WithinDuration(t, time.Now().Add(15*time.Second), *createdBatch.NextPollAt, 2*time.Second)
	f.provider.AssertExpectations(t)
	f.batches.AssertExpectations(t)
	f.calls.AssertExpectations(t)
	f.contacts.AssertExpectations(t)
}

func TestStartBatchCampaignNotPublished(t *testing.T) {
	f := newDispatchFixture(t)
	campaign := publishedCampaign()
	campaign.Status = model.CampaignStatusDraft
	f.campaigns.On("FindByID", mock.Anything, "camp-1").Return(campaign, nil)

	_, err := f.svc.StartBatch(context.Background(), "camp-1")

	assert.ErrorIs(t, err, apperrors.ErrNotEligible)
	f.clients.AssertNotCalled(t, "ReserveCredits", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartBatchAgentNotOwnedByClient(t *testing.T) {
	f := newDispatchFixture(t)
	agent := ownedAgent()
	agent.ClientID = "client-other"
	f.campaigns.On("FindByID", mock.Anything, "camp-1").Return(publishedCampaign(), nil)
	f.agents.On("FindByID", mock.Anything, "agent-1").Return(agent, nil)

	_, err := f.svc.StartBatch(context.Background(), "camp-1")

	assert.ErrorIs(t, err, apperrors.ErrNotEligible)
}

func TestStartBatchNoPendingContacts(t *testing.T) {
	f := newDispatchFixture(t)
	f.campaigns.On("FindByID", mock.Anything, "camp-1").Return(publishedCampaign(), nil)
	f.agents.On("FindByID", mock.Anything, "agent-1").Return(ownedAgent(), nil)
	f.contacts.On("FindPendingByCampaign", mock.Anything, "camp-1", 200).
		Return([]model.CampaignContact{}, nil)

	_, err := f.svc.StartBatch(context.Background(), "camp-1")

	assert.ErrorIs(t, err, apperrors.ErrNoContacts)
	f.clients.AssertNotCalled(t, "ReserveCredits", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartBatchInsufficientCredits(t *testing.T) {
	f := newDispatchFixture(t)
	f.campaigns.On("FindByID", mock.Anything, "camp-1").Return(publishedCampaign(), nil)
	f.agents.On("FindByID", mock.Anything, "agent-1").Return(ownedAgent(), nil)
	f.contacts.On("FindPendingByCampaign", mock.Anything, "camp-1", 200).
		Return(pendingContacts(), nil)
	f.clients.On("ReserveCredits", mock.Anything, "client-1", int64(10)).
		Return(apperrors.ErrInsufficientCredits)

	_, err := f.svc.StartBatch(context.Background(), "camp-1")

	assert.ErrorIs(t, err, apperrors.ErrInsufficientCredits)
	f.provider.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	f.calls.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	f.contacts.AssertNotCalled(t, "MarkDispatched", mock.Anything, mock.Anything)
}

func TestStartBatchProviderFailureRefundsReservation(t *testing.T) {
	f := newDispatchFixture(t)
	f.campaigns.On("FindByID", mock.Anything, "camp-1").Return(publishedCampaign(), nil)
	f.agents.On("FindByID", mock.Anything, "agent-1").Return(ownedAgent(), nil)
	f.contacts.On("FindPendingByCampaign", mock.Anything, "camp-1", 200).
		Return(pendingContacts(), nil)
	f.clients.On("ReserveCredits", mock.Anything, "client-1", int64(10)).Return(nil)
	f.provider.On("CreateBatch", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewProvider(500, "internal provider error"))
	f.clients.On("RefundCredits", mock.Anything, "client-1", int64(10)).Return(nil)

	_, err := f.svc.StartBatch(context.Background(), "camp-1")

	assert.ErrorIs(t, err, apperrors.ErrProvider)
	f.clients.AssertExpectations(t)
	f.batches.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.calls.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestBatchStatus(t *testing.T) {
	f := newDispatchFixture(t)
	f.batches.On("FindByID", mock.Anything, "batch-1").Return(&model.BatchCall{
		ID: "batch-1", CampaignID: "camp-1", Status: model.BatchStatusCompleted,
		TaskCount: 2, SuccessfulCalls: 1, FailedCalls: 1,
		TotalDurationMs: 91000, TotalCost: decimal.RequireFromString("0.216"),
		ReservedMinutes: 10, CreditsSettled: true, PollAttempts: 1,
	}, nil)

	result, err := f.svc.BatchStatus(context.Background(), "camp-1", "batch-1")

	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, result.Status)
	assert.Equal(t, 1, result.SuccessfulCalls)
	assert.Equal(t, 1, result.FailedCalls)
	assert.Equal(t, "0.216", result.TotalCost)
	assert.True(t, result.CreditsSettled)
}

func TestBatchStatusWrongCampaign(t *testing.T) {
	f := newDispatchFixture(t)
	f.batches.On("FindByID", mock.Anything, "batch-1").
		Return(&model.BatchCall{ID: "batch-1", CampaignID: "camp-other"}, nil)

	_, err := f.svc.BatchStatus(context.Background(), "camp-1", "batch-1")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStopBatchCancelsAndSettles(t *testing.T) {
	f := newDispatchFixture(t)
	batch := &model.BatchCall{
		ID: "batch-1", ProviderBatchID: "pb-1", CampaignID: "camp-1",
		ClientID: "client-1", Status: model.BatchStatusProcessing,
		ReservedMinutes: 10,
	}
	f.batches.On("FindByID", mock.Anything, "batch-1").Return(batch, nil)
	// A failed provider stop must not block local cleanup.
	f.provider.On("StopBatch", mock.Anything, "pb-1").
		Return(apperrors.NewProvider(502, "provider unavailable"))
	f.contacts.On("MarkInFlightFailed", mock.Anything, "camp-1").Return(int64(3), nil)
	f.batches.On("Update", mock.Anything, mock.MatchedBy(func(b *model.BatchCall) bool {
		return b.Status == model.BatchStatusCancelled && b.NextPollAt == nil
	})).Return(nil)
	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{}, nil)
	f.clients.On("RefundCredits", mock.Anything, "client-1", int64(10)).Return(nil)

	err := f.svc.StopBatch(context.Background(), "camp-1", "batch-1")

	require.NoError(t, err)
	f.batches.AssertExpectations(t)
	f.clients.AssertExpectations(t)
}

func TestStopBatchAlreadyTerminal(t *testing.T) {
	f := newDispatchFixture(t)
	f.batches.On("FindByID", mock.Anything, "batch-1").Return(&model.BatchCall{
		ID: "batch-1", CampaignID: "camp-1", Status: model.BatchStatusCompleted,
	}, nil)

	err := f.svc.StopBatch(context.Background(), "camp-1", "batch-1")

	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	f.provider.AssertNotCalled(t, "StopBatch", mock.Anything, mock.Anything)
}

func TestResyncBatchReschedulesImmediately(t *testing.T) {
	f := newDispatchFixture(t)
	f.batches.On("FindByID", mock.Anything, "batch-1").Return(&model.BatchCall{
		ID: "batch-1", CampaignID: "camp-1", Status: model.BatchStatusProcessing,
		PollAttempts: 5,
	}, nil)
	f.batches.On("SchedulePoll", mock.Anything, "batch-1", 0,
		mock.MatchedBy(func(next *time.Time) bool {
			return next != nil && time.Since(*next) < 2*time.Second
		}), "").Return(nil)

	err := f.svc.ResyncBatch(context.Background(), "camp-1", "batch-1")

	require.NoError(t, err)
	f.batches.AssertExpectations(t)
}

func TestResyncBatchSettledTerminalRefused(t *testing.T) {
	f := newDispatchFixture(t)
	f.batches.On("FindByID", mock.Anything, "batch-1").Return(&model.BatchCall{
		ID: "batch-1", CampaignID: "camp-1", Status: model.BatchStatusCompleted,
		CreditsSettled: true,
	}, nil)

	err := f.svc.ResyncBatch(context.Background(), "camp-1", "batch-1")

	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	f.batches.AssertNotCalled(t, "SchedulePoll", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartBatchValidation(t *testing.T) {
	f := newDispatchFixture(t)
	_, err := f.svc.StartBatch(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
