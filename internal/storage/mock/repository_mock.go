package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
)

// --- CallRepo Mock ---

// CallRepoMock mocks the CallRepo interface
type CallRepoMock struct {
	mock.Mock
}

func (m *CallRepoMock) CreateBatch(ctx context.Context, calls []*model.Call) error {
	args := m.Called(ctx, calls)
	return args.Error(0)
}

func (m *CallRepoMock) Create(ctx context.Context, call *model.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *CallRepoMock) FindByID(ctx context.Context, id string) (*model.Call, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *CallRepoMock) FindByProviderCallID(ctx context.Context, providerCallID string) (*model.Call, error) {
	args := m.Called(ctx, providerCallID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *CallRepoMock) FindByBatchAndToNumber(ctx context.Context, batchCallID, toNumber string) (*model.Call, error) {
	args := m.Called(ctx, batchCallID, toNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *CallRepoMock) FindRecentByParties(ctx context.Context, fromNumber, toNumber, agentID string, since time.Time) (*model.Call, error) {
	args := m.Called(ctx, fromNumber, toNumber, agentID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *CallRepoMock) ListByBatch(ctx context.Context, batchCallID string) ([]model.Call, error) {
	args := m.Called(ctx, batchCallID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Call), args.Error(1)
}

// UpdateWithLock runs fn against the call registered via On("UpdateWithLock", ...)
// so tests exercise the real transition logic.
func (m *CallRepoMock) UpdateWithLock(ctx context.Context, id string, fn func(call *model.Call) (bool, error)) (*model.Call, error) {
	args := m.Called(ctx, id, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	call := args.Get(0).(*model.Call)
	if fn != nil {
		if _, err := fn(call); err != nil {
			return nil, err
		}
	}
	return call, args.Error(1)
}

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

func (m *ContactRepoMock) FindPendingByCampaign(ctx context.Context, campaignID string, limit int) ([]model.CampaignContact, error) {
	args := m.Called(ctx, campaignID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CampaignContact), args.Error(1)
}

func (m *ContactRepoMock) MarkDispatched(ctx context.Context, contactIDs []string) error {
	args := m.Called(ctx, contactIDs)
	return args.Error(0)
}

func (m *ContactRepoMock) UpdateOutcome(ctx context.Context, campaignID, phoneNumber, callStatus string) error {
	args := m.Called(ctx, campaignID, phoneNumber, callStatus)
	return args.Error(0)
}

func (m *ContactRepoMock) MarkInFlightFailed(ctx context.Context, campaignID string) (int64, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(int64), args.Error(1)
}

// --- BatchCallRepo Mock ---

// BatchCallRepoMock mocks the BatchCallRepo interface
type BatchCallRepoMock struct {
	mock.Mock
}

func (m *BatchCallRepoMock) Create(ctx context.Context, batch *model.BatchCall) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *BatchCallRepoMock) Update(ctx context.Context, batch *model.BatchCall) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *BatchCallRepoMock) FindByID(ctx context.Context, id string) (*model.BatchCall, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchCall), args.Error(1)
}

func (m *BatchCallRepoMock) FindByProviderBatchID(ctx context.Context, providerBatchID string) (*model.BatchCall, error) {
	args := m.Called(ctx, providerBatchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchCall), args.Error(1)
}

func (m *BatchCallRepoMock) ClaimDuePolls(ctx context.Context, now time.Time, holdFor time.Duration, limit int) ([]model.BatchCall, error) {
	args := m.Called(ctx, now, holdFor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BatchCall), args.Error(1)
}

func (m *BatchCallRepoMock) MarkCreditsSettled(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *BatchCallRepoMock) SchedulePoll(ctx context.Context, id string, attempts int, nextPollAt *time.Time, lastErr string) error {
	args := m.Called(ctx, id, attempts, nextPollAt, lastErr)
	return args.Error(0)
}

// --- WebhookEventRepo Mock ---

// WebhookEventRepoMock mocks the WebhookEventRepo interface
type WebhookEventRepoMock struct {
	mock.Mock
}

func (m *WebhookEventRepoMock) Insert(ctx context.Context, event *model.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *WebhookEventRepoMock) MarkProcessed(ctx context.Context, id string, callID, batchCallID *string) error {
	args := m.Called(ctx, id, callID, batchCallID)
	return args.Error(0)
}

func (m *WebhookEventRepoMock) RecordFailure(ctx context.Context, id string, attemptErr error) error {
	args := m.Called(ctx, id, attemptErr)
	return args.Error(0)
}

func (m *WebhookEventRepoMock) FindUnprocessed(ctx context.Context, maxAttempts, limit int) ([]model.WebhookEvent, error) {
	args := m.Called(ctx, maxAttempts, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.WebhookEvent), args.Error(1)
}

// --- ClientRepo Mock ---

// ClientRepoMock mocks the ClientRepo interface
type ClientRepoMock struct {
	mock.Mock
}

func (m *ClientRepoMock) FindByID(ctx context.Context, id string) (*model.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Client), args.Error(1)
}

func (m *ClientRepoMock) ReserveCredits(ctx context.Context, clientID string, minutes int64) error {
	args := m.Called(ctx, clientID, minutes)
	return args.Error(0)
}

func (m *ClientRepoMock) ConsumeCredits(ctx context.Context, clientID string, reserved, consumed int64) error {
	args := m.Called(ctx, clientID, reserved, consumed)
	return args.Error(0)
}

func (m *ClientRepoMock) RefundCredits(ctx context.Context, clientID string, minutes int64) error {
	args := m.Called(ctx, clientID, minutes)
	return args.Error(0)
}

// --- CampaignRepo Mock ---

// CampaignRepoMock mocks the CampaignRepo interface
type CampaignRepoMock struct {
	mock.Mock
}

func (m *CampaignRepoMock) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

func (m *CampaignRepoMock) UpdateStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// --- AgentRepo Mock ---

// AgentRepoMock mocks the AgentRepo interface
type AgentRepoMock struct {
	mock.Mock
}

func (m *AgentRepoMock) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Agent), args.Error(1)
}
