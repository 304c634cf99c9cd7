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

type webhookFixture struct {
	svc      *WebhookService
	events   *storagemock.WebhookEventRepoMock
	calls    *storagemock.CallRepoMock
	batches  *storagemock.BatchCallRepoMock
	contacts *storagemock.ContactRepoMock
	clients  *storagemock.ClientRepoMock
	provider *providermock.ClientMock
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)

	f := &webhookFixture{
		events:   new(storagemock.WebhookEventRepoMock),
		calls:    new(storagemock.CallRepoMock),
		batches:  new(storagemock.BatchCallRepoMock),
		contacts: new(storagemock.ContactRepoMock),
		clients:  new(storagemock.ClientRepoMock),
		provider: new(providermock.ClientMock),
	}
	settle := NewSettlementService(f.batches, f.calls, f.clients)
	sync := NewCallSyncService(f.calls, f.contacts, settle, decimal.RequireFromString("1.20"))
	f.svc = NewWebhookService(
		f.events, f.calls, f.batches, f.provider, sync,
		config.DispatchConfig{StartedMatchWindow: 5 * time.Minute},
		model.CallStatusCompleted,
	)
	return f
}

func trackedCall(status string) *model.Call {
	batchID := "batch-1"
	providerCallID := "pc-1"
	return &model.Call{
		ID: "call-1", ProviderCallID: &providerCallID, BatchCallID: &batchID,
		CampaignID: "camp-1", ClientID: "client-1",
		FromNumber: "+15550100", ToNumber: "+15550001",
		Status: status,
	}
}

func TestIngestMalformedPayloadRejected(t *testing.T) {
	f := newWebhookFixture(t)

	err := f.svc.Ingest(context.Background(), []byte(`{"event_type": `))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	err = f.svc.Ingest(context.Background(), []byte(`{"call_id":"pc-1"}`))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	f.events.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestIngestCallStartedMovesCallInProgress(t *testing.T) {
	f := newWebhookFixture(t)
	call := trackedCall(model.CallStatusInitiated)
	call.ProviderCallID = nil

	f.events.On("Insert", mock.Anything, mock.MatchedBy(func(e *model.WebhookEvent) bool {
		return e.EventType == model.EventTypeCallStarted && e.ProviderCallID == "pc-1"
	})).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-1").Return(call, nil)
	f.calls.On("UpdateWithLock", mock.Anything, "call-1", mock.Anything).Return(call, nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything,
		mock.MatchedBy(func(callID *string) bool { return callID != nil && *callID == "call-1" }),
		mock.MatchedBy(func(batchID *string) bool { return batchID != nil && *batchID == "batch-1" }),
	).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_started","call_id":"pc-1","started_at":"2026-08-29T10:00:00Z"}`))

	require.NoError(t, err)
	assert.Equal(t, model.CallStatusInProgress, call.Status)
	require.NotNil(t, call.ProviderCallID)
	assert.Equal(t, "pc-1", *call.ProviderCallID)
	require.NotNil(t, call.StartedAt)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), call.StartedAt.UTC())
	f.events.AssertExpectations(t)
}

func TestIngestCallEndedAppliesTerminalStateAndMarkup(t *testing.T) {
	f := newWebhookFixture(t)
	call := trackedCall(model.CallStatusInProgress)
	started := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	ended := started.Add(61 * time.Second)

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-1").Return(call, nil)
	f.provider.On("GetCallDetails", mock.Anything, "pc-1").Return(&provider.CallDetail{
		Call: provider.Call{
			CallID: "pc-1", Status: "call_failed",
			StartedAt: &started, EndedAt: &ended, DurationMs: 61000,
			Price: decimal.RequireFromString("0.09"), Disconnect: "callee_hangup",
		},
		Transcript: "hello?",
	}, nil)
	f.calls.On("UpdateWithLock", mock.Anything, "call-1", mock.Anything).Return(call, nil)
	f.contacts.On("UpdateOutcome", mock.Anything, "camp-1", "+15550001", model.ContactStatusFailed).Return(nil)

	// The last terminal call finalizes and settles the batch.
	batch := &model.BatchCall{
		ID: "batch-1", CampaignID: "camp-1", ClientID: "client-1",
		Status: model.BatchStatusProcessing, ReservedMinutes: 5,
	}
	f.batches.On("FindByID", mock.Anything, "batch-1").Return(batch, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{
		{ID: "call-1", Status: model.CallStatusFailed, DurationMs: 61000,
			ClientCost: decimal.RequireFromString("0.108")},
	}, nil)
	f.batches.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)
	f.clients.On("ConsumeCredits", mock.Anything, "client-1", int64(5), int64(2)).Return(nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_ended","call_id":"pc-1"}`))

	require.NoError(t, err)
	assert.Equal(t, model.CallStatusFailed, call.Status)
	assert.Equal(t, int64(61000), call.DurationMs)
	assert.Equal(t, int64(61), call.DurationSeconds)
	assert.True(t, call.ProviderCost.Equal(decimal.RequireFromString("0.09")))
	assert.True(t, call.ClientCost.Equal(decimal.RequireFromString("0.108")),
		"client cost %s", call.ClientCost)
	assert.Equal(t, "callee_hangup", call.DisconnectReason)
	f.contacts.AssertExpectations(t)
	f.clients.AssertExpectations(t)
}

func TestIngestCallEndedDuplicateIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)
	call := trackedCall(model.CallStatusFailed)
	call.DurationMs = 61000
	call.ProviderCost = decimal.RequireFromString("0.09")
	call.ClientCost = decimal.RequireFromString("0.108")
	ended := time.Now().Add(-time.Minute)
	call.EndedAt = &ended

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-1").Return(call, nil)
	f.provider.On("GetCallDetails", mock.Anything, "pc-1").Return(&provider.CallDetail{
		Call: provider.Call{
			CallID: "pc-1", Status: "call_failed", DurationMs: 61000,
			Price: decimal.RequireFromString("0.09"),
		},
	}, nil)
	f.calls.On("UpdateWithLock", mock.Anything, "call-1", mock.Anything).Return(call, nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_ended","call_id":"pc-1"}`))

	require.NoError(t, err)
	assert.Equal(t, model.CallStatusFailed, call.Status)
	assert.True(t, call.ClientCost.Equal(decimal.RequireFromString("0.108")))
	// An already-terminal call must not re-trigger contact or ledger writes.
	f.contacts.AssertNotCalled(t, "UpdateOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.clients.AssertNotCalled(t, "ConsumeCredits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestStaleCallStartedAfterEndedIsNoop(t *testing.T) {
	f := newWebhookFixture(t)
	call := trackedCall(model.CallStatusCompleted)

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-1").Return(call, nil)
	f.calls.On("UpdateWithLock", mock.Anything, "call-1", mock.Anything).Return(call, nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_started","call_id":"pc-1"}`))

	require.NoError(t, err)
	assert.Equal(t, model.CallStatusCompleted, call.Status)
	f.events.AssertExpectations(t)
}

func TestIngestCallStartedFallsBackToPartyMatch(t *testing.T) {
	f := newWebhookFixture(t)
	call := trackedCall(model.CallStatusInitiated)
	call.ProviderCallID = nil

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-new").Return(nil, apperrors.ErrNotFound)
	f.calls.On("FindRecentByParties", mock.Anything, "+15550100", "+15550001", "prov-agent-1", mock.Anything).Return(call, nil)
	f.calls.On("UpdateWithLock", mock.Anything, "call-1", mock.Anything).Return(call, nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_started","call_id":"pc-new","from_number":"+15550100","to_number":"+15550001","agent_id":"prov-agent-1"}`))

	require.NoError(t, err)
	require.NotNil(t, call.ProviderCallID)
	assert.Equal(t, "pc-new", *call.ProviderCallID)
	assert.Equal(t, model.CallStatusInProgress, call.Status)
	f.calls.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngestCallStartedCreatesImplicitCall(t *testing.T) {
	f := newWebhookFixture(t)

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-9").Return(nil, apperrors.ErrNotFound)
	f.calls.On("FindRecentByParties", mock.Anything, "+15550100", "+15559999", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrNotFound)
	f.batches.On("FindByProviderBatchID", mock.Anything, "pb-1").Return(&model.BatchCall{
		ID: "batch-1", CampaignID: "camp-1", ClientID: "client-1",
	}, nil)

	var created *model.Call
	f.calls.On("Create", mock.Anything, mock.MatchedBy(func(c *model.Call) bool {
		created = c
		return c.Status == model.CallStatusInProgress &&
			c.ProviderCallID != nil && *c.ProviderCallID == "pc-9"
	})).Return(nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_started","call_id":"pc-9","batch_id":"pb-1","from_number":"+15550100","to_number":"+15559999"}`))

	require.NoError(t, err)
	require.NotNil(t, created)
	require.NotNil(t, created.BatchCallID)
	assert.Equal(t, "batch-1", *created.BatchCallID)
	assert.Equal(t, "camp-1", created.CampaignID)
	assert.Equal(t, "client-1", created.ClientID)
}

func TestIngestCallAnalyzedMergesTranscriptOnly(t *testing.T) {
	f := newWebhookFixture(t)
	call := trackedCall(model.CallStatusCompleted)

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-1").Return(call, nil)
	f.calls.On("UpdateWithLock", mock.Anything, "call-1", mock.Anything).Return(call, nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_analyzed","call_id":"pc-1","transcript":"hi","analysis":{"sentiment":"neutral"}}`))

	require.NoError(t, err)
	assert.Equal(t, "hi", call.Transcript)
	assert.JSONEq(t, `{"sentiment":"neutral"}`, string(call.Analysis))
	// Analysis data lands even on a terminal call; status stays untouched.
	assert.Equal(t, model.CallStatusCompleted, call.Status)
}

func TestIngestUnknownEventTypeAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.events.On("MarkProcessed", mock.Anything, mock.Anything, (*string)(nil), (*string)(nil)).Return(nil)

	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_transferred","call_id":"pc-1"}`))

	require.NoError(t, err)
	f.events.AssertExpectations(t)
	f.calls.AssertNotCalled(t, "FindByProviderCallID", mock.Anything, mock.Anything)
}

func TestIngestProcessingFailureKeepsEventForRetry(t *testing.T) {
	f := newWebhookFixture(t)

	f.events.On("Insert", mock.Anything, mock.Anything).Return(nil)
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-1").Return(nil, apperrors.ErrDatabase)
	f.events.On("RecordFailure", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// Processing failed, but the provider still gets its acknowledgement.
	err := f.svc.Ingest(context.Background(),
		[]byte(`{"event_type":"call_ended","call_id":"pc-1"}`))

	require.NoError(t, err)
	f.events.AssertExpectations(t)
	f.events.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessReplaysStoredEvent(t *testing.T) {
	f := newWebhookFixture(t)
	call := trackedCall(model.CallStatusInitiated)
	call.ProviderCallID = nil

	event := &model.WebhookEvent{
		ID:           "evt-1",
		EventType:    model.EventTypeCallStarted,
		Payload:      datatypes.JSON(`{"event_type":"call_started","call_id":"pc-1"}`),
		AttemptCount: 2,
	}
	f.calls.On("FindByProviderCallID", mock.Anything, "pc-1").Return(call, nil)
	f.calls.On("UpdateWithLock", mock.Anything, "call-1", mock.Anything).Return(call, nil)
	f.events.On("MarkProcessed", mock.Anything, "evt-1", mock.Anything, mock.Anything).Return(nil)

	f.svc.Process(context.Background(), event)

	assert.True(t, event.Processed)
	assert.Equal(t, model.CallStatusInProgress, call.Status)
}
