package usecase

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	storagemock "gitlab.com/voxline/api/voxline-call-engine/internal/storage/mock"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
)

type settlementFixture struct {
	svc     *SettlementService
	batches *storagemock.BatchCallRepoMock
	calls   *storagemock.CallRepoMock
	clients *storagemock.ClientRepoMock
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	logger.Log = zaptest.NewLogger(t)
	f := &settlementFixture{
		batches: new(storagemock.BatchCallRepoMock),
		calls:   new(storagemock.CallRepoMock),
		clients: new(storagemock.ClientRepoMock),
	}
	f.svc = NewSettlementService(f.batches, f.calls, f.clients)
	return f
}

func settleBatchRow() *model.BatchCall {
	return &model.BatchCall{
		ID: "batch-1", ProviderBatchID: "pb-1", CampaignID: "camp-1",
		ClientID: "client-1", Status: model.BatchStatusCancelled,
		ReservedMinutes: 10,
	}
}

func TestConsumedMinutesRoundsUpPerCall(t *testing.T) {
	calls := []model.Call{
		{Status: model.CallStatusCompleted, DurationMs: 61000}, // 2 min
		{Status: model.CallStatusCompleted, DurationMs: 60000}, // 1 min
		{Status: model.CallStatusCompleted, DurationMs: 1},     // 1 min
		{Status: model.CallStatusFailed, DurationMs: 0},        // 0 min
	}
	assert.Equal(t, int64(4), consumedMinutes(calls))
	assert.Equal(t, int64(0), consumedMinutes(nil))
}

func TestSettleBatchConsumesActualUsage(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()

	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{
		{Status: model.CallStatusCompleted, DurationMs: 61000},
		{Status: model.CallStatusFailed, DurationMs: 30000},
	}, nil)
	f.clients.On("ConsumeCredits", mock.Anything, "client-1", int64(10), int64(3)).Return(nil)

	err := f.svc.SettleBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.True(t, batch.CreditsSettled)
	f.clients.AssertExpectations(t)
	f.clients.AssertNotCalled(t, "RefundCredits", mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleBatchRefundsWhenNothingConsumed(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()

	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{
		{Status: model.CallStatusNoAnswer, DurationMs: 0},
	}, nil)
	f.clients.On("RefundCredits", mock.Anything, "client-1", int64(10)).Return(nil)

	err := f.svc.SettleBatch(context.Background(), batch)

	require.NoError(t, err)
	f.clients.AssertExpectations(t)
	f.clients.AssertNotCalled(t, "ConsumeCredits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleBatchCapsConsumptionAtReservation(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()

	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{
		{Status: model.CallStatusCompleted, DurationMs: 20 * 60 * 1000},
	}, nil)
	f.clients.On("ConsumeCredits", mock.Anything, "client-1", int64(10), int64(10)).Return(nil)

	err := f.svc.SettleBatch(context.Background(), batch)

	require.NoError(t, err)
	f.clients.AssertExpectations(t)
}

func TestSettleBatchLoserNeverTouchesLedger(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()

	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(false, nil)

	err := f.svc.SettleBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.True(t, batch.CreditsSettled)
	f.clients.AssertNotCalled(t, "ConsumeCredits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.clients.AssertNotCalled(t, "RefundCredits", mock.Anything, mock.Anything, mock.Anything)
}

func TestSettleBatchAlreadySettledIsNoop(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()
	batch.CreditsSettled = true

	err := f.svc.SettleBatch(context.Background(), batch)

	require.NoError(t, err)
	f.batches.AssertNotCalled(t, "MarkCreditsSettled", mock.Anything, mock.Anything)
}

func TestSettleBatchNothingReserved(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()
	batch.ReservedMinutes = 0

	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)

	err := f.svc.SettleBatch(context.Background(), batch)

	require.NoError(t, err)
	f.calls.AssertNotCalled(t, "ListByBatch", mock.Anything, mock.Anything)
}

func TestFinalizeBatchIfCompleteWritesSummaryAndSettles(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()
	batch.Status = model.BatchStatusProcessing

	f.batches.On("FindByID", mock.Anything, "batch-1").Return(batch, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{
		{Status: model.CallStatusCompleted, DurationMs: 61000, ClientCost: decimal.RequireFromString("0.108")},
		{Status: model.CallStatusFailed, DurationMs: 30000, ClientCost: decimal.RequireFromString("0.060")},
	}, nil)
	f.batches.On("Update", mock.Anything, mock.MatchedBy(func(b *model.BatchCall) bool {
		return b.Status == model.BatchStatusCompleted &&
			b.SuccessfulCalls == 1 && b.FailedCalls == 1 &&
			b.TotalDurationMs == 91000 &&
			b.TotalCost.Equal(decimal.RequireFromString("0.168")) &&
			b.Reconciled && b.NextPollAt == nil
	})).Return(nil)
	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)
	f.clients.On("ConsumeCredits", mock.Anything, "client-1", int64(10), int64(3)).Return(nil)

	done, err := f.svc.FinalizeBatchIfComplete(context.Background(), "batch-1")

	require.NoError(t, err)
	assert.True(t, done)
	f.batches.AssertExpectations(t)
	f.clients.AssertExpectations(t)
}

func TestFinalizeBatchIfCompleteWaitsForOpenCalls(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()
	batch.Status = model.BatchStatusProcessing

	f.batches.On("FindByID", mock.Anything, "batch-1").Return(batch, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{
		{Status: model.CallStatusCompleted, DurationMs: 61000},
		{Status: model.CallStatusInProgress},
	}, nil)

	done, err := f.svc.FinalizeBatchIfComplete(context.Background(), "batch-1")

	require.NoError(t, err)
	assert.False(t, done)
	f.batches.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	f.batches.AssertNotCalled(t, "MarkCreditsSettled", mock.Anything, mock.Anything)
}

func TestFinalizeBatchIfCompleteTerminalUnsettledSettles(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow() // cancelled, unsettled

	f.batches.On("FindByID", mock.Anything, "batch-1").Return(batch, nil)
	f.batches.On("MarkCreditsSettled", mock.Anything, "batch-1").Return(true, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{}, nil)
	f.clients.On("RefundCredits", mock.Anything, "client-1", int64(10)).Return(nil)

	done, err := f.svc.FinalizeBatchIfComplete(context.Background(), "batch-1")

	require.NoError(t, err)
	assert.False(t, done)
	f.clients.AssertExpectations(t)
}

func TestFinalizeBatchIfCompleteEmptyBatch(t *testing.T) {
	f := newSettlementFixture(t)
	batch := settleBatchRow()
	batch.Status = model.BatchStatusProcessing

	f.batches.On("FindByID", mock.Anything, "batch-1").Return(batch, nil)
	f.calls.On("ListByBatch", mock.Anything, "batch-1").Return([]model.Call{}, nil)

	done, err := f.svc.FinalizeBatchIfComplete(context.Background(), "batch-1")

	require.NoError(t, err)
	assert.False(t, done)
	f.batches.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}
