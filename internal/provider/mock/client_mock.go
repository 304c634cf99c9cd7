package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
)

// ClientMock mocks the provider.Client interface
type ClientMock struct {
	mock.Mock
}

func (m *ClientMock) CreateBatch(ctx context.Context, req provider.CreateBatchRequest) (*provider.CreateBatchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.CreateBatchResponse), args.Error(1)
}

func (m *ClientMock) ListCallsByBatch(ctx context.Context, batchID string) ([]provider.Call, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.Call), args.Error(1)
}

func (m *ClientMock) GetCallDetails(ctx context.Context, callID string) (*provider.CallDetail, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.CallDetail), args.Error(1)
}

func (m *ClientMock) StopBatch(ctx context.Context, batchID string) error {
	args := m.Called(ctx, batchID)
	return args.Error(0)
}
