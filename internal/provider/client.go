package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/config"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
)

// Client is the thin wrapper around the voice-AI provider's HTTP API.
type Client interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*CreateBatchResponse, error)
	ListCallsByBatch(ctx context.Context, batchID string) ([]Call, error)
	GetCallDetails(ctx context.Context, callID string) (*CallDetail, error)
	StopBatch(ctx context.Context, batchID string) error
}

// HTTPClient implements Client over resty.
type HTTPClient struct {
	httpClient *resty.Client
}

// NewHTTPClient creates a provider client from config.
func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", cfg.APIKey)

	return &HTTPClient{httpClient: client}
}

// CreateBatch submits one bulk-dispatch request.
func (c *HTTPClient) CreateBatch(ctx context.Context, req CreateBatchRequest) (*CreateBatchResponse, error) {
	var (
		result CreateBatchResponse
		errRes errorResponse
	)

	startTime := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&errRes).
		Post("/v1/batches")
	observer.ObserveProviderRequestDuration("create_batch", time.Since(startTime), err)

	if err != nil {
		return nil, fmt.Errorf("provider batch create request failed: %w", err)
	}
	if resp.IsError() {
		return nil, providerError(resp, errRes)
	}

	logger.FromContext(ctx).Info("Provider batch created",
		zap.String("provider_batch_id", result.BatchID),
		zap.Int("total_task_count", result.TotalTaskCount))
	return &result, nil
}

// ListCallsByBatch returns the provider's calls for a batch. An empty list is
// normal while the provider is still fanning the batch out.
func (c *HTTPClient) ListCallsByBatch(ctx context.Context, batchID string) ([]Call, error) {
	var (
		result listCallsResponse
		errRes errorResponse
	)

	startTime := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&errRes).
		Get(fmt.Sprintf("/v1/batches/%s/calls", batchID))
	observer.ObserveProviderRequestDuration("list_calls", time.Since(startTime), err)

	if err != nil {
		return nil, fmt.Errorf("provider call listing request failed: %w", err)
	}
	if resp.IsError() {
		return nil, providerError(resp, errRes)
	}

	return result.Calls, nil
}

// GetCallDetails fetches the full record for one call.
func (c *HTTPClient) GetCallDetails(ctx context.Context, callID string) (*CallDetail, error) {
	var (
		result CallDetail
		errRes errorResponse
	)

	startTime := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&errRes).
		Get(fmt.Sprintf("/v1/calls/%s", callID))
	observer.ObserveProviderRequestDuration("get_call_details", time.Since(startTime), err)

	if err != nil {
		return nil, fmt.Errorf("provider call detail request failed: %w", err)
	}
	if resp.IsError() {
		return nil, providerError(resp, errRes)
	}

	return &result, nil
}

// StopBatch asks the provider to stop dispatching remaining calls in a batch.
// Best effort; calls already in flight are unaffected.
func (c *HTTPClient) StopBatch(ctx context.Context, batchID string) error {
	var (
		result stopBatchResponse
		errRes errorResponse
	)

	startTime := time.Now()
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&errRes).
		Post(fmt.Sprintf("/v1/batches/%s/stop", batchID))
	observer.ObserveProviderRequestDuration("stop_batch", time.Since(startTime), err)

	if err != nil {
		return fmt.Errorf("provider batch stop request failed: %w", err)
	}
	if resp.IsError() {
		return providerError(resp, errRes)
	}

	logger.FromContext(ctx).Info("Provider batch stop requested",
		zap.String("provider_batch_id", batchID),
		zap.String("provider_status", result.Status))
	return nil
}

func providerError(resp *resty.Response, errRes errorResponse) error {
	msg := errRes.Message
	if msg == "" {
		msg = errRes.Error
	}
	if msg == "" {
		msg = resp.Status()
	}
	return apperrors.NewProvider(resp.StatusCode(), "%s", msg)
}
