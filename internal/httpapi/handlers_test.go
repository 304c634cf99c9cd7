package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
	"gitlab.com/voxline/api/voxline-call-engine/internal/usecase"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
)

const testWebhookSecret = "whsec_test"

type dispatchAPIMock struct {
	mock.Mock
}

func (m *dispatchAPIMock) StartBatch(ctx context.Context, campaignID string) (*usecase.StartBatchResult, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.StartBatchResult), args.Error(1)
}

func (m *dispatchAPIMock) BatchStatus(ctx context.Context, campaignID, batchCallID string) (*usecase.BatchStatusResult, error) {
	args := m.Called(ctx, campaignID, batchCallID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.BatchStatusResult), args.Error(1)
}

func (m *dispatchAPIMock) StopBatch(ctx context.Context, campaignID, batchCallID string) error {
	return m.Called(ctx, campaignID, batchCallID).Error(0)
}

func (m *dispatchAPIMock) ResyncBatch(ctx context.Context, campaignID, batchCallID string) error {
	return m.Called(ctx, campaignID, batchCallID).Error(0)
}

type webhookAPIMock struct {
	mock.Mock
}

func (m *webhookAPIMock) Ingest(ctx context.Context, rawPayload []byte) error {
	return m.Called(ctx, rawPayload).Error(0)
}

func newTestRouter(t *testing.T) (*gin.Engine, *dispatchAPIMock, *webhookAPIMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Log = zaptest.NewLogger(t)

	dispatch := new(dispatchAPIMock)
	webhook := new(webhookAPIMock)
	router := NewRouter(Handlers{
		Dispatch:      dispatch,
		Webhook:       webhook,
		WebhookSecret: testWebhookSecret,
	}, logger.Log)
	return router, dispatch, webhook
}

func doRequest(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func signedHeaders(payload string) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		provider.SignatureHeader: provider.ComputeSignature([]byte(payload), ts, testWebhookSecret),
		provider.TimestampHeader: ts,
	}
}

func TestStartBatchHandler(t *testing.T) {
	router, dispatch, _ := newTestRouter(t)
	dispatch.On("StartBatch", mock.Anything, "camp-1").
		Return(&usecase.StartBatchResult{BatchCallID: "batch-1", TotalTaskCount: 2}, nil)

	w := doRequest(router, http.MethodPost, "/v1/batch-calls/camp-1/start", "", nil)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"batch_call_id":"batch-1","total_task_count":2}`, w.Body.String())
}

func TestStartBatchHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"insufficient credits", fmt.Errorf("reserve: %w", apperrors.ErrInsufficientCredits), http.StatusPaymentRequired, "insufficient_credits"},
		{"not eligible", fmt.Errorf("draft: %w", apperrors.ErrNotEligible), http.StatusUnprocessableEntity, "not_eligible"},
		{"no contacts", fmt.Errorf("empty: %w", apperrors.ErrNoContacts), http.StatusUnprocessableEntity, "no_contacts"},
		{"not found", apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
		{"validation", apperrors.ErrValidation, http.StatusBadRequest, "validation_error"},
		{"provider down", apperrors.NewProvider(500, "upstream broke"), http.StatusBadGateway, "provider_error"},
		{"provider rate limited", apperrors.NewProvider(429, "slow down"), http.StatusTooManyRequests, "provider_error"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, dispatch, _ := newTestRouter(t)
			dispatch.On("StartBatch", mock.Anything, "camp-1").Return(nil, tt.err)

			w := doRequest(router, http.MethodPost, "/v1/batch-calls/camp-1/start", "", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"`+tt.wantCode+`"`)
		})
	}
}

func TestBatchStatusHandler(t *testing.T) {
	router, dispatch, _ := newTestRouter(t)
	dispatch.On("BatchStatus", mock.Anything, "camp-1", "batch-1").
		Return(&usecase.BatchStatusResult{
			BatchCallID: "batch-1", CampaignID: "camp-1", Status: "completed",
			TaskCount: 2, SuccessfulCalls: 1, FailedCalls: 1, TotalCost: "0.216",
		}, nil)

	w := doRequest(router, http.MethodGet, "/v1/batch-calls/camp-1/status/batch-1", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_cost":"0.216"`)
}

func TestStopBatchHandler(t *testing.T) {
	router, dispatch, _ := newTestRouter(t)
	dispatch.On("StopBatch", mock.Anything, "camp-1", "batch-1").Return(nil)

	w := doRequest(router, http.MethodPost, "/v1/batch-calls/camp-1/stop/batch-1", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"cancelled"}`, w.Body.String())
}

func TestStopBatchHandlerAlreadyTerminal(t *testing.T) {
	router, dispatch, _ := newTestRouter(t)
	dispatch.On("StopBatch", mock.Anything, "camp-1", "batch-1").
		Return(fmt.Errorf("already done: %w", apperrors.ErrInvalidState))

	w := doRequest(router, http.MethodPost, "/v1/batch-calls/camp-1/stop/batch-1", "", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"invalid_state"`)
}

func TestResyncBatchHandler(t *testing.T) {
	router, dispatch, _ := newTestRouter(t)
	dispatch.On("ResyncBatch", mock.Anything, "camp-1", "batch-1").Return(nil)

	w := doRequest(router, http.MethodPost, "/v1/batch-calls/camp-1/resync/batch-1", "", nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestProviderWebhookVerifiedAndIngested(t *testing.T) {
	router, _, webhook := newTestRouter(t)
	payload := `{"event_type":"call_started","call_id":"pc-1"}`
	webhook.On("Ingest", mock.Anything, []byte(payload)).Return(nil)

	w := doRequest(router, http.MethodPost, "/webhooks/provider", payload, signedHeaders(payload))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, w.Body.String())
	webhook.AssertExpectations(t)
}

func TestProviderWebhookMissingSignature(t *testing.T) {
	router, _, webhook := newTestRouter(t)

	w := doRequest(router, http.MethodPost, "/webhooks/provider", `{}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	webhook.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestProviderWebhookBadSignature(t *testing.T) {
	router, _, webhook := newTestRouter(t)
	payload := `{"event_type":"call_started"}`
	headers := signedHeaders(payload)
	headers[provider.SignatureHeader] = "deadbeef"

	w := doRequest(router, http.MethodPost, "/webhooks/provider", payload, headers)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	webhook.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestProviderWebhookTamperedPayload(t *testing.T) {
	router, _, webhook := newTestRouter(t)
	headers := signedHeaders(`{"event_type":"call_started","call_id":"pc-1"}`)

	w := doRequest(router, http.MethodPost, "/webhooks/provider",
		`{"event_type":"call_started","call_id":"pc-other"}`, headers)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	webhook.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestProviderWebhookMalformedPayloadAfterVerification(t *testing.T) {
	router, _, webhook := newTestRouter(t)
	payload := `{"not json`
	webhook.On("Ingest", mock.Anything, []byte(payload)).
		Return(fmt.Errorf("parse: %w", apperrors.ErrBadRequest))

	w := doRequest(router, http.MethodPost, "/webhooks/provider", payload, signedHeaders(payload))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	router, dispatch, _ := newTestRouter(t)
	dispatch.On("StartBatch", mock.Anything, "camp-1").
		Return(&usecase.StartBatchResult{BatchCallID: "batch-1"}, nil)

	w := doRequest(router, http.MethodPost, "/v1/batch-calls/camp-1/start", "",
		map[string]string{"X-Request-Id": "req-abc"})

	assert.Equal(t, "req-abc", w.Header().Get("X-Request-Id"))

	w = doRequest(router, http.MethodPost, "/v1/batch-calls/camp-1/start", "", nil)
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
