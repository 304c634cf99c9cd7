package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
	"gitlab.com/voxline/api/voxline-call-engine/internal/usecase"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

const maxWebhookBodyBytes = 1 << 20

// DispatchAPI is the slice of the dispatch service the HTTP layer needs.
type DispatchAPI interface {
	StartBatch(ctx context.Context, campaignID string) (*usecase.StartBatchResult, error)
	BatchStatus(ctx context.Context, campaignID, batchCallID string) (*usecase.BatchStatusResult, error)
	StopBatch(ctx context.Context, campaignID, batchCallID string) error
	ResyncBatch(ctx context.Context, campaignID, batchCallID string) error
}

// WebhookAPI ingests raw, already-verified webhook payloads.
type WebhookAPI interface {
	Ingest(ctx context.Context, rawPayload []byte) error
}

// Handlers groups the HTTP handlers for dependency injection. All domain
// logic lives in the services; handlers only parse input and map errors.
type Handlers struct {
	Dispatch      DispatchAPI
	Webhook       WebhookAPI
	WebhookSecret string
}

// StartBatch handles POST /v1/batch-calls/:campaignId/start.
func (h Handlers) StartBatch(c *gin.Context) {
	result, err := h.Dispatch.StartBatch(c.Request.Context(), c.Param("campaignId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// BatchStatus handles GET /v1/batch-calls/:campaignId/status/:batchCallId.
func (h Handlers) BatchStatus(c *gin.Context) {
	result, err := h.Dispatch.BatchStatus(c.Request.Context(), c.Param("campaignId"), c.Param("batchCallId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StopBatch handles POST /v1/batch-calls/:campaignId/stop/:batchCallId.
func (h Handlers) StopBatch(c *gin.Context) {
	if err := h.Dispatch.StopBatch(c.Request.Context(), c.Param("campaignId"), c.Param("batchCallId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// ResyncBatch handles POST /v1/batch-calls/:campaignId/resync/:batchCallId.
func (h Handlers) ResyncBatch(c *gin.Context) {
	if err := h.Dispatch.ResyncBatch(c.Request.Context(), c.Param("campaignId"), c.Param("batchCallId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "rescheduled"})
}

// ProviderWebhook handles POST /webhooks/provider. The signature is verified
// against the raw body before anything is parsed; an unverifiable request is
// rejected without leaving a trace in the event table.
func (h Handlers) ProviderWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		writeError(c, apperrors.ErrBadRequest)
		return
	}

	err = provider.VerifyWebhookSignature(
		body,
		c.GetHeader(provider.SignatureHeader),
		c.GetHeader(provider.TimestampHeader),
		h.WebhookSecret,
		utils.Now(),
	)
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("Webhook signature rejected", zap.Error(err))
		writeError(c, err)
		return
	}

	if err := h.Webhook.Ingest(c.Request.Context(), body); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// writeError maps service errors onto HTTP status codes. The code field is
// stable for API consumers; the error field is human-readable.
func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperrors.ErrBadRequest):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, apperrors.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrInsufficientCredits):
		status, code = http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, apperrors.ErrDuplicate), errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrNotEligible):
		status, code = http.StatusUnprocessableEntity, "not_eligible"
	case errors.Is(err, apperrors.ErrNoContacts):
		status, code = http.StatusUnprocessableEntity, "no_contacts"
	case errors.Is(err, apperrors.ErrProvider):
		status, code = http.StatusBadGateway, "provider_error"
		if upstream := apperrors.ProviderStatusCode(err); upstream == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
	case errors.Is(err, apperrors.ErrTimeout):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": err.Error()})
}
