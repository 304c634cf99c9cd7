package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/callstate"
	"gitlab.com/voxline/api/voxline-call-engine/internal/config"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/observer"
	"gitlab.com/voxline/api/voxline-call-engine/internal/provider"
	"gitlab.com/voxline/api/voxline-call-engine/internal/storage"
	"gitlab.com/voxline/api/voxline-call-engine/internal/validator"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/utils"
)

// WebhookPayload is the provider's event envelope. Fields beyond the event
// type and call id are event-specific and may be absent.
type WebhookPayload struct {
	EventType  string           `json:"event_type" validate:"required"`
	CallID     string           `json:"call_id"`
	BatchID    string           `json:"batch_id,omitempty"`
	FromNumber string           `json:"from_number,omitempty"`
	ToNumber   string           `json:"to_number,omitempty"`
	AgentID    string           `json:"agent_id,omitempty"`
	Status     string           `json:"status,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	EndedAt    *time.Time       `json:"ended_at,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`

	Transcript       string         `json:"transcript,omitempty"`
	TranscriptObject datatypes.JSON `json:"transcript_object,omitempty"`
	Analysis         datatypes.JSON `json:"analysis,omitempty"`
	RecordingURL     string         `json:"recording_url,omitempty"`
	Disconnect       string         `json:"disconnection_reason,omitempty"`
}

// WebhookService ingests provider events. Each event is persisted before any
// state change so a processing failure is retried from the stored row rather
// than relying on provider redelivery.
type WebhookService struct {
	events   storage.WebhookEventRepo
	calls    storage.CallRepo
	batches  storage.BatchCallRepo
	provider provider.Client
	sync     *CallSyncService

	defaultStatus      string
	startedMatchWindow time.Duration
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(
	events storage.WebhookEventRepo,
	calls storage.CallRepo,
	batches storage.BatchCallRepo,
	providerClient provider.Client,
	sync *CallSyncService,
	dispatchCfg config.DispatchConfig,
	defaultStatus string,
) *WebhookService {
	return &WebhookService{
		events:             events,
		calls:              calls,
		batches:            batches,
		provider:           providerClient,
		sync:               sync,
		defaultStatus:      defaultStatus,
		startedMatchWindow: dispatchCfg.StartedMatchWindow,
	}
}

// Ingest persists one verified event and processes it. A processing failure
// leaves the stored event unprocessed with the error recorded and does NOT
// propagate: the provider already got its acknowledgement, and redelivery of
// the same event is expected and idempotent. Only a malformed payload or a
// failed persist returns an error.
func (s *WebhookService) Ingest(ctx context.Context, rawPayload []byte) error {
	var payload WebhookPayload
	if err := utils.UnmarshalJSON(rawPayload, &payload); err != nil {
		observer.IncWebhookEvent("malformed", "rejected")
		return fmt.Errorf("%w: malformed webhook payload: %w", apperrors.ErrBadRequest, err)
	}
	if err := validator.Validate(&payload); err != nil {
		observer.IncWebhookEvent("malformed", "rejected")
		return fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
	}

	event := &model.WebhookEvent{
		ID:             uuid.NewString(),
		EventType:      payload.EventType,
		Payload:        datatypes.JSON(rawPayload),
		ProviderCallID: payload.CallID,
	}
	if err := s.events.Insert(ctx, event); err != nil {
		return err
	}

	s.Process(ctx, event)
	return nil
}

// Process runs one stored event through its handler and records the outcome
// on the event row. Called inline by Ingest and again by the retry worker.
func (s *WebhookService) Process(ctx context.Context, event *model.WebhookEvent) {
	log := logger.FromContext(ctx)
	startTime := time.Now()

	var payload WebhookPayload
	if err := utils.UnmarshalJSON(event.Payload, &payload); err != nil {
		// Cannot happen for events that passed Ingest; terminal for retries.
		s.recordFailure(ctx, event, err)
		observer.IncWebhookEvent(event.EventType, "error")
		return
	}

	callID, batchCallID, err := s.handle(ctx, &payload)
	observer.ObserveWebhookProcessingDuration(event.EventType, time.Since(startTime))
	if err != nil {
		log.Warn("Webhook event processing failed; kept for retry",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		s.recordFailure(ctx, event, err)
		observer.IncWebhookEvent(event.EventType, "error")
		return
	}

	if markErr := s.events.MarkProcessed(ctx, event.ID, callID, batchCallID); markErr != nil {
		log.Error("Failed to mark webhook event processed",
			zap.String("event_id", event.ID),
			zap.Error(markErr))
		return
	}
	event.Processed = true
	observer.IncWebhookEvent(event.EventType, "processed")
}

func (s *WebhookService) recordFailure(ctx context.Context, event *model.WebhookEvent, err error) {
	if recErr := s.events.RecordFailure(ctx, event.ID, err); recErr != nil {
		logger.FromContext(ctx).Error("Failed to record webhook event failure",
			zap.String("event_id", event.ID),
			zap.Error(recErr))
	}
}

// handle dispatches one event to its handler and returns the ids of the
// entities the event resolved to.
func (s *WebhookService) handle(ctx context.Context, payload *WebhookPayload) (callID, batchCallID *string, err error) {
	switch payload.EventType {
	case model.EventTypeCallStarted:
		return s.handleCallStarted(ctx, payload)
	case model.EventTypeCallEnded:
		return s.handleCallEnded(ctx, payload)
	case model.EventTypeCallAnalyzed:
		return s.handleCallAnalyzed(ctx, payload)
	default:
		// Unknown event types are acknowledged, not failed.
		logger.FromContext(ctx).Info("Ignoring unknown webhook event type",
			zap.String("event_type", payload.EventType))
		return nil, nil, nil
	}
}

// handleCallStarted moves the matched call to in_progress and records the
// provider call id and start time. When no call matches, a new row is created
// implicitly: direct evidence a call started outside the batch path.
func (s *WebhookService) handleCallStarted(ctx context.Context, payload *WebhookPayload) (*string, *string, error) {
	if payload.CallID == "" {
		return nil, nil, fmt.Errorf("%w: call_started without call_id", apperrors.ErrValidation)
	}

	upd := callstate.Update{
		Status:         model.CallStatusInProgress,
		ProviderCallID: payload.CallID,
		StartedAt:      payload.StartedAt,
	}

	call, err := s.locateCall(ctx, payload, false)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil, err
	}
	if call != nil {
		merged, mergeErr := s.sync.MergeUpdate(ctx, call.ID, upd)
		if mergeErr != nil {
			return nil, nil, mergeErr
		}
		return &merged.ID, merged.BatchCallID, nil
	}

	created, err := s.createImplicitCall(ctx, payload, upd)
	if err != nil {
		return nil, nil, err
	}
	return &created.ID, created.BatchCallID, nil
}

// handleCallEnded fetches the full call record from the provider and writes
// the terminal state. The detail fetch is the canonical source of transcript
// and analysis data.
func (s *WebhookService) handleCallEnded(ctx context.Context, payload *WebhookPayload) (*string, *string, error) {
	if payload.CallID == "" {
		return nil, nil, fmt.Errorf("%w: call_ended without call_id", apperrors.ErrValidation)
	}

	call, err := s.locateCall(ctx, payload, true)
	if err != nil {
		return nil, nil, err
	}

	detail, err := s.provider.GetCallDetails(ctx, payload.CallID)
	if err != nil {
		return nil, nil, err
	}

	status, mapped := callstate.MapProviderStatus(detail.Status, s.defaultStatus)
	if !mapped {
		observer.IncUnmappedProviderStatus(detail.Status)
		logger.FromContext(ctx).Warn("Unmapped provider status on call_ended",
			zap.String("provider_status", detail.Status),
			zap.String("defaulted_to", status))
	}

	upd := callstate.Update{
		Status:           status,
		ProviderCallID:   detail.CallID,
		StartedAt:        detail.StartedAt,
		EndedAt:          detail.EndedAt,
		DurationMs:       detail.DurationMs,
		Transcript:       detail.Transcript,
		TranscriptObject: datatypes.JSON(detail.TranscriptObject),
		Analysis:         datatypes.JSON(detail.Analysis),
		DisconnectReason: detail.Disconnect,
		RecordingURL:     detail.RecordingURL,
		ProviderMetadata: datatypes.JSON(detail.Metadata),
	}
	if !detail.Price.IsZero() {
		price := detail.Price
		upd.ProviderCost = &price
	}

	merged, err := s.sync.MergeUpdate(ctx, call.ID, upd)
	if err != nil {
		return nil, nil, err
	}
	return &merged.ID, merged.BatchCallID, nil
}

// handleCallAnalyzed updates transcript/analysis fields without touching
// status.
func (s *WebhookService) handleCallAnalyzed(ctx context.Context, payload *WebhookPayload) (*string, *string, error) {
	if payload.CallID == "" {
		return nil, nil, fmt.Errorf("%w: call_analyzed without call_id", apperrors.ErrValidation)
	}

	call, err := s.calls.FindByProviderCallID(ctx, payload.CallID)
	if err != nil {
		return nil, nil, err
	}

	merged, err := s.sync.MergeUpdate(ctx, call.ID, callstate.Update{
		Transcript:       payload.Transcript,
		TranscriptObject: payload.TranscriptObject,
		Analysis:         payload.Analysis,
	})
	if err != nil {
		return nil, nil, err
	}
	return &merged.ID, merged.BatchCallID, nil
}

// locateCall finds the local call for an event: by provider call id first,
// then by the windowed (from, to) fallback. The fallback exists because the
// provider may start a call before the batch-dispatch response is fully
// persisted locally.
func (s *WebhookService) locateCall(ctx context.Context, payload *WebhookPayload, widened bool) (*model.Call, error) {
	call, err := s.calls.FindByProviderCallID(ctx, payload.CallID)
	if err == nil {
		return call, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	if payload.FromNumber == "" || payload.ToNumber == "" {
		return nil, err
	}
	since := utils.Now().Add(-s.startedMatchWindow)
	fallback, fbErr := s.calls.FindRecentByParties(ctx, payload.FromNumber, payload.ToNumber, payload.AgentID, since)
	if fbErr != nil {
		return nil, fbErr
	}
	if !widened && fallback.Status != model.CallStatusInitiated {
		return nil, fmt.Errorf("%w: no initiated call for %s -> %s",
			apperrors.ErrNotFound, payload.FromNumber, payload.ToNumber)
	}
	if widened && fallback.IsTerminal() {
		return nil, fmt.Errorf("%w: fallback match for %s is already terminal",
			apperrors.ErrNotFound, payload.CallID)
	}
	return fallback, nil
}

// createImplicitCall inserts a row for a call this system did not originate.
// If the event names a known provider batch, the row is attached to it.
func (s *WebhookService) createImplicitCall(ctx context.Context, payload *WebhookPayload, upd callstate.Update) (*model.Call, error) {
	call := &model.Call{
		ID:            uuid.NewString(),
		FromNumber:    payload.FromNumber,
		ToNumber:      payload.ToNumber,
		AgentID:       payload.AgentID,
		Direction:     model.CallDirectionOutbound,
		AttemptNumber: 1,
	}

	if payload.BatchID != "" {
		batch, err := s.batches.FindByProviderBatchID(ctx, payload.BatchID)
		if err == nil {
			batchID := batch.ID
			call.BatchCallID = &batchID
			call.CampaignID = batch.CampaignID
			call.ClientID = batch.ClientID
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	return s.sync.CreateFromEvent(ctx, call, upd)
}
