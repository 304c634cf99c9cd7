package usecase

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-engine/internal/callstate"
	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
	"gitlab.com/voxline/api/voxline-call-engine/internal/storage"
	"gitlab.com/voxline/api/voxline-call-engine/pkg/logger"
)

// CallSyncService is the single write path for Call mutations. Both the
// webhook ingestor and the reconciliation loop merge provider state through
// here, so the terminal-state-is-final rule is enforced as a conditional
// write under the row lock, not a read-then-write race.
type CallSyncService struct {
	calls    storage.CallRepo
	contacts storage.ContactRepo
	settle   *SettlementService
	markup   decimal.Decimal
}

// NewCallSyncService creates a CallSyncService.
func NewCallSyncService(calls storage.CallRepo, contacts storage.ContactRepo, settle *SettlementService, markup decimal.Decimal) *CallSyncService {
	return &CallSyncService{calls: calls, contacts: contacts, settle: settle, markup: markup}
}

// MergeUpdate applies upd to the call under a row lock. When the write takes
// the call into a terminal status, the contact outcome is recorded and the
// batch is finalized if this was its last open call. Stale updates against a
// terminal call are silent no-ops.
func (s *CallSyncService) MergeUpdate(ctx context.Context, callID string, upd callstate.Update) (*model.Call, error) {
	becameTerminal := false

	call, err := s.calls.UpdateWithLock(ctx, callID, func(call *model.Call) (bool, error) {
		wasTerminal := call.IsTerminal()
		changed := callstate.Apply(call, upd, s.markup)
		becameTerminal = !wasTerminal && call.IsTerminal()
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if becameTerminal {
		if err := s.onCallTerminal(ctx, call); err != nil {
			return call, err
		}
	}
	return call, nil
}

// onCallTerminal records the contact outcome and finalizes the batch when all
// of its calls are done.
func (s *CallSyncService) onCallTerminal(ctx context.Context, call *model.Call) error {
	log := logger.FromContext(ctx)

	if call.CampaignID != "" {
		outcome := model.ContactStatusFailed
		if call.Status == model.CallStatusCompleted {
			outcome = model.ContactStatusCompleted
		}
		if err := s.contacts.UpdateOutcome(ctx, call.CampaignID, call.ToNumber, outcome); err != nil {
			log.Warn("Contact outcome update failed",
				zap.String("call_id", call.ID),
				zap.String("campaign_id", call.CampaignID),
				zap.Error(err))
		}
	}

	if call.BatchCallID != nil && *call.BatchCallID != "" {
		if _, err := s.settle.FinalizeBatchIfComplete(ctx, *call.BatchCallID); err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				return err
			}
			log.Warn("Call references a missing batch",
				zap.String("call_id", call.ID),
				zap.String("batch_call_id", *call.BatchCallID))
		}
	}
	return nil
}

// CreateFromEvent inserts a Call row created implicitly by an unmatched
// webhook. The row still goes through the state machine: it starts as
// initiated and the event's update is merged under the usual rules, so the
// implicit path cannot bypass the terminal-state invariant.
func (s *CallSyncService) CreateFromEvent(ctx context.Context, call *model.Call, upd callstate.Update) (*model.Call, error) {
	call.Status = model.CallStatusInitiated
	callstate.Apply(call, upd, s.markup)
	if err := s.calls.Create(ctx, call); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("Call created implicitly from webhook event",
		zap.String("call_id", call.ID),
		zap.Stringp("provider_call_id", call.ProviderCallID),
		zap.String("status", call.Status))
	return call, nil
}
