package storage

import (
	"context"
	"time"

	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
)

// CallRepo handles persistence of individual calls.
type CallRepo interface {
	// CreateBatch inserts placeholder calls for a dispatched batch in a single
	// transaction. All rows are written or none are.
	CreateBatch(ctx context.Context, calls []*model.Call) error
	FindByID(ctx context.Context, id string) (*model.Call, error)
	FindByProviderCallID(ctx context.Context, providerCallID string) (*model.Call, error)
	// FindByBatchAndToNumber returns the oldest non-terminal call in the batch
	// for the given destination number.
	FindByBatchAndToNumber(ctx context.Context, batchCallID, toNumber string) (*model.Call, error)
	// FindRecentByParties matches a call by agent and from/to numbers created after the
	// given cutoff, preferring calls without a provider call id.
	FindRecentByParties(ctx context.Context, fromNumber, toNumber, agentID string, since time.Time) (*model.Call, error)
	ListByBatch(ctx context.Context, batchCallID string) ([]model.Call, error)
	Create(ctx context.Context, call *model.Call) error
	// UpdateWithLock loads the call under a row lock, applies fn, and persists
	// the result when fn reports a change. Returns the resulting call.
	UpdateWithLock(ctx context.Context, id string, fn func(call *model.Call) (bool, error)) (*model.Call, error)
}

// ContactRepo handles campaign contact selection and outcome tracking.
type ContactRepo interface {
	// FindPendingByCampaign returns active pending contacts in FIFO order,
	// bounded by limit.
	FindPendingByCampaign(ctx context.Context, campaignID string, limit int) ([]model.CampaignContact, error)
	// MarkDispatched moves the given contacts to in_progress and bumps their
	// attempt counts.
	MarkDispatched(ctx context.Context, contactIDs []string) error
	// UpdateOutcome records the terminal call status for a contact.
	UpdateOutcome(ctx context.Context, campaignID, phoneNumber, callStatus string) error
	// MarkInFlightFailed flags remaining in_progress contacts of a batch as
	// failed, used during settlement of abandoned batches.
	MarkInFlightFailed(ctx context.Context, campaignID string) (int64, error)
}

// BatchCallRepo handles batch lifecycle and reconciliation scheduling.
type BatchCallRepo interface {
	Create(ctx context.Context, batch *model.BatchCall) error
	Update(ctx context.Context, batch *model.BatchCall) error
	FindByID(ctx context.Context, id string) (*model.BatchCall, error)
	FindByProviderBatchID(ctx context.Context, providerBatchID string) (*model.BatchCall, error)
	// ClaimDuePolls selects batches whose next_poll_at has elapsed, locking the
	// rows so concurrent scanners skip them, and pushes next_poll_at forward.
	ClaimDuePolls(ctx context.Context, now time.Time, holdFor time.Duration, limit int) ([]model.BatchCall, error)
	// SchedulePoll records the attempt count and the time of the next poll.
	// A nil nextPollAt takes the batch out of the polling rotation.
	SchedulePoll(ctx context.Context, id string, attempts int, nextPollAt *time.Time, lastErr string) error
	// MarkCreditsSettled flips the settlement flag. Returns true only for the
	// caller that actually flipped it, so settlement runs exactly once even
	// when the webhook and polling paths race.
	MarkCreditsSettled(ctx context.Context, id string) (bool, error)
}

// WebhookEventRepo is the durability boundary for inbound provider events.
type WebhookEventRepo interface {
	Insert(ctx context.Context, event *model.WebhookEvent) error
	MarkProcessed(ctx context.Context, id string, callID, batchCallID *string) error
	RecordFailure(ctx context.Context, id string, attemptErr error) error
	// FindUnprocessed returns failed events still under the attempt cap,
	// oldest first.
	FindUnprocessed(ctx context.Context, maxAttempts, limit int) ([]model.WebhookEvent, error)
}

// ClientRepo is the credit ledger. Reserve, consume and refund are atomic
// guarded updates; they never leave the ledger negative.
type ClientRepo interface {
	FindByID(ctx context.Context, id string) (*model.Client, error)
	// ReserveCredits moves minutes from available to reserved. Returns
	// apperrors.ErrInsufficientCredits when the balance cannot cover it.
	ReserveCredits(ctx context.Context, clientID string, minutes int64) error
	// ConsumeCredits settles actual usage: releases the reservation and books
	// consumed minutes.
	ConsumeCredits(ctx context.Context, clientID string, reserved, consumed int64) error
	// RefundCredits releases a reservation without consuming anything.
	RefundCredits(ctx context.Context, clientID string, minutes int64) error
}

// CampaignRepo resolves campaigns and their dispatch configuration.
type CampaignRepo interface {
	FindByID(ctx context.Context, id string) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// AgentRepo resolves voice agents.
type AgentRepo interface {
	FindByID(ctx context.Context, id string) (*model.Agent, error)
}
