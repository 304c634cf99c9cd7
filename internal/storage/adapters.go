package storage

import (
	"context"
	"time"

	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
)

// CallRepoAdapter adapts the PostgresRepo to the CallRepo interface
type CallRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCallRepoAdapter creates a new call repository adapter
func NewCallRepoAdapter(postgres *PostgresRepo) CallRepo {
	return &CallRepoAdapter{postgres: postgres}
}

func (a *CallRepoAdapter) CreateBatch(ctx context.Context, calls []*model.Call) error {
	return a.postgres.CreateCalls(ctx, calls)
}

func (a *CallRepoAdapter) Create(ctx context.Context, call *model.Call) error {
	return a.postgres.CreateCall(ctx, call)
}

func (a *CallRepoAdapter) FindByID(ctx context.Context, id string) (*model.Call, error) {
	return a.postgres.FindCallByID(ctx, id)
}

func (a *CallRepoAdapter) FindByProviderCallID(ctx context.Context, providerCallID string) (*model.Call, error) {
	return a.postgres.FindCallByProviderCallID(ctx, providerCallID)
}

func (a *CallRepoAdapter) FindByBatchAndToNumber(ctx context.Context, batchCallID, toNumber string) (*model.Call, error) {
	return a.postgres.FindCallByBatchAndToNumber(ctx, batchCallID, toNumber)
}

func (a *CallRepoAdapter) FindRecentByParties(ctx context.Context, fromNumber, toNumber, agentID string, since time.Time) (*model.Call, error) {
	return a.postgres.FindRecentCallByParties(ctx, fromNumber, toNumber, agentID, since)
}

func (a *CallRepoAdapter) ListByBatch(ctx context.Context, batchCallID string) ([]model.Call, error) {
	return a.postgres.ListCallsByBatch(ctx, batchCallID)
}

func (a *CallRepoAdapter) UpdateWithLock(ctx context.Context, id string, fn func(call *model.Call) (bool, error)) (*model.Call, error) {
	return a.postgres.UpdateCallWithLock(ctx, id, fn)
}

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

func (a *ContactRepoAdapter) FindPendingByCampaign(ctx context.Context, campaignID string, limit int) ([]model.CampaignContact, error) {
	return a.postgres.FindPendingByCampaign(ctx, campaignID, limit)
}

func (a *ContactRepoAdapter) MarkDispatched(ctx context.Context, contactIDs []string) error {
	return a.postgres.MarkDispatched(ctx, contactIDs)
}

func (a *ContactRepoAdapter) UpdateOutcome(ctx context.Context, campaignID, phoneNumber, callStatus string) error {
	return a.postgres.UpdateOutcome(ctx, campaignID, phoneNumber, callStatus)
}

func (a *ContactRepoAdapter) MarkInFlightFailed(ctx context.Context, campaignID string) (int64, error) {
	return a.postgres.MarkInFlightFailed(ctx, campaignID)
}

// BatchCallRepoAdapter adapts the PostgresRepo to the BatchCallRepo interface
type BatchCallRepoAdapter struct {
	postgres *PostgresRepo
}

// NewBatchCallRepoAdapter creates a new batch call repository adapter
func NewBatchCallRepoAdapter(postgres *PostgresRepo) BatchCallRepo {
	return &BatchCallRepoAdapter{postgres: postgres}
}

func (a *BatchCallRepoAdapter) Create(ctx context.Context, batch *model.BatchCall) error {
	return a.postgres.CreateBatchCall(ctx, batch)
}

func (a *BatchCallRepoAdapter) Update(ctx context.Context, batch *model.BatchCall) error {
	return a.postgres.UpdateBatchCall(ctx, batch)
}

func (a *BatchCallRepoAdapter) FindByID(ctx context.Context, id string) (*model.BatchCall, error) {
	return a.postgres.FindBatchCallByID(ctx, id)
}

func (a *BatchCallRepoAdapter) FindByProviderBatchID(ctx context.Context, providerBatchID string) (*model.BatchCall, error) {
	return a.postgres.FindBatchCallByProviderBatchID(ctx, providerBatchID)
}

func (a *BatchCallRepoAdapter) ClaimDuePolls(ctx context.Context, now time.Time, holdFor time.Duration, limit int) ([]model.BatchCall, error) {
	return a.postgres.ClaimDuePolls(ctx, now, holdFor, limit)
}

func (a *BatchCallRepoAdapter) MarkCreditsSettled(ctx context.Context, id string) (bool, error) {
	return a.postgres.MarkBatchCreditsSettled(ctx, id)
}

func (a *BatchCallRepoAdapter) SchedulePoll(ctx context.Context, id string, attempts int, nextPollAt *time.Time, lastErr string) error {
	return a.postgres.SchedulePoll(ctx, id, attempts, nextPollAt, lastErr)
}

// WebhookEventRepoAdapter adapts the PostgresRepo to the WebhookEventRepo interface
type WebhookEventRepoAdapter struct {
	postgres *PostgresRepo
}

// NewWebhookEventRepoAdapter creates a new webhook event repository adapter
func NewWebhookEventRepoAdapter(postgres *PostgresRepo) WebhookEventRepo {
	return &WebhookEventRepoAdapter{postgres: postgres}
}

func (a *WebhookEventRepoAdapter) Insert(ctx context.Context, event *model.WebhookEvent) error {
	return a.postgres.InsertWebhookEvent(ctx, event)
}

func (a *WebhookEventRepoAdapter) MarkProcessed(ctx context.Context, id string, callID, batchCallID *string) error {
	return a.postgres.MarkWebhookEventProcessed(ctx, id, callID, batchCallID)
}

func (a *WebhookEventRepoAdapter) RecordFailure(ctx context.Context, id string, attemptErr error) error {
	return a.postgres.RecordWebhookEventFailure(ctx, id, attemptErr)
}

func (a *WebhookEventRepoAdapter) FindUnprocessed(ctx context.Context, maxAttempts, limit int) ([]model.WebhookEvent, error) {
	return a.postgres.FindUnprocessedWebhookEvents(ctx, maxAttempts, limit)
}

// ClientRepoAdapter adapts the PostgresRepo to the ClientRepo interface
type ClientRepoAdapter struct {
	postgres *PostgresRepo
}

// NewClientRepoAdapter creates a new client ledger adapter
func NewClientRepoAdapter(postgres *PostgresRepo) ClientRepo {
	return &ClientRepoAdapter{postgres: postgres}
}

func (a *ClientRepoAdapter) FindByID(ctx context.Context, id string) (*model.Client, error) {
	return a.postgres.FindClientByID(ctx, id)
}

func (a *ClientRepoAdapter) ReserveCredits(ctx context.Context, clientID string, minutes int64) error {
	return a.postgres.ReserveClientCredits(ctx, clientID, minutes)
}

func (a *ClientRepoAdapter) ConsumeCredits(ctx context.Context, clientID string, reserved, consumed int64) error {
	return a.postgres.ConsumeClientCredits(ctx, clientID, reserved, consumed)
}

func (a *ClientRepoAdapter) RefundCredits(ctx context.Context, clientID string, minutes int64) error {
	return a.postgres.RefundClientCredits(ctx, clientID, minutes)
}

// CampaignRepoAdapter adapts the PostgresRepo to the CampaignRepo interface
type CampaignRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCampaignRepoAdapter creates a new campaign repository adapter
func NewCampaignRepoAdapter(postgres *PostgresRepo) CampaignRepo {
	return &CampaignRepoAdapter{postgres: postgres}
}

func (a *CampaignRepoAdapter) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	return a.postgres.FindCampaignByID(ctx, id)
}

func (a *CampaignRepoAdapter) UpdateStatus(ctx context.Context, id, status string) error {
	return a.postgres.UpdateCampaignStatus(ctx, id, status)
}

// AgentRepoAdapter adapts the PostgresRepo to the AgentRepo interface
type AgentRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAgentRepoAdapter creates a new agent repository adapter
func NewAgentRepoAdapter(postgres *PostgresRepo) AgentRepo {
	return &AgentRepoAdapter{postgres: postgres}
}

func (a *AgentRepoAdapter) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	return a.postgres.FindAgentByID(ctx, id)
}
