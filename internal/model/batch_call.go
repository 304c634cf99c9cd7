package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch call statuses.
const (
	BatchStatusPending    = "pending"
	BatchStatusScheduled  = "scheduled"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
	BatchStatusCancelled  = "cancelled"
)

// BatchCall is one provider-side bulk-dispatch request. Reserved credits must
// be settled (consumed or refunded) exactly once, when the batch reaches a
// terminal status; CreditsSettled tracks that.
type BatchCall struct {
	ID              string `json:"id" gorm:"column:id;primaryKey"`
	ProviderBatchID string `json:"provider_batch_id" gorm:"column:provider_batch_id;index"`
	CampaignID      string `json:"campaign_id" gorm:"column:campaign_id;index"`
	ClientID        string `json:"client_id" gorm:"column:client_id;index"`

	TaskCount int    `json:"task_count" gorm:"column:task_count"`
	Status    string `json:"status" gorm:"column:status;index;default:pending"`

	EstimatedMinutes int64 `json:"estimated_minutes" gorm:"column:estimated_minutes"`
	ReservedMinutes  int64 `json:"reserved_minutes" gorm:"column:reserved_minutes"`
	CreditsSettled   bool  `json:"credits_settled" gorm:"column:credits_settled;default:false"`

	SuccessfulCalls int             `json:"successful_calls" gorm:"column:successful_calls"`
	FailedCalls     int             `json:"failed_calls" gorm:"column:failed_calls"`
	TotalDurationMs int64           `json:"total_duration_ms" gorm:"column:total_duration_ms"`
	TotalCost       decimal.Decimal `json:"total_cost" gorm:"column:total_cost;type:numeric(12,6)"`

	// Reconciliation chain state, persisted so a process restart resumes
	// in-flight chains instead of dropping them.
	PollAttempts  int        `json:"poll_attempts" gorm:"column:poll_attempts;default:0"`
	NextPollAt    *time.Time `json:"next_poll_at,omitempty" gorm:"column:next_poll_at;index"`
	Reconciled    bool       `json:"reconciled" gorm:"column:reconciled;default:false"`
	LastPollError string     `json:"last_poll_error,omitempty" gorm:"column:last_poll_error"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (BatchCall) TableName() string {
	return "batch_calls"
}

// IsTerminalBatchStatus reports whether the batch status is final.
func IsTerminalBatchStatus(status string) bool {
	switch status {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	}
	return false
}
