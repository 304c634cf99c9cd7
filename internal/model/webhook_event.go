package model

import (
	"time"

	"gorm.io/datatypes"
)

// Provider webhook event types.
const (
	EventTypeCallStarted  = "call_started"
	EventTypeCallEnded    = "call_ended"
	EventTypeCallAnalyzed = "call_analyzed"
)

// WebhookEvent is the append-only audit/retry record of one inbound provider
// notification. Rows are never mutated except to flip Processed or increment
// AttemptCount, and are kept indefinitely for audit.
type WebhookEvent struct {
	ID        string         `json:"id" gorm:"column:id;primaryKey"`
	EventType string         `json:"event_type" gorm:"column:event_type;index"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb;column:payload"`

	Processed     bool       `json:"processed" gorm:"column:processed;index;default:false"`
	AttemptCount  int        `json:"attempt_count" gorm:"column:attempt_count;default:0"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" gorm:"column:last_attempt_at"`
	ErrorMessage  string     `json:"error_message,omitempty" gorm:"column:error_message"`

	ProviderCallID string  `json:"provider_call_id,omitempty" gorm:"column:provider_call_id;index"`
	CallID         *string `json:"call_id,omitempty" gorm:"column:call_id;index"`
	BatchCallID    *string `json:"batch_call_id,omitempty" gorm:"column:batch_call_id"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
