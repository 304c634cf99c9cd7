package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Call statuses. The five outcome statuses are terminal: once a call reaches
// one of them, no further status write is permitted.
const (
	CallStatusInitiated  = "initiated"
	CallStatusRinging    = "ringing"
	CallStatusAnswered   = "answered"
	CallStatusInProgress = "in_progress"
	CallStatusCompleted  = "completed"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no_answer"
	CallStatusBusy       = "busy"
	CallStatusVoicemail  = "voicemail"
)

// Call directions.
const (
	CallDirectionInbound  = "inbound"
	CallDirectionOutbound = "outbound"
)

// Call represents one outbound attempt to one phone number.
type Call struct {
	ID             string  `json:"id" gorm:"column:id;primaryKey"`
	ProviderCallID *string `json:"provider_call_id,omitempty" gorm:"column:provider_call_id;uniqueIndex"`
	BatchCallID    *string `json:"batch_call_id,omitempty" gorm:"column:batch_call_id;index"`
	CampaignID     string  `json:"campaign_id" gorm:"column:campaign_id;index"`
	ClientID       string  `json:"client_id" gorm:"column:client_id;index"`

	FromNumber string `json:"from_number" gorm:"column:from_number"`
	ToNumber   string `json:"to_number" gorm:"column:to_number;index"`
	AgentID    string `json:"agent_id" gorm:"column:agent_id;index"`
	Direction  string `json:"direction" gorm:"column:direction"`

	Status string `json:"status" gorm:"column:status;index"`

	StartedAt       *time.Time `json:"started_at,omitempty" gorm:"column:started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" gorm:"column:ended_at"`
	DurationMs      int64      `json:"duration_ms" gorm:"column:duration_ms"`
	DurationSeconds int64      `json:"duration_seconds" gorm:"column:duration_seconds"`

	ProviderCost decimal.Decimal `json:"provider_cost" gorm:"column:provider_cost;type:numeric(12,6)"`
	ClientCost   decimal.Decimal `json:"client_cost" gorm:"column:client_cost;type:numeric(12,6)"`

	Transcript       string         `json:"transcript,omitempty" gorm:"column:transcript"`
	TranscriptObject datatypes.JSON `json:"transcript_object,omitempty" gorm:"type:jsonb;column:transcript_object"`
	Analysis         datatypes.JSON `json:"analysis,omitempty" gorm:"type:jsonb;column:analysis"`

	AttemptNumber    int            `json:"attempt_number" gorm:"column:attempt_number;default:1"`
	DisconnectReason string         `json:"disconnect_reason,omitempty" gorm:"column:disconnect_reason"`
	RecordingURL     string         `json:"recording_url,omitempty" gorm:"column:recording_url"`
	ProviderMetadata datatypes.JSON `json:"provider_metadata,omitempty" gorm:"type:jsonb;column:provider_metadata"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Call) TableName() string {
	return "calls"
}

// IsTerminalStatus reports whether the given call status is one of the five
// final outcomes.
func IsTerminalStatus(status string) bool {
	switch status {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusVoicemail:
		return true
	}
	return false
}

// IsTerminal reports whether the call has reached a final outcome.
func (c *Call) IsTerminal() bool {
	return IsTerminalStatus(c.Status)
}
