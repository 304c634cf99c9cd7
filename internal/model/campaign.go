package model

import "time"

// Campaign statuses.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusPublished = "published"
	CampaignStatusPaused    = "paused"
	CampaignStatusArchived  = "archived"
)

// Campaign groups contacts under one client with an assigned agent and a
// shared outbound number. Only published campaigns with a client-owned agent
// are eligible for dispatch.
type Campaign struct {
	ID         string `json:"id" gorm:"column:id;primaryKey"`
	ClientID   string `json:"client_id" gorm:"column:client_id;index"`
	Name       string `json:"name" gorm:"column:name"`
	Status     string `json:"status" gorm:"column:status;index;default:draft"`
	AgentID    string `json:"agent_id" gorm:"column:agent_id"`
	FromNumber string `json:"from_number" gorm:"column:from_number"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Campaign) TableName() string {
	return "campaigns"
}

// Agent is a voice-AI persona owned by a client.
type Agent struct {
	ID              string `json:"id" gorm:"column:id;primaryKey"`
	ClientID        string `json:"client_id" gorm:"column:client_id;index"`
	Name            string `json:"name" gorm:"column:name"`
	ProviderAgentID string `json:"provider_agent_id" gorm:"column:provider_agent_id;index"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Agent) TableName() string {
	return "agents"
}
