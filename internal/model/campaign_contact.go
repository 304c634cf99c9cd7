package model

import (
	"time"

	"gorm.io/datatypes"
)

// Contact call statuses within a campaign.
const (
	ContactStatusPending    = "pending"
	ContactStatusInProgress = "in_progress"
	ContactStatusCompleted  = "completed"
	ContactStatusFailed     = "failed"
)

// CampaignContact is a phone number queued for calling within a campaign.
// The attempt count only increases; a contact is never re-queued automatically.
type CampaignContact struct {
	ID          string `json:"id" gorm:"column:id;primaryKey"`
	CampaignID  string `json:"campaign_id" gorm:"column:campaign_id;index:idx_campaign_contacts_phone,unique"`
	PhoneNumber string `json:"phone_number" gorm:"column:phone_number;index:idx_campaign_contacts_phone,unique"`

	// DynamicVars is an ordered list of {key, value} pairs used to
	// personalize the call, preserved in insertion order.
	DynamicVars datatypes.JSON `json:"dynamic_vars,omitempty" gorm:"type:jsonb;column:dynamic_vars"`

	Active       bool       `json:"active" gorm:"column:active;default:true"`
	CallStatus   string     `json:"call_status" gorm:"column:call_status;index;default:pending"`
	AttemptCount int        `json:"attempt_count" gorm:"column:attempt_count;default:0"`
	LastCallAt   *time.Time `json:"last_call_at,omitempty" gorm:"column:last_call_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (CampaignContact) TableName() string {
	return "campaign_contacts"
}

// DynamicVar is one personalization pair for a contact.
type DynamicVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
