package model

import "time"

// Client is the billed account that owns campaigns and agents. The three
// credit counters are the only fields mutated concurrently by multiple call
// sites; every mutation must be a single atomic read-modify-write scoped to
// one row. Invariant: 0 <= reserved, 0 <= consumed,
// reserved + consumed <= total.
type Client struct {
	ID   string `json:"id" gorm:"column:id;primaryKey"`
	Name string `json:"name" gorm:"column:name"`

	TotalMinutes    int64 `json:"total_minutes" gorm:"column:total_minutes"`
	ReservedMinutes int64 `json:"reserved_minutes" gorm:"column:reserved_minutes"`
	ConsumedMinutes int64 `json:"consumed_minutes" gorm:"column:consumed_minutes"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (Client) TableName() string {
	return "clients"
}

// AvailableMinutes returns total minus reserved minus consumed.
func (c *Client) AvailableMinutes() int64 {
	return c.TotalMinutes - c.ReservedMinutes - c.ConsumedMinutes
}
