package domain

import "time"

const (
	InteractionGreeting = "greeting"
	InteractionOption   = "option"
)

// InteractionLog is an audit row written for every handled inbound message.
type InteractionLog struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	ContactID   string    `gorm:"index" json:"contact_id"`
	DisplayName string    `json:"display_name"`
	Kind        string    `gorm:"index" json:"kind"` // greeting, option
	Option      string    `json:"option"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName Specify table name
func (InteractionLog) TableName() string {
	return "interaction_log"
}
