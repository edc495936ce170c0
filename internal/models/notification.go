package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification types.
const (
	NotificationTypeAssignment = "assignment"
	NotificationTypeResult     = "result"
	NotificationTypeFeedback   = "feedback"
	NotificationTypeSystem     = "system"
)

// Notification is a durable message targeted to a specific user. Only the read
// flag changes after creation.
type Notification struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	UserID          string    `gorm:"size:64;not null;index" json:"user_id"`
	Type            string    `gorm:"size:32;not null" json:"type"`
	Message         string    `gorm:"type:text;not null" json:"message"`
	RelatedEntityID *string   `gorm:"size:36" json:"related_entity_id,omitempty"`
	Read            bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
