package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// Notification is the transactional email outbox.
type Notification struct {
	gorm.Model
	AccountID  uint           `json:"account_id" gorm:"index"`
	Recipient  string         `json:"recipient" gorm:"not null"`
	TemplateID string         `json:"template_id" gorm:"not null"`
	Data       datatypes.JSON `json:"data"`
	Status     string         `json:"status" gorm:"index;not null;default:'pending'"`
	Attempts   int            `json:"attempts" gorm:"default:0"`
	LastError  string         `json:"last_error,omitempty" gorm:"type:text"`
	SentAt     *time.Time     `json:"sent_at"`
}
