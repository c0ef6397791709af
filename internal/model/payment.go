package model

import "time"

// PaymentRecord is append-only. Nothing updates or deletes these rows.
type PaymentRecord struct {
	ID                   uint      `json:"id" gorm:"primaryKey"`
	CreatedAt            time.Time `json:"created_at"`
	AccountID            uint      `json:"account_id" gorm:"index;not null"`
	StripeSubscriptionID string    `json:"stripe_subscription_id" gorm:"index"`
	Amount               int64     `json:"amount" gorm:"not null"`
	Currency             string    `json:"currency" gorm:"not null"`
	Status               string    `json:"status" gorm:"not null"`
	Reference            string    `json:"reference" gorm:"index;not null"`
	Attempt              int64     `json:"attempt"`
	StripeEventID        string    `json:"-" gorm:"uniqueIndex;not null"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// ProcessedEvent remembers every provider event applied, keyed by its id.
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey"`
	Type        string    `gorm:"not null"`
	ProcessedAt time.Time `gorm:"not null"`
}
