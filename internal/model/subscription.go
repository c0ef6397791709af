package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription is one billing relationship with the payment provider. Rows
// are never reactivated once canceled; a new checkout creates a new row.
type Subscription struct {
	gorm.Model
	AccountID            uint       `json:"account_id" gorm:"index;not null"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" gorm:"uniqueIndex;not null"`
	StripeCustomerID     string     `json:"-" gorm:"index"`
	Plan                 string     `json:"plan" gorm:"not null;default:'basic'"`
	Status               string     `json:"status" gorm:"index;not null"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end" gorm:"default:false"`
	CancelEffectiveAt    *time.Time `json:"cancel_effective_at"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`

	// Last applied provider event, for ordering and replay checks.
	LastEventID string    `json:"-"`
	LastEventAt time.Time `json:"-"`
	Version     int64     `json:"-" gorm:"not null;default:0"`

	NeedsReview  bool   `json:"needs_review" gorm:"index;default:false"`
	ReviewReason string `json:"review_reason,omitempty"`

	StartedNotified bool `json:"-" gorm:"default:false"`

	// Entitlement computed from Plan at every write.
	MaxEvents int            `json:"max_events"`
	Features  datatypes.JSON `json:"features"`

	// Relations
	Account Account `json:"-" gorm:"foreignKey:AccountID"`
}
