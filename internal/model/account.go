package model

import (
	"strings"

	"gorm.io/gorm"
)

type Account struct {
	gorm.Model
	Email            string  `json:"email" gorm:"uniqueIndex;not null"`
	Password         string  `json:"-" gorm:"not null"`
	Name             string  `json:"name" gorm:"not null"`
	Slug             string  `json:"slug" gorm:"uniqueIndex;not null"`
	StripeCustomerID *string `json:"-" gorm:"uniqueIndex"`
	IsAdmin          bool    `json:"is_admin" gorm:"default:false"`

	// Relations
	Subscriptions []Subscription    `json:"-"`
	Events        []PlanningEvent   `json:"-"`
	Branding      *BrandingSettings `json:"-"`
}

// CustomerID returns the Stripe customer id or "" when the account has not
// checked out yet.
func (a *Account) CustomerID() string {
	if a.StripeCustomerID == nil {
		return ""
	}
	return *a.StripeCustomerID
}

func (a *Account) GetPublicProfile() map[string]interface{} {
	return map[string]interface{}{
		"id":         a.ID,
		"email":      a.Email,
		"name":       strings.TrimSpace(a.Name),
		"slug":       a.Slug,
		"is_admin":   a.IsAdmin,
		"created_at": a.CreatedAt,
	}
}
