package model

import "gorm.io/gorm"

// Plan is a sellable catalog entry. Each Stripe price maps to one tier.
type Plan struct {
	gorm.Model
	Tier            string `json:"tier" gorm:"uniqueIndex;not null"`
	Name            string `json:"name" gorm:"not null"`
	Description     string `json:"description"`
	PriceCents      int64  `json:"price_cents" gorm:"not null"`
	Currency        string `json:"currency" gorm:"not null;default:'usd'"`
	Interval        string `json:"interval" gorm:"not null;default:'month'"`
	StripeProductID string `json:"stripe_product_id"`
	StripePriceID   string `json:"stripe_price_id" gorm:"index"`
}
