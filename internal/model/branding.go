package model

import "gorm.io/gorm"

type BrandingSettings struct {
	gorm.Model
	AccountID     uint   `json:"account_id" gorm:"uniqueIndex;not null"`
	PrimaryColor  string `json:"primary_color"`
	AccentColor   string `json:"accent_color"`
	LogoURL       string `json:"logo_url"`
	LogoKey       string `json:"-"`
	FooterText    string `json:"footer_text"`
	HidePoweredBy bool   `json:"hide_powered_by" gorm:"default:false"`
}
