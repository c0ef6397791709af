package model

import (
	"time"

	"gorm.io/gorm"
)

type PlanningEvent struct {
	gorm.Model
	Title       string    `json:"title" gorm:"not null"`
	Slug        string    `json:"slug" gorm:"uniqueIndex:idx_account_event_slug;not null"`
	Description string    `json:"description" gorm:"type:text"`
	Venue       string    `json:"venue"`
	StartsAt    time.Time `json:"starts_at" gorm:"not null"`
	Capacity    int       `json:"capacity"`

	AccountID uint `json:"account_id" gorm:"uniqueIndex:idx_account_event_slug"`

	// Relations
	RSVPs   []RSVP  `json:"rsvps,omitempty" gorm:"foreignKey:EventID"`
	Account Account `json:"-" gorm:"foreignKey:AccountID"`
}

const (
	RSVPGoing      = "going"
	RSVPWaitlisted = "waitlisted"
)

type RSVP struct {
	gorm.Model
	EventID uint   `json:"event_id" gorm:"index;uniqueIndex:idx_event_guest"`
	Name    string `json:"name" gorm:"not null"`
	Email   string `json:"email" gorm:"not null;uniqueIndex:idx_event_guest"`
	Guests  int    `json:"guests" gorm:"default:0"`
	Status  string `json:"status" gorm:"default:'going'"`
}

// Seats is the number of places an RSVP takes.
func (r *RSVP) Seats() int {
	return 1 + r.Guests
}
