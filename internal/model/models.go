package model

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&Plan{},
		&Subscription{},
		&PaymentRecord{},
		&ProcessedEvent{},
		&Notification{},
		&PlanningEvent{},
		&RSVP{},
		&BrandingSettings{},
	}
}
