package billing

import (
	"time"

	"easyplanning_backend/pkg/entitlement"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCanceling Status = "canceling"
	StatusCanceled  Status = "canceled"
)

// transitions is the directed status graph. The zero status is a subscription
// the store has never seen. Canceled has no outgoing edges.
var transitions = map[Status]map[Status]bool{
	"": {
		StatusActive:    true,
		StatusPastDue:   true,
		StatusCanceling: true,
		StatusCanceled:  true,
	},
	StatusActive: {
		StatusActive:    true,
		StatusPastDue:   true,
		StatusCanceling: true,
		StatusCanceled:  true,
	},
	StatusPastDue: {
		StatusPastDue:   true,
		StatusActive:    true,
		StatusCanceling: true,
		StatusCanceled:  true,
	},
	StatusCanceling: {
		StatusCanceling: true,
		StatusActive:    true,
		StatusPastDue:   true,
		StatusCanceled:  true,
	},
	StatusCanceled: {},
}

// CanTransition reports whether the status graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Entitled reports whether the status still grants the plan's limits.
func (s Status) Entitled() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceling:
		return true
	default:
		return false
	}
}

// State is the reconciled view of one billing relationship.
type State struct {
	AccountID         uint
	SubscriptionID    string
	CustomerID        string
	Plan              entitlement.Tier
	Status            Status
	CancelAtPeriodEnd bool
	CancelEffectiveAt *time.Time
	CurrentPeriodEnd  *time.Time
	LastEventID       string
	LastEventAt       time.Time
	NeedsReview       bool
	ReviewReason      string
	// StartedNotified is set once the subscription_started email is queued.
	StartedNotified bool
}

// Limits is the entitlement derived from the current plan.
func (s State) Limits() entitlement.Limits {
	return entitlement.For(s.Plan)
}

// Snapshot is a State as read from the store, with the version used for the
// compare-and-swap on write.
type Snapshot struct {
	State
	Version int64
	Exists  bool
}

type Account struct {
	ID         uint
	Email      string
	Name       string
	CustomerID string
}

// AccountRef carries every hint an event offers about its owner.
type AccountRef struct {
	AccountID  uint
	CustomerID string
	Email      string
}

func (r AccountRef) Empty() bool {
	return r.AccountID == 0 && r.CustomerID == "" && r.Email == ""
}

type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

// Payment is an append-only receipt of a settled payment attempt.
type Payment struct {
	AccountID      uint
	SubscriptionID string
	Amount         int64
	Currency       string
	Status         PaymentStatus
	Reference      string
	Attempt        int64
	EventID        string
	OccurredAt     time.Time
}

// Notification is a transactional email decided by a transition.
type Notification struct {
	AccountID  uint
	Recipient  string
	TemplateID string
	Data       map[string]any
}
