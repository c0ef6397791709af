package billing

import (
	"context"
	"time"
)

// Store is the persistence the reconciler needs. Implementations must run fn
// inside one database transaction and hand it a Store bound to it.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Store) error) error
	// GetSubscription returns a snapshot with Exists=false when the provider
	// subscription id is unknown.
	GetSubscription(ctx context.Context, subscriptionID string) (Snapshot, error)
	// UpsertSubscription writes next only if the stored version still equals
	// expectedVersion (0 means "must not exist yet"). Otherwise it returns
	// ErrVersionConflict.
	UpsertSubscription(ctx context.Context, next State, expectedVersion int64) error
	// AppendPaymentRecord inserts once per provider event and reports whether
	// a row was written.
	AppendPaymentRecord(ctx context.Context, p Payment) (bool, error)
	// MarkEventProcessed returns ErrDuplicateEvent for an id already stored.
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	EnqueueNotification(ctx context.Context, n Notification) (uint, error)
	// FindAccount tries the account id, then the customer id, then the email.
	FindAccount(ctx context.Context, ref AccountRef) (Account, error)
}

// ProviderSubscription is the billing provider's authoritative view of a
// subscription, used to cross-check events that lack ownership metadata.
type ProviderSubscription struct {
	ID                string
	AccountID         uint
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	Plan              PlanRef
}

type BillingClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (ProviderSubscription, error)
}

// Notifier delivers an outbox notification after its transaction committed.
type Notifier interface {
	Deliver(ctx context.Context, id uint, n Notification) error
}

// Recorder receives reconciliation outcomes for metrics.
type Recorder interface {
	ReconcileOutcome(eventType, outcome string)
}
