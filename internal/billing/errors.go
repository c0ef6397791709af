package billing

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature      = errors.New("invalid webhook signature")
	ErrMalformedEvent        = errors.New("malformed webhook event")
	ErrUnknownEventType      = errors.New("unknown webhook event type")
	ErrStaleEvent            = errors.New("event superseded by a newer applied event")
	ErrDuplicateEvent        = errors.New("event already processed")
	ErrSubscriptionCanceled  = errors.New("subscription already canceled")
	ErrIllegalTransition     = errors.New("illegal subscription status transition")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrAccountNotFound       = errors.New("account not found")
	ErrVersionConflict       = errors.New("subscription version conflict")
	ErrNoSubscriptionContext = errors.New("event carries no subscription to reconcile")
)

// ReconciliationError is the only failure that should make the webhook
// sender retry: account lookup, persistence or timeout problems.
type ReconciliationError struct {
	Op             string
	EventID        string
	SubscriptionID string
	Err            error
}

func (e *ReconciliationError) Error() string {
	if e.SubscriptionID != "" {
		return fmt.Sprintf("reconcile %s (event %s, subscription %s): %v", e.Op, e.EventID, e.SubscriptionID, e.Err)
	}
	return fmt.Sprintf("reconcile %s (event %s): %v", e.Op, e.EventID, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// IsAccepted reports whether err is an outcome the webhook sender should see
// as success: the event was ignored, stale or already applied.
func IsAccepted(err error) bool {
	return err == nil ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrStaleEvent) ||
		errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrSubscriptionCanceled) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrNoSubscriptionContext)
}
