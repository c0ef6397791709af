package billing

import "time"

// Stripe event types handled by the dispatcher.
const (
	TypeCheckoutCompleted    = "checkout.session.completed"
	TypeSubscriptionCreated  = "customer.subscription.created"
	TypeSubscriptionUpdated  = "customer.subscription.updated"
	TypeSubscriptionDeleted  = "customer.subscription.deleted"
	TypeInvoicePaid          = "invoice.payment_succeeded"
	TypeInvoicePaymentFailed = "invoice.payment_failed"
)

// Event is a validated webhook event. Exactly one of the concrete types below
// implements it; the reducer switches on them.
type Event interface {
	Meta() Envelope
	Subscription() string
	Owner() AccountRef
}

type Envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e Envelope) Meta() Envelope { return e }

// PlanRef is what an event says about the plan. Name comes from metadata,
// PriceID from the first subscription item.
type PlanRef struct {
	Name    string
	PriceID string
}

func (p PlanRef) Empty() bool {
	return p.Name == "" && p.PriceID == ""
}

type CheckoutCompleted struct {
	Envelope
	SessionID      string
	Mode           string
	SubscriptionID string
	Account        AccountRef
	Plan           PlanRef
	AmountTotal    int64
	Currency       string
	PaymentStatus  string
}

func (e CheckoutCompleted) Subscription() string { return e.SubscriptionID }
func (e CheckoutCompleted) Owner() AccountRef    { return e.Account }

// IsSubscription reports whether the session started a recurring plan, as
// opposed to a one-off purchase.
func (e CheckoutCompleted) IsSubscription() bool {
	return e.Mode == "subscription"
}

type SubscriptionChange struct {
	Envelope
	SubscriptionID    string
	Account           AccountRef
	ProviderStatus    string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	Plan              PlanRef
}

func (e SubscriptionChange) Subscription() string { return e.SubscriptionID }
func (e SubscriptionChange) Owner() AccountRef    { return e.Account }

type SubscriptionCreated struct{ SubscriptionChange }
type SubscriptionUpdated struct{ SubscriptionChange }

type SubscriptionDeleted struct {
	Envelope
	SubscriptionID string
	Account        AccountRef
	EndedAt        *time.Time
}

func (e SubscriptionDeleted) Subscription() string { return e.SubscriptionID }
func (e SubscriptionDeleted) Owner() AccountRef    { return e.Account }

type Invoice struct {
	Envelope
	InvoiceID      string
	SubscriptionID string
	Account        AccountRef
	Amount         int64
	Currency       string
	AttemptCount   int64
	PeriodEnd      *time.Time
	NextAttempt    *time.Time
	Plan           PlanRef
}

func (e Invoice) Subscription() string { return e.SubscriptionID }
func (e Invoice) Owner() AccountRef    { return e.Account }

type InvoicePaid struct{ Invoice }
type InvoicePaymentFailed struct{ Invoice }

// UnknownEvent is any type the dispatcher does not handle.
type UnknownEvent struct {
	Envelope
}

func (e UnknownEvent) Subscription() string { return "" }
func (e UnknownEvent) Owner() AccountRef    { return AccountRef{} }
