package billing

import (
	"fmt"
	"strings"

	"easyplanning_backend/pkg/entitlement"
)

// PlanCatalog resolves the plan an event refers to.
type PlanCatalog struct {
	byPrice map[string]entitlement.Tier
}

// NewPlanCatalog builds a catalog from a Stripe price id -> tier mapping.
func NewPlanCatalog(prices map[string]entitlement.Tier) *PlanCatalog {
	byPrice := make(map[string]entitlement.Tier, len(prices))
	for priceID, tier := range prices {
		byPrice[strings.TrimSpace(priceID)] = tier
	}
	return &PlanCatalog{byPrice: byPrice}
}

// Resolve prefers the price id, which follows plan changes made in the
// billing portal, and falls back to the plan name carried in metadata.
// Anything unrecognized degrades to the default tier with ok=false.
func (c *PlanCatalog) Resolve(ref PlanRef) (entitlement.Tier, bool) {
	if c != nil && ref.PriceID != "" {
		if tier, ok := c.byPrice[ref.PriceID]; ok {
			return tier, true
		}
	}
	if ref.Name != "" {
		if tier, ok := entitlement.ParseTier(ref.Name); ok {
			return tier, true
		}
	}
	return entitlement.DefaultTier, false
}

// PriceFor returns the configured price id for tier.
func (c *PlanCatalog) PriceFor(tier entitlement.Tier) (string, bool) {
	if c == nil {
		return "", false
	}
	for priceID, t := range c.byPrice {
		if t == tier {
			return priceID, true
		}
	}
	return "", false
}

// Reducer computes the next subscription state for an event. It has no side
// effects; the same snapshot and event always produce the same result.
type Reducer struct {
	Plans *PlanCatalog
}

func NewReducer(plans *PlanCatalog) Reducer {
	return Reducer{Plans: plans}
}

func (r Reducer) Apply(cur Snapshot, ev Event) (State, error) {
	meta := ev.Meta()
	if cur.Exists {
		if cur.Status == StatusCanceled {
			return cur.State, ErrSubscriptionCanceled
		}
		if meta.ID == cur.LastEventID {
			return cur.State, ErrDuplicateEvent
		}
		if meta.Created.Before(cur.LastEventAt) {
			return cur.State, ErrStaleEvent
		}
	}

	next := cur.State
	switch e := ev.(type) {
	case CheckoutCompleted:
		if !e.IsSubscription() {
			return cur.State, ErrNoSubscriptionContext
		}
		next.Status = StatusActive
		next.CancelAtPeriodEnd = false
		next.CancelEffectiveAt = nil
		r.applyPlan(&next, e.Plan, true)
	case SubscriptionCreated:
		r.applyChange(&next, cur.Exists, e.SubscriptionChange)
	case SubscriptionUpdated:
		r.applyChange(&next, cur.Exists, e.SubscriptionChange)
	case SubscriptionDeleted:
		next.Status = StatusCanceled
		next.Plan = entitlement.DefaultTier
		next.CancelAtPeriodEnd = false
		ended := meta.Created
		if e.EndedAt != nil {
			ended = *e.EndedAt
		}
		next.CancelEffectiveAt = &ended
	case InvoicePaid:
		if e.SubscriptionID == "" {
			return cur.State, ErrNoSubscriptionContext
		}
		next.Status = settled(next.CancelAtPeriodEnd)
		if e.PeriodEnd != nil {
			next.CurrentPeriodEnd = e.PeriodEnd
		}
		r.applyPlan(&next, e.Plan, !cur.Exists)
	case InvoicePaymentFailed:
		if e.SubscriptionID == "" {
			return cur.State, ErrNoSubscriptionContext
		}
		next.Status = StatusPastDue
		r.applyPlan(&next, e.Plan, !cur.Exists)
	default:
		return cur.State, fmt.Errorf("%w: %s", ErrUnknownEventType, meta.Type)
	}

	if !CanTransition(cur.Status, next.Status) {
		return cur.State, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur.Status, next.Status)
	}

	if id := ev.Subscription(); id != "" {
		next.SubscriptionID = id
	}
	if owner := ev.Owner(); owner.CustomerID != "" {
		next.CustomerID = owner.CustomerID
	}
	next.LastEventID = meta.ID
	next.LastEventAt = meta.Created
	return next, nil
}

func (r Reducer) applyChange(next *State, exists bool, e SubscriptionChange) {
	if e.CurrentPeriodEnd != nil {
		next.CurrentPeriodEnd = e.CurrentPeriodEnd
	}

	if e.CancelAtPeriodEnd {
		next.Status = StatusCanceling
		next.CancelAtPeriodEnd = true
		next.CancelEffectiveAt = next.CurrentPeriodEnd
	} else {
		resumed := next.Status == StatusCanceling
		next.CancelAtPeriodEnd = false
		next.CancelEffectiveAt = nil
		switch {
		case resumed:
			next.Status = StatusActive
		case !exists:
			next.Status = StatusActive
			if s := strings.ToLower(e.ProviderStatus); s == "past_due" || s == "unpaid" {
				next.Status = StatusPastDue
			}
		}
	}

	r.applyPlan(next, e.Plan, !exists)
}

// applyPlan replaces the plan when the event names one. required is set for
// events that establish a subscription and must leave it with some plan.
func (r Reducer) applyPlan(next *State, ref PlanRef, required bool) {
	if ref.Empty() {
		if required && next.Plan == "" {
			next.Plan = entitlement.DefaultTier
			flagReview(next, "event carried no plan")
		}
		return
	}
	tier, ok := r.Plans.Resolve(ref)
	next.Plan = tier
	if !ok {
		flagReview(next, fmt.Sprintf("unrecognized plan (name=%q price=%q)", ref.Name, ref.PriceID))
	}
}

func flagReview(s *State, reason string) {
	s.NeedsReview = true
	s.ReviewReason = reason
}

func settled(cancelAtPeriodEnd bool) Status {
	if cancelAtPeriodEnd {
		return StatusCanceling
	}
	return StatusActive
}
