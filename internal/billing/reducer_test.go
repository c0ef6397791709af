package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easyplanning_backend/pkg/entitlement"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testReducer() Reducer {
	return NewReducer(NewPlanCatalog(map[string]entitlement.Tier{
		"price_premium":  entitlement.PremiumTier,
		"price_pro":      entitlement.ProTier,
		"price_business": entitlement.BusinessTier,
	}))
}

func env(id, typ string, at time.Time) Envelope {
	return Envelope{ID: id, Type: typ, Created: at}
}

func activeSnapshot(plan entitlement.Tier) Snapshot {
	return Snapshot{
		State: State{
			AccountID:      7,
			SubscriptionID: "sub_1",
			CustomerID:     "cus_1",
			Plan:           plan,
			Status:         StatusActive,
			LastEventID:    "evt_0",
			LastEventAt:    t0,
		},
		Version: 1,
		Exists:  true,
	}
}

func failed(id string, at time.Time) InvoicePaymentFailed {
	return InvoicePaymentFailed{Invoice{
		Envelope:       env(id, TypeInvoicePaymentFailed, at),
		InvoiceID:      "in_" + id,
		SubscriptionID: "sub_1",
		Amount:         2900,
		Currency:       "usd",
		AttemptCount:   1,
	}}
}

func paid(id string, at time.Time) InvoicePaid {
	return InvoicePaid{Invoice{
		Envelope:       env(id, TypeInvoicePaid, at),
		InvoiceID:      "in_" + id,
		SubscriptionID: "sub_1",
		Amount:         2900,
		Currency:       "usd",
		AttemptCount:   1,
	}}
}

func TestApply_PaymentFailedThenSucceeded(t *testing.T) {
	r := testReducer()
	cur := activeSnapshot(entitlement.PremiumTier)

	next, err := r.Apply(cur, failed("evt_1", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, next.Status)
	assert.Equal(t, entitlement.PremiumTier, next.Plan)

	cur = Snapshot{State: next, Version: 2, Exists: true}
	next, err = r.Apply(cur, paid("evt_2", t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, "evt_2", next.LastEventID)
}

func TestApply_LateEarlierSuccessDoesNotRegress(t *testing.T) {
	r := testReducer()
	cur := activeSnapshot(entitlement.PremiumTier)

	next, err := r.Apply(cur, failed("evt_fail", t0.Add(2*time.Minute)))
	require.NoError(t, err)

	cur = Snapshot{State: next, Version: 2, Exists: true}
	after, err := r.Apply(cur, paid("evt_paid_early", t0.Add(time.Minute)))
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, StatusPastDue, after.Status)
}

func TestApply_SameEventTwiceIsDuplicate(t *testing.T) {
	r := testReducer()
	ev := failed("evt_1", t0.Add(time.Minute))

	first, err := r.Apply(activeSnapshot(entitlement.PremiumTier), ev)
	require.NoError(t, err)

	second, err := r.Apply(Snapshot{State: first, Version: 2, Exists: true}, ev)
	assert.ErrorIs(t, err, ErrDuplicateEvent)
	assert.Equal(t, first, second)
}

func TestApply_EqualTimestampDistinctEventsApply(t *testing.T) {
	r := testReducer()
	cur := activeSnapshot(entitlement.PremiumTier)

	next, err := r.Apply(cur, failed("evt_same_second", t0))
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, next.Status)
}

func TestApply_CancelAtPeriodEnd(t *testing.T) {
	r := testReducer()
	periodEnd := t0.Add(30 * 24 * time.Hour)
	ev := SubscriptionUpdated{SubscriptionChange{
		Envelope:          env("evt_1", TypeSubscriptionUpdated, t0.Add(time.Minute)),
		SubscriptionID:    "sub_1",
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  &periodEnd,
	}}

	next, err := r.Apply(activeSnapshot(entitlement.ProTier), ev)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceling, next.Status)
	require.NotNil(t, next.CancelEffectiveAt)
	assert.True(t, periodEnd.Equal(*next.CancelEffectiveAt))
	assert.Equal(t, entitlement.ProTier, next.Plan)
}

func TestApply_ResumeClearsCancellation(t *testing.T) {
	r := testReducer()
	periodEnd := t0.Add(30 * 24 * time.Hour)
	cur := activeSnapshot(entitlement.ProTier)
	cur.Status = StatusCanceling
	cur.CancelAtPeriodEnd = true
	cur.CancelEffectiveAt = &periodEnd

	next, err := r.Apply(cur, SubscriptionUpdated{SubscriptionChange{
		Envelope:       env("evt_1", TypeSubscriptionUpdated, t0.Add(time.Minute)),
		SubscriptionID: "sub_1",
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, next.Status)
	assert.False(t, next.CancelAtPeriodEnd)
	assert.Nil(t, next.CancelEffectiveAt)
}

func TestApply_PlanChangeKeepsStatus(t *testing.T) {
	r := testReducer()
	cur := activeSnapshot(entitlement.PremiumTier)
	cur.Status = StatusPastDue

	next, err := r.Apply(cur, SubscriptionUpdated{SubscriptionChange{
		Envelope:       env("evt_1", TypeSubscriptionUpdated, t0.Add(time.Minute)),
		SubscriptionID: "sub_1",
		Plan:           PlanRef{PriceID: "price_business"},
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusPastDue, next.Status)
	assert.Equal(t, entitlement.BusinessTier, next.Plan)
	assert.False(t, next.NeedsReview)
}

func TestApply_DeletedResetsToDefaultTier(t *testing.T) {
	r := testReducer()
	next, err := r.Apply(activeSnapshot(entitlement.BusinessTier), SubscriptionDeleted{
		Envelope:       env("evt_1", TypeSubscriptionDeleted, t0.Add(time.Minute)),
		SubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, next.Status)
	assert.Equal(t, entitlement.DefaultTier, next.Plan)
	assert.Equal(t, entitlement.For(entitlement.DefaultTier).MaxEvents, next.Limits().MaxEvents)
	require.NotNil(t, next.CancelEffectiveAt)
	assert.True(t, t0.Add(time.Minute).Equal(*next.CancelEffectiveAt))
}

func TestApply_CanceledIsTerminal(t *testing.T) {
	r := testReducer()
	cur := activeSnapshot(entitlement.BasicTier)
	cur.Status = StatusCanceled

	for _, ev := range []Event{
		paid("evt_1", t0.Add(time.Hour)),
		CheckoutCompleted{
			Envelope:       env("evt_2", TypeCheckoutCompleted, t0.Add(time.Hour)),
			Mode:           "subscription",
			SubscriptionID: "sub_1",
			Plan:           PlanRef{Name: "pro"},
		},
	} {
		next, err := r.Apply(cur, ev)
		assert.ErrorIs(t, err, ErrSubscriptionCanceled)
		assert.Equal(t, StatusCanceled, next.Status)
	}
}

func TestApply_CheckoutCreatesActiveSubscription(t *testing.T) {
	r := testReducer()
	next, err := r.Apply(Snapshot{}, CheckoutCompleted{
		Envelope:       env("evt_1", TypeCheckoutCompleted, t0),
		Mode:           "subscription",
		SubscriptionID: "sub_new",
		Account:        AccountRef{AccountID: 3, CustomerID: "cus_3"},
		Plan:           PlanRef{Name: "Pro"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, next.Status)
	assert.Equal(t, entitlement.ProTier, next.Plan)
	assert.Equal(t, "sub_new", next.SubscriptionID)
	assert.Equal(t, "cus_3", next.CustomerID)
	assert.Equal(t, "evt_1", next.LastEventID)
}

func TestApply_UnknownPlanDegradesAndFlags(t *testing.T) {
	r := testReducer()
	next, err := r.Apply(Snapshot{}, CheckoutCompleted{
		Envelope:       env("evt_1", TypeCheckoutCompleted, t0),
		Mode:           "subscription",
		SubscriptionID: "sub_new",
		Plan:           PlanRef{Name: "platinum"},
	})
	require.NoError(t, err)
	assert.Equal(t, entitlement.DefaultTier, next.Plan)
	assert.True(t, next.NeedsReview)
	assert.Contains(t, next.ReviewReason, "platinum")
}

func TestApply_PaymentSucceededWhileCancelingStaysCanceling(t *testing.T) {
	r := testReducer()
	cur := activeSnapshot(entitlement.PremiumTier)
	cur.Status = StatusPastDue
	cur.CancelAtPeriodEnd = true

	next, err := r.Apply(cur, paid("evt_1", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, StatusCanceling, next.Status)
}

func TestApply_OneOffCheckoutHasNoSubscription(t *testing.T) {
	r := testReducer()
	_, err := r.Apply(Snapshot{}, CheckoutCompleted{
		Envelope: env("evt_1", TypeCheckoutCompleted, t0),
		Mode:     "payment",
	})
	assert.ErrorIs(t, err, ErrNoSubscriptionContext)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusActive, StatusPastDue))
	assert.True(t, CanTransition(StatusPastDue, StatusActive))
	assert.True(t, CanTransition(StatusCanceling, StatusCanceled))
	assert.True(t, CanTransition("", StatusActive))
	assert.False(t, CanTransition(StatusCanceled, StatusActive))
	assert.False(t, CanTransition(StatusCanceled, StatusCanceled))
}

func TestPlanCatalogResolve(t *testing.T) {
	c := NewPlanCatalog(map[string]entitlement.Tier{"price_pro": entitlement.ProTier})

	tier, ok := c.Resolve(PlanRef{Name: "nonsense", PriceID: "price_pro"})
	assert.True(t, ok)
	assert.Equal(t, entitlement.ProTier, tier)

	tier, ok = c.Resolve(PlanRef{Name: "premium", PriceID: "price_pro"})
	assert.True(t, ok)
	assert.Equal(t, entitlement.ProTier, tier, "price wins over a stale plan name")

	tier, ok = c.Resolve(PlanRef{Name: "premium", PriceID: "price_missing"})
	assert.True(t, ok)
	assert.Equal(t, entitlement.PremiumTier, tier)

	tier, ok = c.Resolve(PlanRef{PriceID: "price_missing"})
	assert.False(t, ok)
	assert.Equal(t, entitlement.DefaultTier, tier)

	price, ok := c.PriceFor(entitlement.ProTier)
	assert.True(t, ok)
	assert.Equal(t, "price_pro", price)
}
