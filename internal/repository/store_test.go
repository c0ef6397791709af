package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/testdb"
	"easyplanning_backend/pkg/entitlement"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func state(accountID uint) billing.State {
	return billing.State{
		AccountID:      accountID,
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Plan:           entitlement.ProTier,
		Status:         billing.StatusActive,
		LastEventID:    "evt_1",
		LastEventAt:    t0,
	}
}

func TestGetSubscription_Missing(t *testing.T) {
	s := New(testdb.New(t))
	snap, err := s.GetSubscription(context.Background(), "sub_nope")
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Zero(t, snap.Version)
}

func TestUpsertSubscription_InsertThenCAS(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)

	require.NoError(t, s.UpsertSubscription(ctx, state(acct.ID), 0))

	snap, err := s.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, entitlement.ProTier, snap.Plan)
	assert.True(t, t0.Equal(snap.LastEventAt))

	var row model.Subscription
	require.NoError(t, db.First(&row, "stripe_subscription_id = ?", "sub_1").Error)
	assert.Equal(t, entitlement.For(entitlement.ProTier).MaxEvents, row.MaxEvents)
	assert.Contains(t, string(row.Features), string(entitlement.CustomBranding))

	// Second insert of the same id loses.
	assert.ErrorIs(t, s.UpsertSubscription(ctx, state(acct.ID), 0), billing.ErrVersionConflict)

	next := snap.State
	next.Status = billing.StatusPastDue
	next.LastEventID = "evt_2"
	require.NoError(t, s.UpsertSubscription(ctx, next, 1))

	// A writer still holding version 1 is rejected.
	assert.ErrorIs(t, s.UpsertSubscription(ctx, next, 1), billing.ErrVersionConflict)

	snap, err = s.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, billing.StatusPastDue, snap.Status)
}

func TestUpsertSubscription_LinksCustomer(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)

	require.NoError(t, s.UpsertSubscription(ctx, state(acct.ID), 0))

	found, err := s.FindAccount(ctx, billing.AccountRef{CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, acct.ID, found.ID)
	assert.Equal(t, "cus_1", found.CustomerID)
}

func TestMarkEventProcessed_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := New(testdb.New(t))

	require.NoError(t, s.MarkEventProcessed(ctx, "evt_1", billing.TypeInvoicePaid))
	assert.ErrorIs(t, s.MarkEventProcessed(ctx, "evt_1", billing.TypeInvoicePaid), billing.ErrDuplicateEvent)
}

func TestAppendPaymentRecord_OncePerEvent(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	s := New(db)
	p := billing.Payment{
		AccountID:  1,
		Amount:     2900,
		Currency:   "usd",
		Status:     billing.PaymentPaid,
		Reference:  "in_1",
		Attempt:    1,
		EventID:    "evt_1",
		OccurredAt: t0,
	}

	wrote, err := s.AppendPaymentRecord(ctx, p)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.AppendPaymentRecord(ctx, p)
	require.NoError(t, err)
	assert.False(t, wrote)

	var count int64
	db.Model(&model.PaymentRecord{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	s := New(db)
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx billing.Store) error {
		require.NoError(t, tx.MarkEventProcessed(ctx, "evt_1", billing.TypeInvoicePaid))
		_, err := tx.EnqueueNotification(ctx, billing.Notification{Recipient: "a@example.com", TemplateID: "x"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	db.Model(&model.ProcessedEvent{}).Count(&count)
	assert.Zero(t, count)
	db.Model(&model.Notification{}).Count(&count)
	assert.Zero(t, count)
}

func TestFindAccount_FallsBackThroughHints(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "planner@example.com")
	s := New(db)

	found, err := s.FindAccount(ctx, billing.AccountRef{AccountID: 999, Email: "planner@example.com"})
	require.NoError(t, err)
	assert.Equal(t, acct.ID, found.ID)

	_, err = s.FindAccount(ctx, billing.AccountRef{CustomerID: "cus_unknown"})
	assert.ErrorIs(t, err, billing.ErrAccountNotFound)
}

func TestNotificationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(testdb.New(t))

	id, err := s.EnqueueNotification(ctx, billing.Notification{
		AccountID:  1,
		Recipient:  "a@example.com",
		TemplateID: billing.TemplatePaymentFailed,
		Data:       map[string]any{"Amount": "29.00 USD"},
	})
	require.NoError(t, err)

	require.NoError(t, s.MarkNotificationFailed(ctx, id, errors.New("smtp down")))
	failed, err := s.FailedNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "smtp down", failed[0].LastError)
	assert.Equal(t, 1, failed[0].Attempts)

	retry, err := s.RetryableNotifications(ctx, 3, time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, retry, 1)

	require.NoError(t, s.MarkNotificationSent(ctx, id, t0))
	retry, err = s.RetryableNotifications(ctx, 3, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, retry)

	n, err := s.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSent, n.Status)
	assert.JSONEq(t, `{"Amount": "29.00 USD"}`, string(n.Data))
}

func TestReviewQueue(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)

	st := state(acct.ID)
	st.NeedsReview = true
	st.ReviewReason = "unrecognized plan"
	require.NoError(t, s.UpsertSubscription(ctx, st, 0))

	flagged, err := s.ListFlagged(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "a@example.com", flagged[0].Account.Email)

	require.NoError(t, s.ClearReview(ctx, flagged[0].ID))
	assert.ErrorIs(t, s.ClearReview(ctx, flagged[0].ID), billing.ErrSubscriptionNotFound)

	snap, err := s.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.False(t, snap.NeedsReview)
	assert.Equal(t, int64(2), snap.Version)
}

func TestEndingBetween(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)

	ends := t0.Add(7 * 24 * time.Hour)
	st := state(acct.ID)
	st.Status = billing.StatusCanceling
	st.CancelAtPeriodEnd = true
	st.CancelEffectiveAt = &ends
	require.NoError(t, s.UpsertSubscription(ctx, st, 0))

	out, err := s.EndingBetween(ctx, ends.Add(-time.Hour), ends.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = s.EndingBetween(ctx, ends.Add(time.Hour), ends.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCurrentSubscription_PrefersLive(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)

	old := state(acct.ID)
	old.SubscriptionID = "sub_old"
	old.Status = billing.StatusCanceled
	require.NoError(t, s.UpsertSubscription(ctx, old, 0))
	require.NoError(t, s.UpsertSubscription(ctx, state(acct.ID), 0))

	cur, err := s.CurrentSubscription(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "sub_1", cur.StripeSubscriptionID)

	none, err := s.CurrentSubscription(ctx, acct.ID+1)
	require.NoError(t, err)
	assert.Nil(t, none)
}
