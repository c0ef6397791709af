package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/testdb"
)

func newEvent(t *testing.T, s *Store, accountID uint, capacity int) *model.PlanningEvent {
	ev := &model.PlanningEvent{
		Title:     "Spring Gala",
		Slug:      "spring-gala",
		StartsAt:  t0,
		Capacity:  capacity,
		AccountID: accountID,
	}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	return ev
}

func TestEvents_CountAndDelete(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)

	ev := newEvent(t, s, acct.ID, 0)
	n, err := s.CountEvents(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := s.EventSlugExists(ctx, acct.ID, "spring-gala")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.ErrorIs(t, s.DeleteEvent(ctx, acct.ID+1, ev.ID), ErrEventNotFound)
	require.NoError(t, s.DeleteEvent(ctx, acct.ID, ev.ID))
	n, err = s.CountEvents(ctx, acct.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublicEvent(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)
	newEvent(t, s, acct.ID, 10)

	ev, err := s.PublicEvent(ctx, acct.Slug, "spring-gala")
	require.NoError(t, err)
	assert.Equal(t, "Spring Gala", ev.Title)
	assert.Equal(t, acct.ID, ev.Account.ID)

	_, err = s.PublicEvent(ctx, "someone-else", "spring-gala")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRSVP_CapacityWithoutWaitlist(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)
	ev := newEvent(t, s, acct.ID, 2)

	require.NoError(t, s.AddRSVP(ctx, ev.ID, &model.RSVP{Name: "Ann", Email: "ann@example.com", Guests: 1}, false))
	err := s.AddRSVP(ctx, ev.ID, &model.RSVP{Name: "Bob", Email: "bob@example.com"}, false)
	assert.ErrorIs(t, err, ErrEventFull)

	err = s.AddRSVP(ctx, ev.ID, &model.RSVP{Name: "Ann", Email: "ANN@example.com"}, false)
	assert.ErrorIs(t, err, ErrAlreadyRSVPed)
}

func TestRSVP_WaitlistPromotion(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)
	ev := newEvent(t, s, acct.ID, 2)

	ann := &model.RSVP{Name: "Ann", Email: "ann@example.com", Guests: 1}
	require.NoError(t, s.AddRSVP(ctx, ev.ID, ann, true))
	assert.Equal(t, model.RSVPGoing, ann.Status)

	big := &model.RSVP{Name: "Big Party", Email: "big@example.com", Guests: 4}
	require.NoError(t, s.AddRSVP(ctx, ev.ID, big, true))
	assert.Equal(t, model.RSVPWaitlisted, big.Status)

	bob := &model.RSVP{Name: "Bob", Email: "bob@example.com"}
	require.NoError(t, s.AddRSVP(ctx, ev.ID, bob, true))
	assert.Equal(t, model.RSVPWaitlisted, bob.Status)

	promoted, err := s.CancelRSVP(ctx, ev.ID, "ann@example.com")
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, "bob@example.com", promoted[0].Email)

	_, err = s.CancelRSVP(ctx, ev.ID, "ann@example.com")
	assert.ErrorIs(t, err, ErrRSVPNotFound)

	// Ann can reply again; one seat is still free.
	again := &model.RSVP{Name: "Ann", Email: "ann@example.com"}
	require.NoError(t, s.AddRSVP(ctx, ev.ID, again, true))
	assert.Equal(t, model.RSVPGoing, again.Status)
}

func TestBranding_DefaultAndSave(t *testing.T) {
	ctx := context.Background()
	db := testdb.New(t)
	acct := testdb.Account(t, db, "a@example.com")
	s := New(db)

	b, err := s.Branding(ctx, acct.ID)
	require.NoError(t, err)
	assert.Zero(t, b.ID)

	b.PrimaryColor = "#4f46e5"
	require.NoError(t, s.SaveBranding(ctx, b))

	again, err := s.Branding(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "#4f46e5", again.PrimaryColor)
}
