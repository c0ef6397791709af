package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/repository"
	"easyplanning_backend/internal/testdb"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Deliver(ctx context.Context, id uint, n billing.Notification) error {
	return m.Called(id, n.TemplateID, n.Recipient).Error(0)
}

type mockRetrier struct {
	mock.Mock
}

func (m *mockRetrier) RetryPending(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

type cronRuns map[string]int

func (r cronRuns) CronRun(job string, err error) {
	if err != nil {
		job += ":error"
	}
	r[job]++
}

var now = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func canceling(t *testing.T, store *repository.Store, email, subID string, endsAt time.Time) model.Account {
	acct := testdb.Account(t, store.DB(), email)
	sub := model.Subscription{
		AccountID:            acct.ID,
		StripeSubscriptionID: subID,
		Plan:                 "pro",
		Status:               string(billing.StatusCanceling),
		CancelAtPeriodEnd:    true,
		CancelEffectiveAt:    &endsAt,
	}
	require.NoError(t, store.DB().Create(&sub).Error)
	return acct
}

func TestSendCancellationReminders(t *testing.T) {
	store := repository.New(testdb.New(t))
	notifier := &mockNotifier{}

	sevenDays := canceling(t, store, "seven@example.com", "sub_7", now.AddDate(0, 0, 7).Add(5*time.Hour))
	threeDays := canceling(t, store, "three@example.com", "sub_3", now.AddDate(0, 0, 3))
	canceling(t, store, "five@example.com", "sub_5", now.AddDate(0, 0, 5))

	notifier.On("Deliver", mock.Anything, billing.TemplateSubscriptionEnding, sevenDays.Email).Return(nil).Once()
	notifier.On("Deliver", mock.Anything, billing.TemplateSubscriptionEnding, threeDays.Email).Return(errors.New("smtp down")).Once()

	s, err := New(Config{
		Store:    store,
		Notifier: notifier,
		Clock:    billing.FixedClock{FixedTime: now},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, s.SendCancellationReminders(context.Background()))
	// A second run the same day must not queue duplicates.
	require.NoError(t, s.SendCancellationReminders(context.Background()))
	notifier.AssertExpectations(t)

	var rows []model.Notification
	require.NoError(t, store.DB().Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, sevenDays.ID, rows[0].AccountID)
	assert.Contains(t, string(rows[0].Data), `"DaysLeft":7`)
	assert.Contains(t, string(rows[0].Data), `"PlanName":"Pro"`)
	assert.Equal(t, threeDays.ID, rows[1].AccountID)
	assert.Contains(t, string(rows[1].Data), `"DaysLeft":3`)
}

func TestSendCancellationReminders_SkipsActive(t *testing.T) {
	store := repository.New(testdb.New(t))
	acct := testdb.Account(t, store.DB(), "active@example.com")
	endsAt := now.AddDate(0, 0, 7)
	require.NoError(t, store.DB().Create(&model.Subscription{
		AccountID:            acct.ID,
		StripeSubscriptionID: "sub_active",
		Plan:                 "pro",
		Status:               string(billing.StatusActive),
		CurrentPeriodEnd:     &endsAt,
	}).Error)

	s, err := New(Config{Store: store, Clock: billing.FixedClock{FixedTime: now}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.SendCancellationReminders(context.Background()))

	var count int64
	store.DB().Model(&model.Notification{}).Count(&count)
	assert.Zero(t, count)
}

func TestRunRecordsOutcome(t *testing.T) {
	retrier := &mockRetrier{}
	retrier.On("RetryPending").Return(2, nil).Once()
	retrier.On("RetryPending").Return(0, errors.New("db gone")).Once()
	runs := cronRuns{}

	s, err := New(Config{Retrier: retrier, Logger: zerolog.Nop(), Metrics: runs})
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)

	s.run(JobNotificationRetry, s.RetryNotifications)
	s.run(JobNotificationRetry, s.RetryNotifications)

	assert.Equal(t, 1, runs[JobNotificationRetry])
	assert.Equal(t, 1, runs[JobNotificationRetry+":error"])
	retrier.AssertExpectations(t)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(Config{Retrier: &mockRetrier{}, RetrySchedule: "every now and then", Logger: zerolog.Nop()})
	assert.Error(t, err)
}
