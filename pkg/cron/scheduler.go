package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
)

const (
	JobNotificationRetry = "notification_retry"
	JobCancelReminders   = "cancellation_reminders"

	reminderSchedule = "0 9 * * *"
)

// ReminderDays are the days before cancellation takes effect on which the
// account owner is reminded.
var ReminderDays = []int{7, 3}

type Retrier interface {
	RetryPending(ctx context.Context) (int, error)
}

type ReminderStore interface {
	EndingBetween(ctx context.Context, from, to time.Time) ([]model.Subscription, error)
	NotificationExists(ctx context.Context, accountID uint, templateID string, since time.Time) (bool, error)
	EnqueueNotification(ctx context.Context, n billing.Notification) (uint, error)
}

type Recorder interface {
	CronRun(job string, err error)
}

type Config struct {
	RetrySchedule string
	Retrier       Retrier
	Store         ReminderStore
	Notifier      billing.Notifier
	Clock         billing.Clock
	Logger        zerolog.Logger
	Metrics       Recorder
	JobTimeout    time.Duration
}

// Scheduler runs the background jobs of the billing pipeline.
type Scheduler struct {
	cron     *cron.Cron
	retrier  Retrier
	store    ReminderStore
	notifier billing.Notifier
	clock    billing.Clock
	log      zerolog.Logger
	metrics  Recorder
	timeout  time.Duration
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Clock == nil {
		cfg.Clock = billing.RealClock{}
	}
	if cfg.RetrySchedule == "" {
		cfg.RetrySchedule = "@every 5m"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		retrier:  cfg.Retrier,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		log:      cfg.Logger.With().Str("component", "cron").Logger(),
		metrics:  cfg.Metrics,
		timeout:  cfg.JobTimeout,
	}

	if cfg.Retrier != nil {
		if _, err := s.cron.AddFunc(cfg.RetrySchedule, func() { s.run(JobNotificationRetry, s.RetryNotifications) }); err != nil {
			return nil, err
		}
	}
	if cfg.Store != nil {
		if _, err := s.cron.AddFunc(reminderSchedule, func() { s.run(JobCancelReminders, s.SendCancellationReminders) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Cron scheduler started")
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) run(job string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.CronRun(job, err)
	}
	if err != nil {
		s.log.Error().Err(err).Str("job", job).Msg("Cron job failed")
	}
}

func (s *Scheduler) RetryNotifications(ctx context.Context) error {
	sent, err := s.retrier.RetryPending(ctx)
	if sent > 0 {
		s.log.Info().Int("sent", sent).Msg("Retried pending notifications")
	}
	return err
}

// SendCancellationReminders warns owners of canceling subscriptions whose
// cancellation takes effect in one of ReminderDays.
func (s *Scheduler) SendCancellationReminders(ctx context.Context) error {
	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var firstErr error
	for _, days := range ReminderDays {
		from := today.AddDate(0, 0, days)
		subs, err := s.store.EndingBetween(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			s.log.Error().Err(err).Int("days", days).Msg("Error fetching ending subscriptions")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		s.log.Info().Int("count", len(subs)).Int("days", days).Msg("Found subscriptions ending soon")
		for _, sub := range subs {
			if err := s.remind(ctx, sub, days, today); err != nil {
				s.log.Error().Err(err).
					Str("subscription_id", sub.StripeSubscriptionID).
					Msg("Error sending cancellation reminder")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (s *Scheduler) remind(ctx context.Context, sub model.Subscription, days int, today time.Time) error {
	if sub.Account.Email == "" {
		return nil
	}
	sent, err := s.store.NotificationExists(ctx, sub.AccountID, billing.TemplateSubscriptionEnding, today)
	if err != nil || sent {
		return err
	}

	data := map[string]any{
		"Name":     sub.Account.Name,
		"PlanName": cases.Title(language.English).String(sub.Plan),
		"DaysLeft": days,
	}
	if sub.CancelEffectiveAt != nil {
		data["EffectiveAt"] = sub.CancelEffectiveAt.UTC().Format("January 2, 2006")
	}
	n := billing.Notification{
		AccountID:  sub.AccountID,
		Recipient:  sub.Account.Email,
		TemplateID: billing.TemplateSubscriptionEnding,
		Data:       data,
	}
	id, err := s.store.EnqueueNotification(ctx, n)
	if err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.Deliver(ctx, id, n); err != nil {
			s.log.Warn().Err(err).Uint("notification_id", id).Msg("Reminder delivery failed, left for retry")
		}
	}
	return nil
}
