package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/pkg/email"
)

var ErrAlreadySent = errors.New("notification already sent")

// Outbox is the notification persistence the dispatcher needs.
type Outbox interface {
	GetNotification(ctx context.Context, id uint) (*model.Notification, error)
	RetryableNotifications(ctx context.Context, maxAttempts int, minAge time.Duration, limit int) ([]model.Notification, error)
	MarkNotificationSent(ctx context.Context, id uint, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id uint, cause error) error
}

type Recorder interface {
	NotificationDelivered(template string, err error)
}

type Config struct {
	Outbox      Outbox
	Sender      email.Sender
	Clock       billing.Clock
	Logger      zerolog.Logger
	Metrics     Recorder
	MaxAttempts int
	// MinAge keeps the retry job away from rows whose first delivery may
	// still be in flight.
	MinAge    time.Duration
	BatchSize int
}

// Dispatcher delivers outbox rows through an email sender and records the
// result on the row.
type Dispatcher struct {
	outbox      Outbox
	sender      email.Sender
	clock       billing.Clock
	log         zerolog.Logger
	metrics     Recorder
	maxAttempts int
	minAge      time.Duration
	batchSize   int
}

var _ billing.Notifier = (*Dispatcher)(nil)

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = billing.RealClock{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Dispatcher{
		outbox:      cfg.Outbox,
		sender:      cfg.Sender,
		clock:       cfg.Clock,
		log:         cfg.Logger.With().Str("component", "notification").Logger(),
		metrics:     cfg.Metrics,
		maxAttempts: cfg.MaxAttempts,
		minAge:      cfg.MinAge,
		batchSize:   cfg.BatchSize,
	}
}

// Deliver sends n and marks outbox row id sent or failed. The send error is
// returned after the row is updated.
func (d *Dispatcher) Deliver(ctx context.Context, id uint, n billing.Notification) error {
	sendErr := d.sender.Send(ctx, n.Recipient, n.TemplateID, n.Data)
	if d.metrics != nil {
		d.metrics.NotificationDelivered(n.TemplateID, sendErr)
	}

	if sendErr != nil {
		if err := d.outbox.MarkNotificationFailed(ctx, id, sendErr); err != nil {
			d.log.Error().Err(err).Uint("notification_id", id).Msg("Failed to mark notification failed")
		}
		return fmt.Errorf("send %s to account %d: %w", n.TemplateID, n.AccountID, sendErr)
	}

	if err := d.outbox.MarkNotificationSent(ctx, id, d.clock.Now()); err != nil {
		d.log.Error().Err(err).Uint("notification_id", id).Msg("Failed to mark notification sent")
	}
	d.log.Info().
		Uint("notification_id", id).
		Uint("account_id", n.AccountID).
		Str("template", n.TemplateID).
		Msg("Notification sent")
	return nil
}

// Retry re-sends a single stored notification.
func (d *Dispatcher) Retry(ctx context.Context, id uint) error {
	row, err := d.outbox.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if row.Status == model.NotificationSent {
		return ErrAlreadySent
	}
	n, err := fromRow(*row)
	if err != nil {
		return err
	}
	return d.Deliver(ctx, row.ID, n)
}

// RetryPending re-sends unsent notifications under the attempt cap and
// reports how many went out.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	rows, err := d.outbox.RetryableNotifications(ctx, d.maxAttempts, d.minAge, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load retryable notifications: %w", err)
	}

	sent := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		n, err := fromRow(row)
		if err != nil {
			d.log.Error().Err(err).Uint("notification_id", row.ID).Msg("Undecodable notification skipped")
			continue
		}
		if err := d.Deliver(ctx, row.ID, n); err != nil {
			d.log.Warn().Err(err).
				Uint("notification_id", row.ID).
				Int("attempts", row.Attempts+1).
				Msg("Notification retry failed")
			continue
		}
		sent++
	}
	return sent, nil
}

func fromRow(row model.Notification) (billing.Notification, error) {
	data := map[string]any{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return billing.Notification{}, fmt.Errorf("decode notification %d: %w", row.ID, err)
		}
	}
	return billing.Notification{
		AccountID:  row.AccountID,
		Recipient:  row.Recipient,
		TemplateID: row.TemplateID,
		Data:       data,
	}, nil
}
