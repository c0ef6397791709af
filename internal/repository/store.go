package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/pkg/entitlement"
)

// Store is the gorm-backed persistence for billing. A Store handed to a
// Transaction callback is bound to that transaction.
type Store struct {
	db *gorm.DB
}

var _ billing.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Transaction(ctx context.Context, fn func(tx billing.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) GetSubscription(ctx context.Context, subscriptionID string) (billing.Snapshot, error) {
	var sub model.Subscription
	err := s.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", subscriptionID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Snapshot{}, nil
	}
	if err != nil {
		return billing.Snapshot{}, fmt.Errorf("load subscription %s: %w", subscriptionID, err)
	}
	return toSnapshot(sub), nil
}

func (s *Store) UpsertSubscription(ctx context.Context, next billing.State, expectedVersion int64) error {
	features, err := featuresJSON(next.Limits())
	if err != nil {
		return err
	}
	db := s.db.WithContext(ctx)

	if expectedVersion == 0 {
		sub := model.Subscription{
			AccountID:            next.AccountID,
			StripeSubscriptionID: next.SubscriptionID,
			StripeCustomerID:     next.CustomerID,
			Plan:                 string(next.Plan),
			Status:               string(next.Status),
			CancelAtPeriodEnd:    next.CancelAtPeriodEnd,
			CancelEffectiveAt:    next.CancelEffectiveAt,
			CurrentPeriodEnd:     next.CurrentPeriodEnd,
			LastEventID:          next.LastEventID,
			LastEventAt:          next.LastEventAt,
			Version:              1,
			NeedsReview:          next.NeedsReview,
			ReviewReason:         next.ReviewReason,
			StartedNotified:      next.StartedNotified,
			MaxEvents:            next.Limits().MaxEvents,
			Features:             features,
		}
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&sub)
		if res.Error != nil {
			return fmt.Errorf("insert subscription %s: %w", next.SubscriptionID, res.Error)
		}
		if res.RowsAffected == 0 {
			return billing.ErrVersionConflict
		}
		return s.linkCustomer(ctx, next.AccountID, next.CustomerID)
	}

	res := db.Model(&model.Subscription{}).
		Where("stripe_subscription_id = ? AND version = ?", next.SubscriptionID, expectedVersion).
		Updates(map[string]interface{}{
			"account_id":           next.AccountID,
			"stripe_customer_id":   next.CustomerID,
			"plan":                 string(next.Plan),
			"status":               string(next.Status),
			"cancel_at_period_end": next.CancelAtPeriodEnd,
			"cancel_effective_at":  next.CancelEffectiveAt,
			"current_period_end":   next.CurrentPeriodEnd,
			"last_event_id":        next.LastEventID,
			"last_event_at":        next.LastEventAt,
			"version":              expectedVersion + 1,
			"needs_review":         next.NeedsReview,
			"review_reason":        next.ReviewReason,
			"started_notified":     next.StartedNotified,
			"max_events":           next.Limits().MaxEvents,
			"features":             features,
		})
	if res.Error != nil {
		return fmt.Errorf("update subscription %s: %w", next.SubscriptionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return billing.ErrVersionConflict
	}
	return s.linkCustomer(ctx, next.AccountID, next.CustomerID)
}

// linkCustomer records the Stripe customer on an account that has none yet.
func (s *Store) linkCustomer(ctx context.Context, accountID uint, customerID string) error {
	if accountID == 0 || customerID == "" {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ? AND stripe_customer_id IS NULL", accountID).
		Update("stripe_customer_id", customerID).Error
	if err != nil {
		return fmt.Errorf("link customer %s: %w", customerID, err)
	}
	return nil
}

func (s *Store) AppendPaymentRecord(ctx context.Context, p billing.Payment) (bool, error) {
	rec := model.PaymentRecord{
		AccountID:            p.AccountID,
		StripeSubscriptionID: p.SubscriptionID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Status:               string(p.Status),
		Reference:            p.Reference,
		Attempt:              p.Attempt,
		StripeEventID:        p.EventID,
		OccurredAt:           p.OccurredAt,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, fmt.Errorf("append payment %s: %w", p.Reference, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ProcessedEvent{
		EventID:     eventID,
		Type:        eventType,
		ProcessedAt: time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("mark event %s: %w", eventID, res.Error)
	}
	if res.RowsAffected == 0 {
		return billing.ErrDuplicateEvent
	}
	return nil
}

func (s *Store) EnqueueNotification(ctx context.Context, n billing.Notification) (uint, error) {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return 0, fmt.Errorf("encode notification data: %w", err)
	}
	row := model.Notification{
		AccountID:  n.AccountID,
		Recipient:  n.Recipient,
		TemplateID: n.TemplateID,
		Data:       datatypes.JSON(data),
		Status:     model.NotificationPending,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("enqueue notification: %w", err)
	}
	return row.ID, nil
}

func (s *Store) FindAccount(ctx context.Context, ref billing.AccountRef) (billing.Account, error) {
	db := s.db.WithContext(ctx)
	var acct model.Account

	lookups := []struct {
		ok    bool
		query string
		arg   interface{}
	}{
		{ref.AccountID != 0, "id = ?", ref.AccountID},
		{ref.CustomerID != "", "stripe_customer_id = ?", ref.CustomerID},
		{ref.Email != "", "LOWER(email) = ?", ref.Email},
	}
	for _, l := range lookups {
		if !l.ok {
			continue
		}
		err := db.Where(l.query, l.arg).First(&acct).Error
		if err == nil {
			return toAccount(acct), nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return billing.Account{}, fmt.Errorf("find account: %w", err)
		}
	}
	return billing.Account{}, billing.ErrAccountNotFound
}

func toSnapshot(sub model.Subscription) billing.Snapshot {
	tier, _ := entitlement.ParseTier(sub.Plan)
	return billing.Snapshot{
		State: billing.State{
			AccountID:         sub.AccountID,
			SubscriptionID:    sub.StripeSubscriptionID,
			CustomerID:        sub.StripeCustomerID,
			Plan:              tier,
			Status:            billing.Status(sub.Status),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			CancelEffectiveAt: utc(sub.CancelEffectiveAt),
			CurrentPeriodEnd:  utc(sub.CurrentPeriodEnd),
			LastEventID:       sub.LastEventID,
			LastEventAt:       sub.LastEventAt.UTC(),
			NeedsReview:       sub.NeedsReview,
			ReviewReason:      sub.ReviewReason,
			StartedNotified:   sub.StartedNotified,
		},
		Version: sub.Version,
		Exists:  true,
	}
}

func toAccount(a model.Account) billing.Account {
	return billing.Account{
		ID:         a.ID,
		Email:      a.Email,
		Name:       a.Name,
		CustomerID: a.CustomerID(),
	}
}

func featuresJSON(l entitlement.Limits) (datatypes.JSON, error) {
	b, err := json.Marshal(l.Enabled())
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	return datatypes.JSON(b), nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
