package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
)

// CurrentSubscription returns the newest non-canceled subscription of an
// account, or the newest canceled one when no other exists.
func (s *Store) CurrentSubscription(ctx context.Context, accountID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order(gorm.Expr("CASE WHEN status = ? THEN 1 ELSE 0 END", string(billing.StatusCanceled))).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current subscription: %w", err)
	}
	return &sub, nil
}

func (s *Store) ListPayments(ctx context.Context, accountID uint, limit int) ([]model.PaymentRecord, error) {
	var out []model.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) ListFlagged(ctx context.Context) ([]model.Subscription, error) {
	var out []model.Subscription
	err := s.db.WithContext(ctx).
		Preload("Account").
		Where("needs_review = ?", true).
		Order("updated_at DESC").
		Find(&out).Error
	return out, err
}

// ClearReview clears the review flag. The version is bumped so an in-flight
// reconciliation sees the change.
func (s *Store) ClearReview(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND needs_review = ?", id, true).
		Updates(map[string]interface{}{
			"needs_review":  false,
			"review_reason": "",
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

// EndingBetween lists canceling subscriptions whose cancellation takes effect
// in [from, to).
func (s *Store) EndingBetween(ctx context.Context, from, to time.Time) ([]model.Subscription, error) {
	var out []model.Subscription
	err := s.db.WithContext(ctx).
		Preload("Account").
		Where("status = ? AND cancel_effective_at >= ? AND cancel_effective_at < ?",
			string(billing.StatusCanceling), from, to).
		Find(&out).Error
	return out, err
}

func (s *Store) GetNotification(ctx context.Context, id uint) (*model.Notification, error) {
	var n model.Notification
	if err := s.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// RetryableNotifications returns unsent rows under the attempt cap, oldest
// first. Pending rows younger than minAge are skipped since their first
// delivery may still be running.
func (s *Store) RetryableNotifications(ctx context.Context, maxAttempts int, minAge time.Duration, limit int) ([]model.Notification, error) {
	var out []model.Notification
	cutoff := time.Now().Add(-minAge)
	err := s.db.WithContext(ctx).
		Where("status <> ? AND attempts < ?", model.NotificationSent, maxAttempts).
		Where("status = ? OR created_at < ?", model.NotificationFailed, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) FailedNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var out []model.Notification
	err := s.db.WithContext(ctx).
		Where("status = ?", model.NotificationFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Store) MarkNotificationSent(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.NotificationSent,
			"attempts":   gorm.Expr("attempts + 1"),
			"sent_at":    at,
			"last_error": "",
		}).Error
}

func (s *Store) MarkNotificationFailed(ctx context.Context, id uint, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND status <> ?", id, model.NotificationSent).
		Updates(map[string]interface{}{
			"status":     model.NotificationFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
}

// NotificationExists reports whether a notification with the template was
// already queued for the account since the given time.
func (s *Store) NotificationExists(ctx context.Context, accountID uint, templateID string, since time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("account_id = ? AND template_id = ? AND created_at >= ?", accountID, templateID, since).
		Count(&count).Error
	return count > 0, err
}
