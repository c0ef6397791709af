package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"easyplanning_backend/internal/model"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrEventFull     = errors.New("event is full")
	ErrAlreadyRSVPed = errors.New("guest already responded")
	ErrRSVPNotFound  = errors.New("rsvp not found")
)

func (s *Store) CountEvents(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.PlanningEvent{}).
		Where("account_id = ?", accountID).
		Count(&count).Error
	return count, err
}

func (s *Store) CreateEvent(ctx context.Context, ev *model.PlanningEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

func (s *Store) EventSlugExists(ctx context.Context, accountID uint, slug string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.PlanningEvent{}).
		Where("account_id = ? AND slug = ?", accountID, slug).
		Count(&count).Error
	return count > 0, err
}

func (s *Store) ListEvents(ctx context.Context, accountID uint) ([]model.PlanningEvent, error) {
	var out []model.PlanningEvent
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("starts_at ASC").
		Find(&out).Error
	return out, err
}

func (s *Store) DeleteEvent(ctx context.Context, accountID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("id = ? AND account_id = ?", id, accountID).Delete(&model.PlanningEvent{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrEventNotFound
		}
		return tx.Unscoped().Where("event_id = ?", id).Delete(&model.RSVP{}).Error
	})
}

// PublicEvent loads an event by its owner's slug and its own slug, with
// RSVPs.
func (s *Store) PublicEvent(ctx context.Context, accountSlug, eventSlug string) (*model.PlanningEvent, error) {
	var ev model.PlanningEvent
	err := s.db.WithContext(ctx).
		Preload("Account").
		Preload("RSVPs", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("slug = ? AND account_id = (?)", eventSlug,
			s.db.Model(&model.Account{}).Select("id").Where("slug = ?", accountSlug)).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return &ev, nil
}

// AddRSVP records a guest reply. When the event is at capacity the guest is
// waitlisted if allowWaitlist is set, otherwise ErrEventFull is returned.
func (s *Store) AddRSVP(ctx context.Context, eventID uint, r *model.RSVP, allowWaitlist bool) error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.EventID = eventID

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev model.PlanningEvent
		if err := lockEvent(tx).First(&ev, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		var existing int64
		if err := tx.Model(&model.RSVP{}).Where("event_id = ? AND email = ?", eventID, r.Email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyRSVPed
		}

		taken, err := seatsTaken(tx, eventID)
		if err != nil {
			return err
		}

		r.Status = model.RSVPGoing
		if ev.Capacity > 0 && taken+r.Seats() > ev.Capacity {
			if !allowWaitlist {
				return ErrEventFull
			}
			r.Status = model.RSVPWaitlisted
		}
		return tx.Create(r).Error
	})
}

// CancelRSVP removes a guest and promotes waitlisted guests, oldest first,
// while their party fits. The promoted RSVPs are returned.
func (s *Store) CancelRSVP(ctx context.Context, eventID uint, email string) ([]model.RSVP, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var promoted []model.RSVP

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ev model.PlanningEvent
		if err := lockEvent(tx).First(&ev, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		res := tx.Unscoped().Where("event_id = ? AND email = ?", eventID, email).Delete(&model.RSVP{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRSVPNotFound
		}

		if ev.Capacity <= 0 {
			return nil
		}
		taken, err := seatsTaken(tx, eventID)
		if err != nil {
			return err
		}

		var waiting []model.RSVP
		if err := tx.Where("event_id = ? AND status = ?", eventID, model.RSVPWaitlisted).
			Order("created_at ASC").Order("id ASC").
			Find(&waiting).Error; err != nil {
			return err
		}
		for _, w := range waiting {
			if taken+w.Seats() > ev.Capacity {
				continue
			}
			if err := tx.Model(&model.RSVP{}).Where("id = ?", w.ID).Update("status", model.RSVPGoing).Error; err != nil {
				return err
			}
			taken += w.Seats()
			w.Status = model.RSVPGoing
			promoted = append(promoted, w)
		}
		return nil
	})
	return promoted, err
}

// lockEvent serializes RSVP changes per event on PostgreSQL. SQLite
// transactions already hold a database-wide write lock.
func lockEvent(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func seatsTaken(tx *gorm.DB, eventID uint) (int, error) {
	var taken int64
	err := tx.Model(&model.RSVP{}).
		Where("event_id = ? AND status = ?", eventID, model.RSVPGoing).
		Select("COALESCE(SUM(1 + guests), 0)").
		Scan(&taken).Error
	return int(taken), err
}

func (s *Store) Branding(ctx context.Context, accountID uint) (*model.BrandingSettings, error) {
	var b model.BrandingSettings
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.BrandingSettings{AccountID: accountID}, nil
	}
	return &b, err
}

func (s *Store) SaveBranding(ctx context.Context, b *model.BrandingSettings) error {
	return s.db.WithContext(ctx).Save(b).Error
}
