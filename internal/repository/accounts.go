package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
)

var ErrEmailTaken = errors.New("email already registered")

func (s *Store) CreateAccount(ctx context.Context, acct *model.Account) error {
	acct.Email = strings.ToLower(strings.TrimSpace(acct.Email))
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Account{}).Where("email = ?", acct.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrEmailTaken
	}
	return s.db.WithContext(ctx).Create(acct).Error
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var acct model.Account
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.ErrAccountNotFound
	}
	return &acct, err
}

func (s *Store) AccountByID(ctx context.Context, id uint) (*model.Account, error) {
	var acct model.Account
	err := s.db.WithContext(ctx).First(&acct, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, billing.ErrAccountNotFound
	}
	return &acct, err
}

func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Account{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

func (s *Store) ListPlans(ctx context.Context) ([]model.Plan, error) {
	var plans []model.Plan
	err := s.db.WithContext(ctx).Order("price_cents ASC").Find(&plans).Error
	return plans, err
}
