package seed

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"easyplanning_backend/internal/model"
	"easyplanning_backend/pkg/entitlement"
)

type planDef struct {
	name        string
	description string
	priceCents  int64
}

var catalog = map[entitlement.Tier]planDef{
	entitlement.BasicTier:    {"Basic", "Plan a few events for free", 0},
	entitlement.PremiumTier:  {"Premium", "RSVP waitlists, ticketing and custom branding", 1900},
	entitlement.ProTier:      {"Pro", "Donations and priority support for busy planners", 4900},
	entitlement.BusinessTier: {"Business", "Unlimited events and white label pages", 14900},
}

// SeedPlans upserts one catalog row per tier. prices maps tier names to
// Stripe price ids; tiers without a price are seeded without one.
func SeedPlans(ctx context.Context, db *gorm.DB, prices map[string]string, log zerolog.Logger) error {
	for _, tier := range entitlement.Tiers() {
		def := catalog[tier]
		plan := model.Plan{
			Tier:        string(tier),
			Name:        def.name,
			Description: def.description,
			PriceCents:  def.priceCents,
			Currency:    "usd",
			Interval:    "month",
		}
		updates := []string{"name", "description", "price_cents", "updated_at"}
		if priceID := prices[string(tier)]; priceID != "" {
			plan.StripePriceID = priceID
			updates = append(updates, "stripe_price_id")
		}

		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tier"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).Create(&plan).Error
		if err != nil {
			log.Error().Err(err).Str("tier", string(tier)).Msg("Error seeding plan")
			return err
		}
	}

	log.Info().Int("plans", len(catalog)).Msg("Subscription plans seeded")
	return nil
}
