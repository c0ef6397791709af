package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/pkg/entitlement"
)

const tierKey = "tier"

type SubscriptionLookup interface {
	CurrentSubscription(ctx context.Context, accountID uint) (*model.Subscription, error)
}

type EventCounter interface {
	CountEvents(ctx context.Context, accountID uint) (int64, error)
}

// Entitlements gates routes on the caller's current plan.
type Entitlements struct {
	subs   SubscriptionLookup
	events EventCounter
	log    zerolog.Logger
}

func NewEntitlements(subs SubscriptionLookup, events EventCounter, log zerolog.Logger) *Entitlements {
	return &Entitlements{subs: subs, events: events, log: log}
}

// TierOf maps a stored subscription to the tier it currently grants.
// Canceled or missing subscriptions grant the default tier.
func TierOf(sub *model.Subscription) entitlement.Tier {
	if sub == nil || !billing.Status(sub.Status).Entitled() {
		return entitlement.DefaultTier
	}
	tier, _ := entitlement.ParseTier(sub.Plan)
	return tier
}

func (e *Entitlements) tier(c *fiber.Ctx) (entitlement.Tier, error) {
	if t, ok := c.Locals(tierKey).(entitlement.Tier); ok {
		return t, nil
	}
	claims := Claims(c)
	if claims == nil {
		return entitlement.DefaultTier, nil
	}
	sub, err := e.subs.CurrentSubscription(c.UserContext(), claims.AccountID)
	if err != nil {
		return "", err
	}
	t := TierOf(sub)
	c.Locals(tierKey, t)
	return t, nil
}

// CheckFeatureAccess rejects callers whose plan lacks feature.
func (e *Entitlements) CheckFeatureAccess(feature entitlement.Feature) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tier, err := e.tier(c)
		if err != nil {
			e.log.Error().Err(err).Msg("Could not load subscription for feature check")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Could not check subscription",
			})
		}
		if !entitlement.CanUseFeature(tier, feature) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "This feature requires a higher subscription plan",
				"feature": feature,
				"plan":    tier,
			})
		}
		return c.Next()
	}
}

// CheckEventLimit rejects event creation once the plan's cap is reached.
func (e *Entitlements) CheckEventLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tier, err := e.tier(c)
		if err != nil {
			e.log.Error().Err(err).Msg("Could not load subscription for event limit")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Could not check subscription",
			})
		}

		current, err := e.events.CountEvents(c.UserContext(), Claims(c).AccountID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Could not count events",
			})
		}

		limits := entitlement.For(tier)
		if !limits.AllowsEvents(current) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":         "You have reached your event limit. Please upgrade your plan.",
				"current_count": current,
				"max_limit":     limits.MaxEvents,
			})
		}
		return c.Next()
	}
}

// Tier returns the tier resolved by an earlier entitlement check, if any.
func Tier(c *fiber.Ctx) (entitlement.Tier, bool) {
	t, ok := c.Locals(tierKey).(entitlement.Tier)
	return t, ok
}
