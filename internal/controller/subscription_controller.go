package controller

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/middleware"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/repository"
	"easyplanning_backend/pkg/entitlement"
	"easyplanning_backend/pkg/payment"
)

type CheckoutInput struct {
	Plan string `json:"plan" validate:"required"`
}

// PaymentGateway is the provider API the subscription endpoints call.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) error
}

type SubscriptionController struct {
	store    *repository.Store
	payments PaymentGateway
	plans    *billing.PlanCatalog
	log      zerolog.Logger
}

func NewSubscriptionController(store *repository.Store, payments PaymentGateway, plans *billing.PlanCatalog, log zerolog.Logger) *SubscriptionController {
	return &SubscriptionController{store: store, payments: payments, plans: plans, log: log}
}

func (s *SubscriptionController) ListPlans(c *fiber.Ctx) error {
	plans, err := s.store.ListPlans(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch subscription plans",
		})
	}

	out := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		tier, _ := entitlement.ParseTier(p.Tier)
		limits := entitlement.For(tier)
		out = append(out, fiber.Map{
			"tier":        p.Tier,
			"name":        p.Name,
			"description": p.Description,
			"price_cents": p.PriceCents,
			"currency":    p.Currency,
			"interval":    p.Interval,
			"max_events":  limits.MaxEvents,
			"features":    limits.Enabled(),
		})
	}
	return c.JSON(out)
}

func (s *SubscriptionController) CreateCheckoutSession(c *fiber.Ctx) error {
	input := new(CheckoutInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	tier, ok := entitlement.ParseTier(input.Plan)
	if !ok || tier == entitlement.DefaultTier {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown plan",
		})
	}
	priceID, ok := s.plans.PriceFor(tier)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Subscription plan not found",
		})
	}

	ctx := c.UserContext()
	claims := middleware.Claims(c)
	account, err := s.store.AccountByID(ctx, claims.AccountID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}

	current, err := s.store.CurrentSubscription(ctx, account.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not load subscription",
		})
	}
	if current != nil && billing.Status(current.Status).Entitled() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "You already have a subscription. Change plans from the billing portal.",
			"plan":  current.Plan,
		})
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		AccountID:  account.ID,
		Email:      account.Email,
		CustomerID: account.CustomerID(),
		Tier:       tier,
		PriceID:    priceID,
	})
	if err != nil {
		s.log.Error().Err(err).Uint("account_id", account.ID).Msg("Could not create checkout session")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Could not create checkout session",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// CancelSubscription asks Stripe to cancel at period end. The stored state
// changes when the resulting webhook is reconciled.
func (s *SubscriptionController) CancelSubscription(c *fiber.Ctx) error {
	return s.setCancel(c, true)
}

func (s *SubscriptionController) ResumeSubscription(c *fiber.Ctx) error {
	return s.setCancel(c, false)
}

func (s *SubscriptionController) setCancel(c *fiber.Ctx, cancel bool) error {
	ctx := c.UserContext()
	claims := middleware.Claims(c)

	sub, err := s.store.CurrentSubscription(ctx, claims.AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not load subscription",
		})
	}
	if sub == nil || !billing.Status(sub.Status).Entitled() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No active subscription found",
		})
	}
	if sub.CancelAtPeriodEnd == cancel {
		msg := "Subscription is not scheduled for cancellation"
		if cancel {
			msg = "Subscription is already scheduled for cancellation"
		}
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": msg})
	}

	if err := s.payments.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, cancel); err != nil {
		s.log.Error().Err(err).
			Str("subscription_id", sub.StripeSubscriptionID).
			Bool("cancel", cancel).
			Msg("Could not update Stripe subscription")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Could not update subscription",
		})
	}

	msg := "Subscription resume requested"
	if cancel {
		msg = "Subscription cancellation requested"
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": msg,
	})
}

func (s *SubscriptionController) GetMySubscription(c *fiber.Ctx) error {
	sub, err := s.store.CurrentSubscription(c.UserContext(), middleware.Claims(c).AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not load subscription",
		})
	}
	if sub == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No subscription found",
		})
	}
	return c.JSON(sub)
}

func (s *SubscriptionController) GetEntitlements(c *fiber.Ctx) error {
	ctx := c.UserContext()
	accountID := middleware.Claims(c).AccountID

	sub, err := s.store.CurrentSubscription(ctx, accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not load subscription",
		})
	}
	used, err := s.store.CountEvents(ctx, accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not count events",
		})
	}

	tier := middleware.TierOf(sub)
	limits := entitlement.For(tier)
	return c.JSON(fiber.Map{
		"plan":        tier,
		"status":      statusOf(sub),
		"max_events":  limits.MaxEvents,
		"used_events": used,
		"features":    limits.Enabled(),
	})
}

func (s *SubscriptionController) ListPayments(c *fiber.Ctx) error {
	payments, err := s.store.ListPayments(c.UserContext(), middleware.Claims(c).AccountID, 100)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch payments",
		})
	}
	return c.JSON(payments)
}

func statusOf(sub *model.Subscription) string {
	if sub == nil {
		return "none"
	}
	return sub.Status
}
