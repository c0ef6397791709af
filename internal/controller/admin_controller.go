package controller

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/notification"
	"easyplanning_backend/internal/repository"
)

type NotificationRetrier interface {
	Retry(ctx context.Context, id uint) error
	RetryPending(ctx context.Context) (int, error)
}

// AdminController is the operator back-office for billing anomalies.
type AdminController struct {
	store   *repository.Store
	retrier NotificationRetrier
	log     zerolog.Logger
}

func NewAdminController(store *repository.Store, retrier NotificationRetrier, log zerolog.Logger) *AdminController {
	return &AdminController{store: store, retrier: retrier, log: log}
}

func (a *AdminController) ListFlagged(c *fiber.Ctx) error {
	subs, err := a.store.ListFlagged(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch flagged subscriptions",
		})
	}

	out := make([]fiber.Map, 0, len(subs))
	for _, s := range subs {
		out = append(out, fiber.Map{
			"id":                     s.ID,
			"stripe_subscription_id": s.StripeSubscriptionID,
			"account_id":             s.AccountID,
			"account_email":          s.Account.Email,
			"plan":                   s.Plan,
			"status":                 s.Status,
			"review_reason":          s.ReviewReason,
			"updated_at":             s.UpdatedAt,
		})
	}
	return c.JSON(out)
}

func (a *AdminController) ClearReview(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid subscription id"})
	}
	err = a.store.ClearReview(c.UserContext(), uint(id))
	if errors.Is(err, billing.ErrSubscriptionNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No flagged subscription with that id"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not clear review flag"})
	}
	a.log.Info().Int("subscription_row", id).Msg("Review flag cleared")
	return c.JSON(fiber.Map{"message": "Review flag cleared"})
}

func (a *AdminController) ListFailedNotifications(c *fiber.Ctx) error {
	rows, err := a.store.FailedNotifications(c.UserContext(), 200)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch notifications",
		})
	}
	return c.JSON(rows)
}

func (a *AdminController) RetryNotification(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification id"})
	}
	err = a.retrier.Retry(c.UserContext(), uint(id))
	switch {
	case errors.Is(err, notification.ErrAlreadySent):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Notification already sent"})
	case err != nil:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "Notification sent"})
}

func (a *AdminController) RetryPendingNotifications(c *fiber.Ctx) error {
	sent, err := a.retrier.RetryPending(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"sent": sent})
}
