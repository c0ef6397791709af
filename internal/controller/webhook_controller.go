package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74/webhook"

	"easyplanning_backend/internal/billing"
)

// EventHandler reconciles one verified provider event.
type EventHandler interface {
	Handle(ctx context.Context, ev billing.Event) (billing.Result, error)
}

type WebhookMetrics interface {
	WebhookRequest(code int, took time.Duration)
}

type WebhookConfig struct {
	Secret       string
	Timeout      time.Duration
	MaxBodyBytes int
	Tolerance    time.Duration
}

type WebhookController struct {
	handler EventHandler
	cfg     WebhookConfig
	log     zerolog.Logger
	metrics WebhookMetrics
}

func NewWebhookController(handler EventHandler, cfg WebhookConfig, log zerolog.Logger, metrics WebhookMetrics) *WebhookController {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = webhook.DefaultTolerance
	}
	return &WebhookController{
		handler: handler,
		cfg:     cfg,
		log:     log.With().Str("component", "webhook").Logger(),
		metrics: metrics,
	}
}

// HandleStripeWebhook verifies, parses and reconciles one Stripe event.
// 2xx tells Stripe to stop, 400 means the payload can never succeed, 500
// asks for a retry.
func (w *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	start := time.Now()
	code, body := w.handle(c)
	if w.metrics != nil {
		w.metrics.WebhookRequest(code, time.Since(start))
	}
	return c.Status(code).JSON(body)
}

func (w *WebhookController) handle(c *fiber.Ctx) (int, fiber.Map) {
	payload := c.Body()
	if len(payload) > w.cfg.MaxBodyBytes {
		w.log.Warn().Int("bytes", len(payload)).Msg("Rejected oversized webhook payload")
		return fiber.StatusBadRequest, fiber.Map{"error": "Payload too large"}
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.Get("Stripe-Signature"), w.cfg.Secret, webhook.ConstructEventOptions{
		Tolerance:                w.cfg.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("Rejected webhook with invalid signature")
		return fiber.StatusBadRequest, fiber.Map{"error": billing.ErrInvalidSignature.Error()}
	}

	ev, err := billing.Parse(event)
	if err != nil && !errors.Is(err, billing.ErrUnknownEventType) {
		w.log.Warn().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Rejected malformed webhook event")
		return fiber.StatusBadRequest, fiber.Map{"error": err.Error()}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), w.cfg.Timeout)
	defer cancel()

	res, err := w.handler.Handle(ctx, ev)
	if err != nil && !billing.IsAccepted(err) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			w.log.Error().Err(err).
				Str("event_id", event.ID).
				Dur("timeout", w.cfg.Timeout).
				Msg("Webhook reconciliation timed out")
		}
		return fiber.StatusInternalServerError, fiber.Map{"error": "Could not reconcile event"}
	}
	return fiber.StatusOK, fiber.Map{
		"received": true,
		"status":   res.Outcome,
	}
}
