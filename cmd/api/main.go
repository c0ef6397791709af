package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/controller"
	"easyplanning_backend/internal/middleware"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/notification"
	"easyplanning_backend/internal/observability"
	"easyplanning_backend/internal/repository"
	"easyplanning_backend/pkg/config"
	"easyplanning_backend/pkg/cron"
	"easyplanning_backend/pkg/database"
	"easyplanning_backend/pkg/email"
	"easyplanning_backend/pkg/entitlement"
	"easyplanning_backend/pkg/payment"
	"easyplanning_backend/pkg/seed"
	"easyplanning_backend/pkg/utils/jwt"
	"easyplanning_backend/pkg/utils/storage"
	"easyplanning_backend/pkg/utils/validation"
)

type handlers struct {
	auth         *controller.AuthController
	subscription *controller.SubscriptionController
	webhook      *controller.WebhookController
	events       *controller.EventController
	branding     *controller.BrandingController
	admin        *controller.AdminController
	entitlements *middleware.Entitlements
	tokens       *jwt.Manager
}

func setupRoutes(app *fiber.App, h handlers) {
	api := app.Group("/api")
	authRequired := middleware.Auth(h.tokens)

	// Auth Routes
	auth := api.Group("/auth")
	auth.Post("/register", h.auth.Register)
	auth.Post("/login", h.auth.Login)
	api.Get("/me", authRequired, h.auth.GetMe)

	// Subscription routes
	subscriptions := api.Group("/subscriptions")
	subscriptions.Get("/plans", h.subscription.ListPlans)
	subscriptions.Post("/create-checkout-session", authRequired, h.subscription.CreateCheckoutSession)
	subscriptions.Post("/cancel-subscription", authRequired, h.subscription.CancelSubscription)
	subscriptions.Post("/resume-subscription", authRequired, h.subscription.ResumeSubscription)
	subscriptions.Get("/my", authRequired, h.subscription.GetMySubscription)
	subscriptions.Get("/entitlements", authRequired, h.subscription.GetEntitlements)
	subscriptions.Get("/payments", authRequired, h.subscription.ListPayments)

	// Planning events
	events := api.Group("/events", authRequired)
	events.Get("/my", h.events.ListMyEvents)
	events.Post("/", h.entitlements.CheckEventLimit(), h.events.CreateEvent)
	events.Delete("/:id", h.events.DeleteEvent)

	// Public event pages
	public := api.Group("/e")
	public.Get("/:account/:event", h.events.GetPublicEvent)
	public.Post("/:account/:event/rsvp", h.events.RSVP)
	public.Delete("/:account/:event/rsvp", h.events.CancelRSVP)

	// Branding
	branding := api.Group("/branding", authRequired)
	branding.Get("/", h.branding.GetBranding)
	branding.Put("/", h.entitlements.CheckFeatureAccess(entitlement.CustomBranding), h.branding.UpdateBranding)
	branding.Post("/logo", h.entitlements.CheckFeatureAccess(entitlement.CustomBranding), h.branding.UploadLogo)
	branding.Get("/logo", h.branding.GetLogoURL)

	// Admin back-office
	admin := api.Group("/admin", authRequired, middleware.AdminOnly())
	admin.Get("/subscriptions/flagged", h.admin.ListFlagged)
	admin.Post("/subscriptions/:id/clear-review", h.admin.ClearReview)
	admin.Get("/notifications/failed", h.admin.ListFailedNotifications)
	admin.Post("/notifications/:id/retry", h.admin.RetryNotification)
	admin.Post("/notifications/retry", h.admin.RetryPendingNotifications)

	// Stripe webhook
	api.Post("/webhook/stripe", h.webhook.HandleStripeWebhook)
	api.Post("/webhook", h.webhook.HandleStripeWebhook)
}

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	db, err := database.Open(cfg.Database.DSN())
	if err != nil {
		return err
	}
	if err := database.MigrateDatabase(db, log, model.All()...); err != nil {
		log.Warn().Err(err).Msg("Migration warning")
	}
	if err := seed.SeedPlans(ctx, db, cfg.Stripe.Prices, log); err != nil {
		return err
	}

	store := repository.New(db)
	plans := billing.NewPlanCatalog(priceTiers(cfg.Stripe.Prices))
	stripeClient := payment.NewClient(cfg.Stripe)
	if !stripeClient.Configured() {
		log.Warn().Msg("Stripe is not configured, checkout and provider cross-checks are disabled")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}

	renderer, err := email.NewRenderer()
	if err != nil {
		return err
	}
	var sender email.Sender
	if resend, err := email.NewResendSender(cfg.Email, renderer, log); err == nil {
		sender = resend
	} else {
		log.Warn().Err(err).Msg("Email delivery disabled, notifications will be logged")
		sender = email.NewLogSender(renderer, log)
	}

	dispatcher := notification.NewDispatcher(notification.Config{
		Outbox:      store,
		Sender:      sender,
		Logger:      log,
		Metrics:     metrics,
		MaxAttempts: cfg.Notification.MaxAttempts,
	})

	reconciler := billing.NewReconciler(billing.ReconcilerConfig{
		Store:         store,
		Billing:       stripeClient,
		Notifier:      dispatcher,
		Plans:         plans,
		Logger:        log,
		Metrics:       metrics,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
		NotifyTimeout: cfg.Notification.SendTimeout,
	})

	var assets controller.AssetStore
	if r2, err := storage.NewR2(ctx, cfg.Storage); err == nil {
		assets = r2
	} else {
		log.Warn().Err(err).Msg("Object storage disabled, logo uploads are unavailable")
	}

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)
	h := handlers{
		auth:         controller.NewAuthController(store, tokens, dispatcher, log),
		subscription: controller.NewSubscriptionController(store, stripeClient, plans, log),
		webhook: controller.NewWebhookController(reconciler, controller.WebhookConfig{
			Secret:       cfg.Stripe.WebhookSecret,
			Timeout:      cfg.Webhook.Timeout,
			MaxBodyBytes: cfg.Webhook.MaxBodyBytes,
		}, log, metrics),
		events:       controller.NewEventController(store, log),
		branding:     controller.NewBrandingController(store, assets, log),
		admin:        controller.NewAdminController(store, dispatcher, log),
		entitlements: middleware.NewEntitlements(store, store, log),
		tokens:       tokens,
	}

	scheduler, err := cron.New(cron.Config{
		RetrySchedule: cfg.Notification.RetrySchedule,
		Retrier:       dispatcher,
		Store:         store,
		Notifier:      dispatcher,
		Logger:        log,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		BodyLimit: validation.MaxImageSize + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.Server.AllowOrigins}))

	app.Get("/health", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	setupRoutes(app, h)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server is running")
		errCh <- app.Listen(":" + cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	scheduler.Stop(shutdownCtx)
	return nil
}

// priceTiers inverts the configured tier -> price mapping.
func priceTiers(prices map[string]string) map[string]entitlement.Tier {
	out := make(map[string]entitlement.Tier, len(prices))
	for name, priceID := range prices {
		if tier, ok := entitlement.ParseTier(name); ok {
			out[priceID] = tier
		}
	}
	return out
}
