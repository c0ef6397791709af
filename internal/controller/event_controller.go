package controller

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"easyplanning_backend/internal/middleware"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/repository"
	"easyplanning_backend/pkg/entitlement"
	"easyplanning_backend/pkg/utils/validation"
)

type EventInput struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	Venue       string    `json:"venue"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	Capacity    int       `json:"capacity"`
}

type RSVPInput struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Guests int    `json:"guests"`
}

type EventController struct {
	store *repository.Store
	log   zerolog.Logger
}

func NewEventController(store *repository.Store, log zerolog.Logger) *EventController {
	return &EventController{store: store, log: log}
}

func (e *EventController) CreateEvent(c *fiber.Ctx) error {
	input := new(EventInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" || input.StartsAt.IsZero() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title and start time are required",
		})
	}
	if input.Capacity < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Capacity cannot be negative",
		})
	}

	ctx := c.UserContext()
	accountID := middleware.Claims(c).AccountID
	eventSlug, err := e.uniqueSlug(ctx, accountID, input.Title)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create event",
		})
	}

	ev := model.PlanningEvent{
		Title:       input.Title,
		Slug:        eventSlug,
		Description: input.Description,
		Venue:       input.Venue,
		StartsAt:    input.StartsAt.UTC(),
		Capacity:    input.Capacity,
		AccountID:   accountID,
	}
	if err := e.store.CreateEvent(ctx, &ev); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create event",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(ev)
}

func (e *EventController) uniqueSlug(ctx context.Context, accountID uint, title string) (string, error) {
	base := slug.Make(title)
	if base == "" {
		base = "event"
	}
	taken, err := e.store.EventSlugExists(ctx, accountID, base)
	if err != nil || !taken {
		return base, err
	}
	return base + "-" + uuid.New().String()[:8], nil
}

func (e *EventController) ListMyEvents(c *fiber.Ctx) error {
	events, err := e.store.ListEvents(c.UserContext(), middleware.Claims(c).AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not fetch events",
		})
	}
	return c.JSON(events)
}

func (e *EventController) DeleteEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event id",
		})
	}
	err = e.store.DeleteEvent(c.UserContext(), middleware.Claims(c).AccountID, uint(id))
	if errors.Is(err, repository.ErrEventNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Event not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not delete event",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetPublicEvent shows an event without guest details.
func (e *EventController) GetPublicEvent(c *fiber.Ctx) error {
	ev, err := e.store.PublicEvent(c.UserContext(), c.Params("account"), c.Params("event"))
	if err != nil {
		return e.eventError(c, err)
	}

	going, waitlisted := 0, 0
	for _, r := range ev.RSVPs {
		if r.Status == model.RSVPGoing {
			going += r.Seats()
		} else {
			waitlisted += r.Seats()
		}
	}
	return c.JSON(fiber.Map{
		"title":       ev.Title,
		"description": ev.Description,
		"venue":       ev.Venue,
		"starts_at":   ev.StartsAt,
		"capacity":    ev.Capacity,
		"going":       going,
		"waitlisted":  waitlisted,
		"host":        ev.Account.Name,
	})
}

// RSVP registers a guest. Guests past capacity are waitlisted when the host's
// plan includes the waitlist feature.
func (e *EventController) RSVP(c *fiber.Ctx) error {
	input := new(RSVPInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if strings.TrimSpace(input.Name) == "" || validation.ValidateEmail(input.Email) != nil || input.Guests < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Name, a valid email and a non-negative guest count are required",
		})
	}

	ctx := c.UserContext()
	ev, err := e.store.PublicEvent(ctx, c.Params("account"), c.Params("event"))
	if err != nil {
		return e.eventError(c, err)
	}

	hostSub, err := e.store.CurrentSubscription(ctx, ev.AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not register RSVP",
		})
	}
	allowWaitlist := entitlement.CanUseFeature(middleware.TierOf(hostSub), entitlement.RSVPWaitlist)

	rsvp := model.RSVP{Name: strings.TrimSpace(input.Name), Email: input.Email, Guests: input.Guests}
	if err := e.store.AddRSVP(ctx, ev.ID, &rsvp, allowWaitlist); err != nil {
		return e.eventError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": rsvp.Status,
		"seats":  rsvp.Seats(),
	})
}

func (e *EventController) CancelRSVP(c *fiber.Ctx) error {
	input := new(RSVPInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	ctx := c.UserContext()
	ev, err := e.store.PublicEvent(ctx, c.Params("account"), c.Params("event"))
	if err != nil {
		return e.eventError(c, err)
	}
	promoted, err := e.store.CancelRSVP(ctx, ev.ID, input.Email)
	if err != nil {
		return e.eventError(c, err)
	}
	if len(promoted) > 0 {
		e.log.Info().Uint("event_id", ev.ID).Int("promoted", len(promoted)).Msg("Waitlisted guests promoted")
	}
	return c.JSON(fiber.Map{"message": "RSVP canceled"})
}

func (e *EventController) eventError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repository.ErrEventNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Event not found"})
	case errors.Is(err, repository.ErrRSVPNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "RSVP not found"})
	case errors.Is(err, repository.ErrEventFull):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Event is full"})
	case errors.Is(err, repository.ErrAlreadyRSVPed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "You already responded to this event"})
	default:
		e.log.Error().Err(err).Msg("Event request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not process request"})
	}
}
