package controller

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"easyplanning_backend/internal/billing"
	"easyplanning_backend/internal/middleware"
	"easyplanning_backend/internal/model"
	"easyplanning_backend/internal/repository"
	"easyplanning_backend/pkg/utils/jwt"
	"easyplanning_backend/pkg/utils/validation"
)

const TemplateWelcome = "welcome"

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthController struct {
	store    *repository.Store
	tokens   *jwt.Manager
	notifier billing.Notifier
	log      zerolog.Logger
}

func NewAuthController(store *repository.Store, tokens *jwt.Manager, notifier billing.Notifier, log zerolog.Logger) *AuthController {
	return &AuthController{store: store, tokens: tokens, notifier: notifier, log: log}
}

// uniqueSlug derives a URL-safe account slug from the display name.
func (a *AuthController) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "planner"
	}
	candidate := base
	for i := 0; i < 5; i++ {
		taken, err := a.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + uuid.New().String()[:6]
	}
	return base + "-" + uuid.New().String(), nil
}

func (a *AuthController) Register(c *fiber.Ctx) error {
	input := new(RegisterInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Name = strings.TrimSpace(input.Name)

	if err := validation.ValidateEmail(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := validation.ValidatePassword(input.Password); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if input.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Name is required"})
	}

	ctx := c.UserContext()
	accountSlug, err := a.uniqueSlug(ctx, input.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create account",
		})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not hash password",
		})
	}

	account := model.Account{
		Email:    input.Email,
		Password: string(hashedPassword),
		Name:     input.Name,
		Slug:     accountSlug,
	}
	if err := a.store.CreateAccount(ctx, &account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Email already exists",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not create account",
		})
	}

	a.sendWelcome(ctx, account)

	token, err := a.tokens.GenerateToken(account.ID, account.Email, account.Name, account.IsAdmin)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful",
		"token":   token,
		"account": account.GetPublicProfile(),
	})
}

// sendWelcome queues and sends the welcome email. Failures only get logged;
// the retry job picks the row up later.
func (a *AuthController) sendWelcome(ctx context.Context, account model.Account) {
	n := billing.Notification{
		AccountID:  account.ID,
		Recipient:  account.Email,
		TemplateID: TemplateWelcome,
		Data:       map[string]any{"Name": account.Name},
	}
	id, err := a.store.EnqueueNotification(ctx, n)
	if err != nil {
		a.log.Error().Err(err).Uint("account_id", account.ID).Msg("Could not queue welcome email")
		return
	}
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Deliver(ctx, id, n); err != nil {
		a.log.Warn().Err(err).Uint("account_id", account.ID).Msg("Could not send welcome email")
	}
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}

	account, err := a.store.AccountByEmail(c.UserContext(), input.Email)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := a.tokens.GenerateToken(account.ID, account.Email, account.Name, account.IsAdmin)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	return c.JSON(fiber.Map{
		"token":   token,
		"account": account.GetPublicProfile(),
	})
}

func (a *AuthController) GetMe(c *fiber.Ctx) error {
	claims := middleware.Claims(c)
	account, err := a.store.AccountByID(c.UserContext(), claims.AccountID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Account not found",
		})
	}
	return c.JSON(account.GetPublicProfile())
}
