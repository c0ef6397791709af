package controller

import (
	"context"
	"path"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"easyplanning_backend/internal/middleware"
	"easyplanning_backend/internal/repository"
	"easyplanning_backend/pkg/entitlement"
	"easyplanning_backend/pkg/utils/image"
	"easyplanning_backend/pkg/utils/storage"
	"easyplanning_backend/pkg/utils/validation"
)

type BrandingInput struct {
	PrimaryColor  string `json:"primary_color"`
	AccentColor   string `json:"accent_color"`
	FooterText    string `json:"footer_text"`
	HidePoweredBy bool   `json:"hide_powered_by"`
}

// AssetStore keeps uploaded branding files.
type AssetStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type BrandingController struct {
	store  *repository.Store
	assets AssetStore
	log    zerolog.Logger
}

func NewBrandingController(store *repository.Store, assets AssetStore, log zerolog.Logger) *BrandingController {
	return &BrandingController{store: store, assets: assets, log: log}
}

func (b *BrandingController) GetBranding(c *fiber.Ctx) error {
	settings, err := b.store.Branding(c.UserContext(), middleware.Claims(c).AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not load branding",
		})
	}
	return c.JSON(settings)
}

// UpdateBranding must run behind the custom_branding feature check.
func (b *BrandingController) UpdateBranding(c *fiber.Ctx) error {
	input := new(BrandingInput)
	if err := c.BodyParser(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid input",
		})
	}
	for _, color := range []string{input.PrimaryColor, input.AccentColor} {
		if err := validation.ValidateColor(color); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if input.HidePoweredBy {
		tier, _ := middleware.Tier(c)
		if !entitlement.CanUseFeature(tier, entitlement.WhiteLabel) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "Hiding the EasyPlanningPro badge requires the white label feature",
				"feature": entitlement.WhiteLabel,
			})
		}
	}

	ctx := c.UserContext()
	settings, err := b.store.Branding(ctx, middleware.Claims(c).AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not load branding",
		})
	}
	settings.PrimaryColor = input.PrimaryColor
	settings.AccentColor = input.AccentColor
	settings.FooterText = input.FooterText
	settings.HidePoweredBy = input.HidePoweredBy
	if err := b.store.SaveBranding(ctx, settings); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not save branding",
		})
	}
	return c.JSON(settings)
}

// UploadLogo re-encodes the uploaded image as WebP and replaces the stored
// logo.
func (b *BrandingController) UploadLogo(c *fiber.Ctx) error {
	if b.assets == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "File storage is not configured",
		})
	}

	file, err := c.FormFile("logo")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validation.ErrFileRequired.Error()})
	}
	if err := validation.ValidateImage(file); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Could not read file"})
	}
	defer src.Close()

	buf, contentType, err := image.ToWebP(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx := c.UserContext()
	claims := middleware.Claims(c)
	account, err := b.store.AccountByID(ctx, claims.AccountID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Account not found"})
	}
	settings, err := b.store.Branding(ctx, account.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not load branding"})
	}

	key := storage.LogoKey(account.Slug, ".webp")
	url, err := b.assets.Put(ctx, key, buf.Bytes(), contentType)
	if err != nil {
		b.log.Error().Err(err).Str("key", key).Msg("Logo upload failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Could not upload logo"})
	}

	oldKey := settings.LogoKey
	settings.LogoKey = key
	settings.LogoURL = url
	if err := b.store.SaveBranding(ctx, settings); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not save branding"})
	}
	if oldKey != "" && oldKey != key {
		if err := b.assets.Delete(ctx, oldKey); err != nil {
			b.log.Warn().Err(err).Str("key", oldKey).Msg("Could not delete previous logo")
		}
	}

	return c.JSON(fiber.Map{
		"logo_url": url,
		"file":     path.Base(key),
	})
}

// GetLogoURL returns a short-lived download link for the current logo.
func (b *BrandingController) GetLogoURL(c *fiber.Ctx) error {
	ctx := c.UserContext()
	settings, err := b.store.Branding(ctx, middleware.Claims(c).AccountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Could not load branding"})
	}
	if settings.LogoKey == "" || b.assets == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "No logo uploaded"})
	}
	url, err := b.assets.PresignedURL(ctx, settings.LogoKey, 15*time.Minute)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Could not sign logo URL"})
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": 900})
}
