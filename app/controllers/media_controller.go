package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mkessler/streamgate/internal/pkg/catalog"
	"github.com/mkessler/streamgate/internal/pkg/grant"
	"github.com/mkessler/streamgate/internal/pkg/signing"
	"github.com/mkessler/streamgate/internal/pkg/storage"
)

var (
	mediaCatalog catalog.Resolver
	mediaContext *signing.Context
	mediaStore   *storage.Client
)

// InitializeMediaController binds the catalog, media-grant signing context
// and object store client. store may be nil when no object store is
// configured.
func InitializeMediaController(cat catalog.Resolver, media *signing.Context, store *storage.Client) {
	mediaCatalog = cat
	mediaContext = media
	mediaStore = store
}

// HandleMediaRedeem redeems a media grant token for the asset bytes. This is
// the verifying-proxy path used when grants carry no presigned URL: the token
// alone authorizes the read, no entitlement lookup happens here.
func HandleMediaRedeem(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Query("grant"))
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing grant"})
	}

	claims, err := signing.VerifyMediaGrant(mediaContext, token)
	if err != nil {
		msg := "Invalid grant"
		if errors.Is(err, signing.ErrTokenExpired) {
			msg = "Grant expired"
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": msg})
	}

	asset, err := mediaCatalog.GetAssetByUUID(c.Context(), c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown asset"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Asset lookup failed"})
	}

	// A grant is scoped to exactly one asset; the URL path must agree.
	if claims.AssetID != asset.ID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":  "access_denied",
			"reason": string(grant.DeniedAssetNotCovered),
		})
	}

	if mediaStore == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "media_store_unavailable"})
	}

	// Remaining grant lifetime caps the redirect's validity.
	url, err := mediaStore.PresignGetObject(c.Context(), asset.ObjectKey, claims.Remaining())
	if err != nil {
		log.Errorf("[Media] Presign failed for asset %d: %v", asset.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Media store error"})
	}

	return c.Redirect(url, fiber.StatusFound)
}
