package controllers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mkessler/streamgate/internal/pkg/entitlement"
	"github.com/mkessler/streamgate/internal/pkg/grant"
	"github.com/mkessler/streamgate/internal/pkg/usercontext"
)

var (
	grantIssuer      *grant.Issuer
	entitlementStore *entitlement.Engine
)

// InitializeAccessController binds the grant issuer and the entitlement
// engine used by the read endpoints.
func InitializeAccessController(issuer *grant.Issuer, engine *entitlement.Engine) {
	grantIssuer = issuer
	entitlementStore = engine
}

// HandleAssetAccess issues a short-lived media grant for one asset. A valid
// login is necessary but never sufficient: entitlement state is checked on
// every call.
func HandleAssetAccess(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	assetID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || assetID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid asset id"})
	}

	g, err := grantIssuer.Issue(c.Context(), userCtx.UserID, uint(assetID))
	if err != nil {
		if reason, ok := grant.Denied(err); ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":  "access_denied",
				"reason": string(reason),
			})
		}
		log.Errorf("[Access] Grant issuance failed for user %d asset %d: %v", userCtx.UserID, assetID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Grant issuance failed"})
	}

	return c.JSON(fiber.Map{
		"asset_id":   g.AssetID,
		"url":        g.URL,
		"token":      g.Token,
		"issued_at":  g.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at": g.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// HandleListEntitlements returns the caller's entitlements across all plans.
func HandleListEntitlements(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	ents, err := entitlementStore.ListByUser(c.Context(), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load entitlements"})
	}

	now := time.Now()
	items := make([]fiber.Map, 0, len(ents))
	for _, ent := range ents {
		if ent.LastEventAt == nil {
			continue
		}
		items = append(items, fiber.Map{
			"plan_id":            ent.PlanID,
			"status":             ent.Status,
			"entitled":           entitlement.IsEntitling(ent.Status, ent.GraceDeadline, now),
			"current_period_end": formatTimePtr(ent.CurrentPeriodEnd),
			"grace_deadline":     formatTimePtr(ent.GraceDeadline),
		})
	}

	return c.JSON(fiber.Map{"entitlements": items})
}
