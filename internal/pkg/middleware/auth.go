package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
	"github.com/mkessler/streamgate/internal/pkg/database"
	"github.com/mkessler/streamgate/internal/pkg/signing"
	"github.com/mkessler/streamgate/internal/pkg/usercontext"
)

// BearerAuthMiddleware authenticates requests carrying an access token and
// populates the request user context. Tokens are verified against the access
// signing context only; refresh tokens and media grants never pass here.
func BearerAuthMiddleware(access *signing.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing access token"})
		}

		claims, err := signing.VerifyAuthToken(access, token)
		if err != nil {
			msg := "Invalid access token"
			if errors.Is(err, signing.ErrTokenExpired) {
				msg = "Access token expired"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": msg})
		}

		db := database.GetDB()
		if db == nil {
			log.Print("bearer auth middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		user, err := models.FindUserByID(db, claims.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Unknown user"})
			}
			log.Printf("bearer auth user lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Authentication failed"})
		}

		if user.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		c.Locals("USER_CONTEXT", usercontext.UserContext{
			UserID:     user.ID,
			Email:      user.Email,
			IsLoggedIn: true,
			IsAdmin:    user.Role == models.ROLE_ADMIN,
		})

		return c.Next()
	}
}

// RequireAdmin ensures the authenticated user is an admin; returns JSON 403 otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin required",
		})
	}
	return c.Next()
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
