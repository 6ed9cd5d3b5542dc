package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
	"github.com/mkessler/streamgate/internal/pkg/config"
	"github.com/mkessler/streamgate/internal/pkg/database"
	"github.com/mkessler/streamgate/internal/pkg/signing"
)

var (
	authContexts *signing.Contexts
	authConfig   *config.Config
)

// InitializeAuthController binds the signing contexts used for token issuance.
func InitializeAuthController(cfg *config.Config, contexts *signing.Contexts) {
	authConfig = cfg
	authContexts = contexts
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleLogin verifies credentials and issues an access/refresh token pair.
// Login failures are intentionally uniform: callers cannot probe which
// accounts exist.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "email and password are required"})
	}

	user, err := models.FindUserByEmail(database.GetDB(), req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loginFailed(c)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Login failed"})
	}
	if !models.CheckPasswordHash(req.Password, user.Password) {
		return loginFailed(c)
	}
	if user.Status != models.STATUS_ACTIVE {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
	}

	accessToken, err := signing.MintAuthToken(authContexts.Access, user.ID, user.Email, authConfig.AccessTokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}
	refreshToken, err := signing.MintAuthToken(authContexts.Refresh, user.ID, user.Email, authConfig.RefreshTokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}

	database.GetDB().Model(user).Update("last_login_at", time.Now())

	return c.JSON(fiber.Map{
		"token_type":    "bearer",
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int64(authConfig.AccessTokenTTL.Seconds()),
	})
}

// HandleRefresh exchanges a valid refresh token for a fresh access token.
// Access tokens never verify here; the two contexts use disjoint keys.
func HandleRefresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "refresh_token is required"})
	}

	claims, err := signing.VerifyAuthToken(authContexts.Refresh, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		msg := "Invalid refresh token"
		if errors.Is(err, signing.ErrTokenExpired) {
			msg = "Refresh token expired"
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": msg})
	}

	user, err := models.FindUserByID(database.GetDB(), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Unknown user"})
	}
	if user.Status != models.STATUS_ACTIVE {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
	}

	accessToken, err := signing.MintAuthToken(authContexts.Access, user.ID, user.Email, authConfig.AccessTokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}

	return c.JSON(fiber.Map{
		"token_type":   "bearer",
		"access_token": accessToken,
		"expires_in":   int64(authConfig.AccessTokenTTL.Seconds()),
	})
}

func loginFailed(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": "Invalid email or password",
	})
}
