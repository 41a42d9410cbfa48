package server

import (
	"strconv"
	"strings"

	"plistings/internal/middleware"
	"plistings/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// parseID extracts and validates a positive integer route parameter.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	raw := c.Params(param)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, models.NewBadRequestError("Invalid " + param)
	}
	return uint(id), nil
}

// currentUserID reads the authenticated user set by AuthRequired.
func currentUserID(c *fiber.Ctx) uint {
	if id, ok := c.Locals("userID").(uint); ok {
		return id
	}
	return 0
}

func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// optionalUserID attempts to extract the user from the Authorization header
// but does not enforce it. Used by public endpoints that behave differently
// for the owner.
func optionalUserID(c *fiber.Ctx) (uint, bool) {
	token := bearerToken(c)
	if token == "" {
		return 0, false
	}
	userID, err := middleware.ParseUserToken(token)
	if err != nil {
		return 0, false
	}
	return userID, true
}

// upgradeRequired rejects plain HTTP requests on websocket routes.
func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
