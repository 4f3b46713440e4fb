// Package http exposes the pipeline triggers over Fiber.
package http

import (
	"mailbridge/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// GetUserID extracts the authenticated user id set by the session middleware.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, apperr.Unauthorized("")
	}
	return userID, nil
}

// maxResultsParam reads ?max_results, clamped to [1, limit]. def is used when absent.
func maxResultsParam(c *fiber.Ctx, def, limit int) int {
	n := c.QueryInt("max_results", def)
	if n < 1 {
		return def
	}
	if n > limit {
		return limit
	}
	return n
}
