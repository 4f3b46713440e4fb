// Package response writes the JSON envelope shared by every endpoint.
package response

import (
	"time"

	"mailbridge/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta carries run-level metadata.
type Meta struct {
	Total    int   `json:"total,omitempty"`
	Duration int64 `json:"duration_ms,omitempty"`
}

func envelope(c *fiber.Ctx) Response {
	requestID, _ := c.Locals("request_id").(string)
	return Response{
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data interface{}) error {
	r := envelope(c)
	r.Success = true
	r.Data = data
	return c.JSON(r)
}

// OKWithMeta returns a successful response with metadata.
func OKWithMeta(c *fiber.Ctx, data interface{}, meta *Meta) error {
	r := envelope(c)
	r.Success = true
	r.Data = data
	r.Meta = meta
	return c.JSON(r)
}

// Error returns an error response.
func Error(c *fiber.Ctx, status int, code, message string) error {
	r := envelope(c)
	r.Error = &ErrorInfo{Code: code, Message: message}
	return c.Status(status).JSON(r)
}

// FromError renders err with its application status and code.
func FromError(c *fiber.Ctx, err error) error {
	appErr := apperr.AsAppError(err)
	r := envelope(c)
	r.Error = &ErrorInfo{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	return c.Status(appErr.Status).JSON(r)
}
