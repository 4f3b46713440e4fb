package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/session"

	"github.com/gofiber/fiber/v2"
)

// SessionCookie is the cookie carrying the session token set by the OAuth callback.
const SessionCookie = "mb_session"

// SessionAuth requires a valid session token from the Authorization header or the session cookie.
// The user id is stored in c.Locals("user_id").
func SessionAuth(sessions *session.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = c.Cookies(SessionCookie)
		}
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		userID, claims, err := sessions.Parse(tokenString)
		if err != nil {
			logger.WithError(err).Debug("session validation failed")
			return apperr.Unauthorized("invalid session")
		}

		c.Locals("user_id", userID)
		c.Locals("user_email", claims.Email)
		c.SetUserContext(context.WithValue(c.UserContext(), logger.UserIDKey, userID.String()))
		return c.Next()
	}
}

// SharedSecret requires "Authorization: Bearer <secret>". An empty secret disables the check.
func SharedSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		if !SecretEqual(bearerToken(c), secret) {
			return apperr.Unauthorized("invalid credentials")
		}
		return c.Next()
	}
}

// SecretEqual compares secrets in constant time.
func SecretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func bearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
