package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"mailbridge/core/port/in"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

const (
	oauthStateCookie = "mb_oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// OAuthHandler runs the Google sign-in redirect flow.
type OAuthHandler struct {
	auth       in.AuthService
	appURL     string
	sessionTTL time.Duration
}

func NewOAuthHandler(auth in.AuthService, appURL string, sessionTTL time.Duration) *OAuthHandler {
	return &OAuthHandler{
		auth:       auth,
		appURL:     strings.TrimSuffix(appURL, "/"),
		sessionTTL: sessionTTL,
	}
}

func (h *OAuthHandler) Register(app fiber.Router) {
	auth := app.Group("/auth")
	auth.Get("/google", h.Connect)
	auth.Get("/google/callback", h.Callback)
}

// generateSecureState returns 32 random bytes, hex encoded.
func generateSecureState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	state, err := generateSecureState()
	if err != nil {
		return apperr.InternalWithError(err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth",
		Expires:  time.Now().Add(oauthStateTTL),
		HTTPOnly: true,
		Secure:   h.secure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Redirect(h.auth.AuthURL(state), fiber.StatusFound)
}

func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("[OAuth Callback] provider returned error: %s", errParam)
		return h.fail(c, errParam)
	}

	state := c.Query("state")
	expected := c.Cookies(oauthStateCookie)
	c.ClearCookie(oauthStateCookie)
	if state == "" || expected == "" || !middleware.SecretEqual(state, expected) {
		logger.Warn("[OAuth Callback] state mismatch")
		return h.fail(c, "invalid_state")
	}

	result, err := h.auth.HandleCallback(c.UserContext(), c.Query("code"))
	if err != nil {
		logger.WithError(err).Error("[OAuth Callback] sign-in failed")
		return h.fail(c, strings.ToLower(apperr.CodeOf(err)))
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    result.SessionToken,
		Path:     "/",
		Expires:  time.Now().Add(h.sessionTTL),
		HTTPOnly: true,
		Secure:   h.secure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.Redirect(h.appURL+"/sync", fiber.StatusFound)
}

func (h *OAuthHandler) fail(c *fiber.Ctx, reason string) error {
	return c.Redirect(h.appURL+"/login?error="+url.QueryEscape(reason), fiber.StatusFound)
}

func (h *OAuthHandler) secure() bool {
	return strings.HasPrefix(h.appURL, "https://")
}
