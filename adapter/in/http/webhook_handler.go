package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/in"
	"mailbridge/core/port/out"
	"mailbridge/core/service/ingest"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/cache"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

const webhookIdempotencyTTL = 5 * time.Minute

// WebhookEmail is one message pushed by a mail forwarding script.
type WebhookEmail struct {
	ID      string `json:"id"`
	Subject string `json:"subject" validate:"required"`
	From    string `json:"from" validate:"required"`
	Date    string `json:"date"`
	Body    string `json:"body"`
	Snippet string `json:"snippet"`
}

// WebhookRequest is the webhook body.
type WebhookRequest struct {
	Secret string        `json:"secret"`
	Email  *WebhookEmail `json:"email" validate:"required"`
}

type webhookResult struct {
	Duplicate bool   `json:"duplicate"`
	Saved     int    `json:"saved"`
	Channel   string `json:"channel,omitempty"`
}

// WebhookHandler accepts pushed messages for the global inbox and for channels.
type WebhookHandler struct {
	sync     in.SyncService
	channels out.ChannelStore
	claims   *cache.RedisCache
	secret   string
	validate *validator.Validate
}

func NewWebhookHandler(sync in.SyncService, channels out.ChannelStore, claims *cache.RedisCache, secret string) *WebhookHandler {
	return &WebhookHandler{
		sync:     sync,
		channels: channels,
		claims:   claims,
		secret:   secret,
		validate: validator.New(),
	}
}

func (h *WebhookHandler) Register(app fiber.Router) {
	webhook := app.Group("/webhook")
	webhook.Get("/email", h.InboxStatus)
	webhook.Post("/email", h.Inbox)
	webhook.Get("/channel/:slug", h.ChannelStatus)
	webhook.Post("/channel/:slug", h.Channel)
}

func (h *WebhookHandler) InboxStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"message": "email webhook is accepting deliveries",
	})
}

// Inbox commits a pushed message to the global inbox feed.
func (h *WebhookHandler) Inbox(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	result, err := h.accept(c.UserContext(), domain.InboxTarget(), req.Email)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

func (h *WebhookHandler) ChannelStatus(c *fiber.Ctx) error {
	channel, err := h.activeChannel(c.UserContext(), c.Params("slug"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":   "ok",
		"channel":  channel.Name,
		"keywords": channel.Keywords,
	})
}

// Channel commits a pushed message to a channel feed, owned by the channel owner.
func (h *WebhookHandler) Channel(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	channel, err := h.activeChannel(ctx, c.Params("slug"))
	if err != nil {
		return err
	}

	result, err := h.accept(ctx, domain.ChannelTarget(channel.OwnerID, channel.ID), req.Email)
	if err != nil {
		return err
	}
	result.Channel = channel.Name
	return response.OK(c, result)
}

// parse decodes the body, checks the shared secret, then validates the message.
// The secret is checked before anything touches the store.
func (h *WebhookHandler) parse(c *fiber.Ctx) (*WebhookRequest, error) {
	var req WebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, apperr.BadRequest("invalid request body")
	}
	if h.secret == "" || !middleware.SecretEqual(req.Secret, h.secret) {
		logger.Warn("[WebhookHandler] rejected delivery with invalid secret from %s", c.IP())
		return nil, apperr.Unauthorized("invalid webhook secret")
	}
	if err := h.validate.Struct(&req); err != nil {
		return nil, validationError(err)
	}
	return &req, nil
}

func (h *WebhookHandler) accept(ctx context.Context, target domain.SyncTarget, email *WebhookEmail) (*webhookResult, error) {
	msg := domain.NormalizedMessage{
		ProviderID: email.ID,
		Subject:    email.Subject,
		Sender:     email.From,
		Timestamp:  ingest.ParseTimestamp(email.Date),
		Snippet:    email.Snippet,
		BodyText:   email.Body,
	}

	key := idempotencyKey(target, email)
	claimed, err := h.claims.Claim(ctx, key, webhookIdempotencyTTL)
	if err != nil {
		logger.WithError(err).Warn("[WebhookHandler] idempotency store unavailable")
		claimed = true
	}
	if !claimed {
		return &webhookResult{Duplicate: true}, nil
	}

	report, err := h.sync.Accept(ctx, target, msg)
	if err == nil && len(report.Errors) > 0 {
		first := report.FirstError()
		err = apperr.New(first.Code, first.Reason, fiber.StatusInternalServerError)
	}
	if err != nil {
		// let the sender retry
		if delErr := h.claims.Delete(ctx, key); delErr != nil {
			logger.WithError(delErr).Warn("[WebhookHandler] failed to release idempotency key")
		}
		return nil, err
	}

	logger.Info("[WebhookHandler] %s: %q saved=%d duplicate=%d", target, email.Subject, report.SavedCount, report.Duplicates)
	return &webhookResult{Duplicate: report.Duplicates > 0, Saved: report.SavedCount}, nil
}

func (h *WebhookHandler) activeChannel(ctx context.Context, slug string) (*domain.Channel, error) {
	channel, err := h.channels.GetChannelBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !channel.IsActive {
		return nil, apperr.NotFound("channel")
	}
	return channel, nil
}

func idempotencyKey(target domain.SyncTarget, email *WebhookEmail) string {
	h := sha256.New()
	for _, part := range []string{target.String(), email.ID, email.Subject, email.From, email.Date} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return apperr.MissingField(jsonFieldName(fieldErrs[0].StructNamespace()))
	}
	return apperr.BadRequest("invalid email data")
}

func jsonFieldName(namespace string) string {
	switch namespace {
	case "WebhookRequest.Email":
		return "email"
	case "WebhookRequest.Email.Subject":
		return "email.subject"
	case "WebhookRequest.Email.From":
		return "email.from"
	}
	return namespace
}
