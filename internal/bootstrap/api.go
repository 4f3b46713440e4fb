package bootstrap

import (
	"strings"
	"time"

	"mailbridge/adapter/in/http"
	"mailbridge/infra/database"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// NewAPI builds the HTTP app serving every sync trigger.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    2 * 1024 * 1024, // pushed messages carry capped bodies
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch sync responds after the whole run
		ServerHeader: "",
	})

	// order matters
	app.Use(recover.New(recover.Config{EnableStackTrace: !cfg.IsProduction()}))
	app.Use(requestid.New(requestid.Config{ContextKey: "request_id"}))
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	http.NewHealthHandler(deps.HealthChecks()).
		WithStats(func() any { return fiber.Map{"postgres": database.GetPoolStats(deps.DB)} }).
		Register(app)
	http.NewOAuthHandler(deps.AuthService, cfg.AppURL, cfg.SessionTTL).Register(app)

	api := app.Group("/api")

	app.Use("/api/webhook", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apperr.New(apperr.CodeRateLimited, "too many webhook deliveries", fiber.StatusTooManyRequests)
		},
	}))
	http.NewWebhookHandler(deps.Orchestrator, deps.Store, deps.WebhookClaims, cfg.WebhookSecret).Register(api)

	syncHandler := http.NewSyncHandler(deps.Orchestrator, deps.Store, deps.Locker, cfg.SyncMaxResults)
	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET not set, /api/cron/sync-emails is unauthenticated")
	}
	syncHandler.RegisterCron(api.Group("/cron", middleware.SharedSecret(cfg.CronSecret)))
	syncHandler.Register(api.Group("/v1", middleware.SessionAuth(deps.Sessions)))

	logger.Info("API server initialized")
	return app
}
