package bootstrap

import (
	"context"
	"time"

	"mailbridge/adapter/in/http"
	"mailbridge/adapter/out/messaging"
	"mailbridge/adapter/out/persistence"
	"mailbridge/adapter/out/provider"
	"mailbridge/config"
	"mailbridge/core/port/out"
	"mailbridge/core/service/auth"
	"mailbridge/core/service/ingest"
	"mailbridge/infra/database"
	"mailbridge/internal/stream"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/cache"
	"mailbridge/pkg/crypto"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/ratelimit"
	"mailbridge/pkg/session"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

const consumerGroup = "mailbridge-workers"

type Dependencies struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client // nil when REDIS_URL is unset or unreachable

	Store     *persistence.PostgresStore
	Source    *provider.GmailSource
	Publisher *messaging.NATSPublisher // nil when NATS_URL is unset or unreachable

	Orchestrator *ingest.Orchestrator
	AuthService  *auth.Service
	Sessions     *session.Manager

	Locker        *cache.Locker
	WebhookClaims *cache.RedisCache

	Stream   *stream.RedisStream
	Producer *stream.Producer // nil without Redis
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, apperr.Unavailable("postgres", err)
	}
	cleanups = append(cleanups, func() { db.Close() })

	if err := persistence.EnsureSchema(ctx, db); err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("PostgreSQL connected, schema ready")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, running without locks, caches or job queue")
			redisClient = nil
		} else {
			cleanups = append(cleanups, func() { redisClient.Close() })
			logger.Info("Redis connected")
		}
	}

	var cipher *crypto.TokenCipher
	if cfg.TokenEncryptionKey != "" {
		cipher, err = crypto.NewTokenCipher(cfg.TokenEncryptionKey)
		if err != nil {
			cleanup()
			return nil, nil, apperr.InvalidConfiguration("TOKEN_ENCRYPTION_KEY: " + err.Error())
		}
	}

	store := persistence.NewPostgresStore(db, cipher, cache.NewRedisCache(redisClient, "channel:"))

	gmailCfg := &provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}
	limiter := ratelimit.NewSlidingWindowLimiter(redisClient, cfg.GmailRatePerSecond, time.Second)
	source := provider.NewGmailSource(gmailCfg, limiter)

	var publisher *messaging.NATSPublisher
	var recordPublisher out.RecordPublisher
	if cfg.NATSURL != "" {
		publisher, err = messaging.NewNATSPublisher(cfg.NATSURL)
		if err == nil {
			err = publisher.EnsureStream(ctx)
			if err != nil {
				publisher.Close()
			}
		}
		if err != nil {
			logger.WithError(err).Warn("NATS unavailable, record events disabled")
			publisher = nil
		} else {
			cleanups = append(cleanups, publisher.Close)
			recordPublisher = publisher
			logger.Info("NATS JetStream connected")
		}
	}

	orchestrator := ingest.NewOrchestrator(
		source,
		store,
		ingest.NewKeywordMatcher(cfg.KeywordCaseSensitive),
		recordPublisher,
		ingest.Options{
			DefaultKeywords: cfg.DefaultKeywords,
			MaxResults:      cfg.SyncMaxResults,
			BatchWorkers:    cfg.SyncBatchWorkers,
			FetchTimeout:    cfg.GmailTimeout,
		},
	)

	deps := &Dependencies{
		Config:        cfg,
		DB:            db,
		Redis:         redisClient,
		Store:         store,
		Source:        source,
		Publisher:     publisher,
		Orchestrator:  orchestrator,
		Sessions:      session.NewManager(cfg.JWTSecret, cfg.SessionTTL),
		Locker:        cache.NewLocker(redisClient, "lock:"),
		WebhookClaims: cache.NewRedisCache(redisClient, "webhook:idempotent:"),
	}

	var jobs auth.SyncEnqueuer
	if redisClient != nil {
		deps.Stream = stream.NewRedisStream(redisClient, consumerGroup, cfg.ConsumerBatchSize,
			time.Duration(cfg.ConsumerBlockMS)*time.Millisecond)
		deps.Producer = stream.NewProducer(deps.Stream)
		jobs = deps.Producer
	}
	deps.AuthService = auth.NewService(provider.NewGoogleAuth(gmailCfg), store, deps.Sessions, jobs)

	return deps, cleanup, nil
}

// HealthChecks lists the dependencies reported by /ready.
func (d *Dependencies) HealthChecks() map[string]http.HealthChecker {
	checks := map[string]http.HealthChecker{
		"postgres": d.Store,
		"gmail": http.HealthCheckFunc(func(ctx context.Context) error {
			if d.Source.State() == "open" {
				return apperr.Unavailable("gmail", nil)
			}
			return nil
		}),
		"redis": nil,
	}
	if d.Redis != nil {
		checks["redis"] = http.HealthCheckFunc(func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		})
	}
	return checks
}
