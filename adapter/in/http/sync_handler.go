package http

import (
	"context"
	"errors"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/in"
	"mailbridge/core/port/out"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/cache"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const (
	userSyncLockTTL  = 5 * time.Minute
	batchSyncLockTTL = 15 * time.Minute
	maxResultsLimit  = 500
)

// SyncHandler serves manual and scheduled sync triggers.
type SyncHandler struct {
	sync       in.SyncService
	channels   out.ChannelStore
	locker     *cache.Locker
	maxResults int
}

func NewSyncHandler(sync in.SyncService, channels out.ChannelStore, locker *cache.Locker, maxResults int) *SyncHandler {
	return &SyncHandler{
		sync:       sync,
		channels:   channels,
		locker:     locker,
		maxResults: maxResults,
	}
}

// Register mounts session-protected routes on api.
func (h *SyncHandler) Register(api fiber.Router) {
	api.Post("/sync", h.SyncMine)
	api.Post("/channels/:slug/sync", h.SyncChannel)
}

// RegisterCron mounts the batch trigger.
func (h *SyncHandler) RegisterCron(cron fiber.Router) {
	cron.Get("/sync-emails", h.SyncAll)
	cron.Post("/sync-emails", h.SyncAll)
}

// SyncMine runs a personal sync for the signed-in user.
func (h *SyncHandler) SyncMine(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	release, err := h.lock(ctx, "user:"+userID.String(), userSyncLockTTL)
	if err != nil {
		return err
	}
	defer release()

	report, err := h.sync.SyncUser(ctx, userID, maxResultsParam(c, h.maxResults, maxResultsLimit))
	if err != nil {
		return withReport(err, report)
	}
	return response.OK(c, report)
}

// SyncChannel runs a channel sync. Only the owner may trigger it.
func (h *SyncHandler) SyncChannel(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()

	channel, err := h.channels.GetChannelBySlug(ctx, c.Params("slug"))
	if err != nil {
		return err
	}
	if !channel.IsActive {
		return apperr.NotFound("channel")
	}
	if channel.OwnerID != userID {
		return apperr.Forbidden("only the channel owner can sync this channel")
	}
	if len(channel.Keywords) == 0 {
		return apperr.InvalidConfiguration("channel has no keywords")
	}

	release, err := h.lock(ctx, "channel:"+channel.ID.String(), userSyncLockTTL)
	if err != nil {
		return err
	}
	defer release()

	report, err := h.sync.SyncChannel(ctx, channel, maxResultsParam(c, h.maxResults, maxResultsLimit))
	if err != nil {
		return withReport(err, report)
	}
	return response.OK(c, report)
}

// SyncAll runs the batch over every eligible user. Per-user failures are reported in the body,
// so the status is 200 unless the run could not start.
func (h *SyncHandler) SyncAll(c *fiber.Ctx) error {
	ctx := c.UserContext()
	start := time.Now()

	release, err := h.lock(ctx, "batch", batchSyncLockTTL)
	if err != nil {
		return err
	}
	defer release()

	report, err := h.sync.RunBatch(ctx, h.sync.DefaultKeywords(), h.maxResults)
	if err != nil {
		return err
	}

	logger.Info("[SyncHandler.SyncAll] %d users, %d new records", len(report.Users), report.TotalSynced)
	return response.OKWithMeta(c, batchBody(report), &response.Meta{
		Total:    len(report.Users),
		Duration: time.Since(start).Milliseconds(),
	})
}

type batchResponse struct {
	TotalSynced int                 `json:"totalSynced"`
	Results     []domain.UserReport `json:"results"`
}

func batchBody(report *domain.BatchReport) batchResponse {
	results := report.Users
	if results == nil {
		results = []domain.UserReport{}
	}
	return batchResponse{TotalSynced: report.TotalSynced, Results: results}
}

func (h *SyncHandler) lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if h.locker == nil {
		return func() {}, nil
	}
	lock, err := h.locker.Acquire(ctx, "sync:"+name, ttl)
	if errors.Is(err, cache.ErrLocked) {
		return nil, apperr.Conflict("a sync for this target is already running")
	}
	if err != nil {
		// lock storage down: run unguarded rather than refuse the sync
		logger.WithError(err).Warn("[SyncHandler] lock unavailable for %s", name)
		return func() {}, nil
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.WithError(err).Debug("[SyncHandler] lock release failed for %s", name)
		}
	}, nil
}

// withReport attaches the counts of a failed run to its error so the envelope carries them.
func withReport(err error, report *domain.SyncReport) error {
	if report == nil {
		return err
	}
	ae := *apperr.AsAppError(err)
	details := make(map[string]any, len(ae.Details)+1)
	for k, v := range ae.Details {
		details[k] = v
	}
	details["report"] = report
	ae.Details = details
	return &ae
}
