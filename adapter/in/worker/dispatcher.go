package worker

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

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	targetLockTTL = 5 * time.Minute
	batchLockTTL  = 15 * time.Minute
)

// Enqueuer publishes follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *Message) error
}

type Handler struct {
	sync       in.SyncService
	channels   out.ChannelStore
	locker     *cache.Locker
	jobs       Enqueuer
	maxResults int
}

func NewHandler(sync in.SyncService, channels out.ChannelStore, locker *cache.Locker, jobs Enqueuer, maxResults int) *Handler {
	return &Handler{
		sync:       sync,
		channels:   channels,
		locker:     locker,
		jobs:       jobs,
		maxResults: maxResults,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobSyncUser:
		return h.processSyncUser(ctx, msg)
	case JobSyncChannel:
		return h.processSyncChannel(ctx, msg)
	case JobSyncBatch:
		return h.processSyncBatch(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func (h *Handler) processSyncUser(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[SyncUserPayload](msg)
	if err != nil {
		return apperr.BadRequest("invalid sync.user payload")
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return apperr.BadRequest("invalid user id")
	}

	return h.withLock(ctx, "user:"+userID.String(), targetLockTTL, func() error {
		report, err := h.sync.SyncUser(ctx, userID, h.limit(payload.MaxResults))
		if err != nil {
			return err
		}
		logReport("sync.user", report)
		return nil
	})
}

func (h *Handler) processSyncChannel(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[SyncChannelPayload](msg)
	if err != nil || payload.Slug == "" {
		return apperr.BadRequest("invalid sync.channel payload")
	}

	channel, err := h.channels.GetChannelBySlug(ctx, payload.Slug)
	if err != nil {
		return err
	}
	if !channel.IsActive || len(channel.Keywords) == 0 {
		logger.Info("[Worker] skipping channel %s: inactive or without keywords", channel.Slug)
		return nil
	}

	return h.withLock(ctx, "channel:"+channel.ID.String(), targetLockTTL, func() error {
		report, err := h.sync.SyncChannel(ctx, channel, h.limit(payload.MaxResults))
		if err != nil {
			return err
		}
		logReport("sync.channel", report)
		return nil
	})
}

// processSyncBatch runs the personal batch and then queues one channel sync per
// channel owned by a user whose personal sync succeeded.
func (h *Handler) processSyncBatch(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[SyncBatchPayload](msg)
	if err != nil {
		return apperr.BadRequest("invalid sync.batch payload")
	}
	keywords := payload.Keywords
	if len(keywords) == 0 {
		keywords = h.sync.DefaultKeywords()
	}
	maxResults := h.limit(payload.MaxResults)

	return h.withLock(ctx, "batch", batchLockTTL, func() error {
		report, err := h.sync.RunBatch(ctx, keywords, maxResults)
		if err != nil {
			return err
		}
		logger.Info("[Worker] sync.batch: %d users, %d new records, %d failures",
			len(report.Users), report.TotalSynced, len(report.Errors()))

		if !payload.FanOutChannels || h.jobs == nil {
			return nil
		}
		return h.fanOutChannels(ctx, report, maxResults)
	})
}

func (h *Handler) fanOutChannels(ctx context.Context, report *domain.BatchReport, maxResults int) error {
	owners := make([]uuid.UUID, 0, len(report.Users))
	for _, u := range report.Users {
		if u.Error == nil {
			owners = append(owners, u.UserID)
		}
	}
	if len(owners) == 0 {
		return nil
	}

	channels, err := h.channels.ListChannelsByOwners(ctx, owners)
	if err != nil {
		return err
	}

	queued := 0
	for _, ch := range channels {
		if err := h.jobs.Enqueue(ctx, NewSyncChannelMessage(ch.Slug, maxResults)); err != nil {
			logger.WithError(err).Warn("[Worker] failed to enqueue channel sync for %s", ch.Slug)
			continue
		}
		queued++
	}
	logger.Info("[Worker] queued %d/%d channel syncs", queued, len(channels))
	return nil
}

// withLock runs fn under the named lock. A held lock means another run covers the target.
func (h *Handler) withLock(ctx context.Context, name string, ttl time.Duration, fn func() error) error {
	if h.locker == nil {
		return fn()
	}
	lock, err := h.locker.Acquire(ctx, "sync:"+name, ttl)
	if errors.Is(err, cache.ErrLocked) {
		logger.Info("[Worker] %s already syncing, skipped", name)
		return nil
	}
	if err != nil {
		logger.WithError(err).Warn("[Worker] lock unavailable for %s", name)
		return fn()
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.WithError(err).Debug("[Worker] lock release failed for %s", name)
		}
	}()
	return fn()
}

func (h *Handler) limit(requested int) int {
	if requested > 0 {
		return requested
	}
	return h.maxResults
}

func logReport(job string, report *domain.SyncReport) {
	logger.WithFields(map[string]any{
		"target":     report.Target.String(),
		"found":      report.Found,
		"new":        report.NewCount,
		"saved":      report.SavedCount,
		"duplicates": report.Duplicates,
		"errors":     len(report.Errors),
	}).Info("[Worker] %s done", job)
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
