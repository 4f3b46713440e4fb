package persistence

import (
	"context"
	"time"

	"mailbridge/core/domain"
	"mailbridge/pkg/cache"
	"mailbridge/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const channelCacheTTL = 5 * time.Minute

// ChannelAdapter resolves channels, caching lookups by slug in Redis.
type ChannelAdapter struct {
	db    *sqlx.DB
	cache *cache.RedisCache
}

// NewChannelAdapter creates a new ChannelAdapter. cache may be nil.
func NewChannelAdapter(db *sqlx.DB, c *cache.RedisCache) *ChannelAdapter {
	return &ChannelAdapter{db: db, cache: c}
}

type channelRow struct {
	ID        uuid.UUID      `db:"id"`
	Slug      string         `db:"slug"`
	Name      string         `db:"name"`
	OwnerID   uuid.UUID      `db:"owner_id"`
	Keywords  pq.StringArray `db:"keywords"`
	IsActive  bool           `db:"is_active"`
	IsPrivate bool           `db:"is_private"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r channelRow) toDomain() *domain.Channel {
	return &domain.Channel{
		ID:        r.ID,
		Slug:      r.Slug,
		Name:      r.Name,
		OwnerID:   r.OwnerID,
		Keywords:  []string(r.Keywords),
		IsActive:  r.IsActive,
		IsPrivate: r.IsPrivate,
		CreatedAt: r.CreatedAt,
	}
}

// GetChannelBySlug returns the channel or NOT_FOUND.
func (a *ChannelAdapter) GetChannelBySlug(ctx context.Context, slug string) (*domain.Channel, error) {
	var cached domain.Channel
	if found, err := a.cache.GetJSON(ctx, slug, &cached); err != nil {
		logger.WithError(err).Debug("[ChannelAdapter] cache read failed for %s", slug)
	} else if found {
		return &cached, nil
	}

	query := `
		SELECT id, slug, name, owner_id, keywords, is_active, is_private, created_at
		FROM channels
		WHERE slug = $1`

	var row channelRow
	if err := a.db.GetContext(ctx, &row, query, slug); err != nil {
		return nil, mapError(err, "channel")
	}

	ch := row.toDomain()
	if err := a.cache.SetJSON(ctx, slug, ch, channelCacheTTL); err != nil {
		logger.WithError(err).Debug("[ChannelAdapter] cache write failed for %s", slug)
	}
	return ch, nil
}

// ListChannelsByOwners returns the active channels owned by any of ownerIDs.
func (a *ChannelAdapter) ListChannelsByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]*domain.Channel, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(ownerIDs))
	for i, id := range ownerIDs {
		ids[i] = id.String()
	}

	query := `
		SELECT id, slug, name, owner_id, keywords, is_active, is_private, created_at
		FROM channels
		WHERE owner_id::text = ANY($1) AND is_active AND cardinality(keywords) > 0
		ORDER BY created_at`

	var rows []channelRow
	if err := a.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, mapError(err, "channels")
	}

	channels := make([]*domain.Channel, 0, len(rows))
	for _, r := range rows {
		channels = append(channels, r.toDomain())
	}
	return channels, nil
}
