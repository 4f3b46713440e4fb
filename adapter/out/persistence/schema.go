package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// schema is idempotent. The partial unique index enforces one record per provider id per feed;
// legacy rows without a provider id are exempt.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	avatar_url    TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_expiry  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS channels (
	id         UUID PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	owner_id   UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	keywords   TEXT[] NOT NULL DEFAULT '{}',
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	is_private BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS published_records (
	id               UUID PRIMARY KEY,
	user_id          UUID REFERENCES users(id) ON DELETE CASCADE,
	channel_id       UUID REFERENCES channels(id) ON DELETE CASCADE,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	provider_id      TEXT,
	subject          TEXT NOT NULL,
	sender           TEXT NOT NULL DEFAULT '',
	source_timestamp TIMESTAMPTZ,
	snippet          TEXT NOT NULL DEFAULT '',
	body_text        TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT 'news',
	is_public        BOOLEAN NOT NULL DEFAULT TRUE,
	likes_count      INTEGER NOT NULL DEFAULT 0,
	views_count      INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS published_records_feed_provider_uniq
	ON published_records (
		COALESCE(user_id, '00000000-0000-0000-0000-000000000000'::uuid),
		COALESCE(channel_id, '00000000-0000-0000-0000-000000000000'::uuid),
		provider_id
	)
	WHERE provider_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS published_records_user_idx
	ON published_records (user_id, created_at DESC) WHERE channel_id IS NULL;

CREATE INDEX IF NOT EXISTS published_records_channel_idx
	ON published_records (channel_id, created_at DESC) WHERE channel_id IS NOT NULL;
`

// EnsureSchema creates tables and indexes when missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
