package persistence

import (
	"context"
	"time"

	"mailbridge/core/port/out"
	"mailbridge/pkg/cache"
	"mailbridge/pkg/crypto"

	"github.com/jmoiron/sqlx"
)

// PostgresStore is the out.Store backed by PostgreSQL.
type PostgresStore struct {
	*RecordAdapter
	*UserAdapter
	*ChannelAdapter

	db *sqlx.DB
}

// NewPostgresStore wires the record, user and channel adapters over one connection pool.
func NewPostgresStore(db *sqlx.DB, cipher *crypto.TokenCipher, channelCache *cache.RedisCache) *PostgresStore {
	return &PostgresStore{
		RecordAdapter:  NewRecordAdapter(db),
		UserAdapter:    NewUserAdapter(db, cipher),
		ChannelAdapter: NewChannelAdapter(db, channelCache),
		db:             db,
	}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return mapError(s.db.PingContext(ctx), "database")
}

var _ out.Store = (*PostgresStore)(nil)
