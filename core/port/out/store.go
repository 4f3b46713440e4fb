package out

import (
	"context"

	"mailbridge/core/domain"

	"github.com/google/uuid"
)

// KeyReader reads the identity keys already committed to a target.
type KeyReader interface {
	ReadExistingKeys(ctx context.Context, target domain.SyncTarget) (domain.KeySet, error)
}

// RecordWriter commits published records.
// Insert returns apperr CONFLICT when the record's provider id is already committed to the same feed.
type RecordWriter interface {
	Insert(ctx context.Context, rec *domain.PublishedRecord) (uuid.UUID, error)
}

// CredentialStore reads mailbox credentials. Missing users yield apperr NOT_FOUND.
type CredentialStore interface {
	ReadCredentials(ctx context.Context, userID uuid.UUID) (domain.Credentials, error)
}

// UserStore manages mailbox owners.
type UserStore interface {
	// UpsertUser creates or updates the user by email. An empty refresh token keeps the stored one.
	UpsertUser(ctx context.Context, user *domain.User, creds domain.Credentials) (*domain.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	ListEligibleUsers(ctx context.Context) ([]*domain.User, error)
}

// ChannelStore resolves channels.
type ChannelStore interface {
	GetChannelBySlug(ctx context.Context, slug string) (*domain.Channel, error)
	// ListChannelsByOwners returns active channels with keywords owned by any of ownerIDs.
	ListChannelsByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]*domain.Channel, error)
}

// Store is the persistence surface consumed by the ingestion pipeline and its triggers.
type Store interface {
	KeyReader
	RecordWriter
	CredentialStore
	UserStore
	ChannelStore
}

// RecordPublisher announces committed records to downstream consumers.
type RecordPublisher interface {
	PublishRecord(ctx context.Context, rec *domain.PublishedRecord) error
}
