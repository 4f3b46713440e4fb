package in

import (
	"context"

	"mailbridge/core/domain"

	"github.com/google/uuid"
)

// SyncService runs the ingestion pipeline for the delivery surfaces.
type SyncService interface {
	// SyncUser syncs the user's personal feed with the default keywords.
	SyncUser(ctx context.Context, userID uuid.UUID, maxResults int) (*domain.SyncReport, error)

	// SyncChannel syncs a channel feed with the channel's keywords and its owner's mailbox.
	SyncChannel(ctx context.Context, channel *domain.Channel, maxResults int) (*domain.SyncReport, error)

	// RunBatch syncs every eligible user's personal feed.
	RunBatch(ctx context.Context, keywords []string, maxResults int) (*domain.BatchReport, error)

	// Accept dedups and commits one pushed message.
	Accept(ctx context.Context, target domain.SyncTarget, msg domain.NormalizedMessage) (*domain.SyncReport, error)

	DefaultKeywords() []string
}
