package worker

import (
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	JobSyncUser    JobType = "sync.user"    // personal feed of one user
	JobSyncChannel JobType = "sync.channel" // one channel feed
	JobSyncBatch   JobType = "sync.batch"   // every eligible user, optionally fanning out to channels
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// SyncUserPayload triggers a personal sync, usually right after sign-in.
type SyncUserPayload struct {
	UserID     string `json:"user_id"`
	MaxResults int    `json:"max_results,omitempty"`
}

// SyncChannelPayload addresses a channel by slug so the worker reads its current keywords.
type SyncChannelPayload struct {
	Slug       string `json:"slug"`
	MaxResults int    `json:"max_results,omitempty"`
}

type SyncBatchPayload struct {
	Keywords       []string `json:"keywords,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	FanOutChannels bool     `json:"fan_out_channels"`
}

func NewSyncUserMessage(userID uuid.UUID) *Message {
	return NewMessage(JobSyncUser, map[string]any{"user_id": userID.String()})
}

func NewSyncChannelMessage(slug string, maxResults int) *Message {
	return NewMessage(JobSyncChannel, map[string]any{"slug": slug, "max_results": maxResults})
}

func NewSyncBatchMessage(fanOut bool) *Message {
	return NewMessage(JobSyncBatch, map[string]any{"fan_out_channels": fanOut})
}
