package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCategory is the category assigned to pipeline-created records.
const DefaultCategory = "news"

// PublishedRecord is a NormalizedMessage committed into a personal feed, a channel feed or the global inbox.
type PublishedRecord struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	ChannelID   *uuid.UUID `json:"channel_id,omitempty" db:"channel_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	ProviderID  string     `json:"provider_id,omitempty" db:"provider_id"`
	Subject     string     `json:"subject" db:"subject"`
	Sender      string     `json:"sender" db:"sender"`
	Timestamp   string     `json:"timestamp,omitempty" db:"source_timestamp"`
	Snippet     string     `json:"snippet" db:"snippet"`
	BodyText    string     `json:"body_text" db:"body_text"`
	Category    string     `json:"category" db:"category"`
	IsPublic    bool       `json:"is_public" db:"is_public"`
	LikesCount  int        `json:"likes_count" db:"likes_count"`
	ViewsCount  int        `json:"views_count" db:"views_count"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Message returns the normalized fields of the record.
func (r *PublishedRecord) Message() NormalizedMessage {
	return NormalizedMessage{
		ProviderID: r.ProviderID,
		Subject:    r.Subject,
		Sender:     r.Sender,
		Timestamp:  r.Timestamp,
		Snippet:    r.Snippet,
		BodyText:   r.BodyText,
	}
}

// NewPublishedRecord builds the record committed for msg into target.
func NewPublishedRecord(target SyncTarget, msg NormalizedMessage) *PublishedRecord {
	rec := &PublishedRecord{
		ID:          uuid.New(),
		Title:       msg.Subject,
		Description: msg.Snippet,
		ProviderID:  msg.ProviderID,
		Subject:     msg.Subject,
		Sender:      msg.Sender,
		Timestamp:   msg.Timestamp,
		Snippet:     msg.Snippet,
		BodyText:    msg.BodyText,
		Category:    DefaultCategory,
		IsPublic:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if rec.Description == "" {
		rec.Description = truncateRunes(msg.BodyText, MaxSnippetLength)
	}
	if target.UserID != uuid.Nil {
		id := target.UserID
		rec.UserID = &id
	}
	if target.ChannelID != uuid.Nil {
		id := target.ChannelID
		rec.ChannelID = &id
	}
	return rec
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Credentials is the OAuth credential pair of one mailbox.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// HasRefresh reports whether the credentials can outlive the access token.
func (c Credentials) HasRefresh() bool {
	return c.RefreshToken != ""
}

// User is a mailbox owner.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	AvatarURL string    `json:"avatar_url" db:"avatar_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Channel is a named, keyword-tagged feed owned by one user.
type Channel struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Keywords  []string  `json:"keywords"`
	IsActive  bool      `json:"is_active"`
	IsPrivate bool      `json:"is_private"`
	CreatedAt time.Time `json:"created_at"`
}
