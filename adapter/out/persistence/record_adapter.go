// Package persistence provides PostgreSQL adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mailbridge/core/domain"
	"mailbridge/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RecordAdapter reads and writes published records.
type RecordAdapter struct {
	db *sqlx.DB
}

// NewRecordAdapter creates a new RecordAdapter.
func NewRecordAdapter(db *sqlx.DB) *RecordAdapter {
	return &RecordAdapter{db: db}
}

// recordRow is the database row for published_records.
type recordRow struct {
	ID          uuid.UUID      `db:"id"`
	UserID      *uuid.UUID     `db:"user_id"`
	ChannelID   *uuid.UUID     `db:"channel_id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	ProviderID  sql.NullString `db:"provider_id"`
	Subject     string         `db:"subject"`
	Sender      string         `db:"sender"`
	Timestamp   sql.NullTime   `db:"source_timestamp"`
	Snippet     string         `db:"snippet"`
	BodyText    string         `db:"body_text"`
	Category    string         `db:"category"`
	IsPublic    bool           `db:"is_public"`
	LikesCount  int            `db:"likes_count"`
	ViewsCount  int            `db:"views_count"`
	CreatedAt   time.Time      `db:"created_at"`
}

// keyRow carries the identity fields of an existing record.
type keyRow struct {
	ProviderID sql.NullString `db:"provider_id"`
	Subject    string         `db:"subject"`
	Timestamp  sql.NullTime   `db:"source_timestamp"`
}

func (r keyRow) message() domain.NormalizedMessage {
	msg := domain.NormalizedMessage{Subject: r.Subject}
	if r.ProviderID.Valid {
		msg.ProviderID = r.ProviderID.String
	}
	if r.Timestamp.Valid {
		msg.Timestamp = r.Timestamp.Time.UTC().Format(time.RFC3339)
	}
	return msg
}

func toRecordRow(rec *domain.PublishedRecord) recordRow {
	row := recordRow{
		ID:          rec.ID,
		UserID:      rec.UserID,
		ChannelID:   rec.ChannelID,
		Title:       rec.Title,
		Description: rec.Description,
		ProviderID:  sql.NullString{String: rec.ProviderID, Valid: rec.ProviderID != ""},
		Subject:     rec.Subject,
		Sender:      rec.Sender,
		Snippet:     rec.Snippet,
		BodyText:    rec.BodyText,
		Category:    rec.Category,
		IsPublic:    rec.IsPublic,
		LikesCount:  rec.LikesCount,
		ViewsCount:  rec.ViewsCount,
		CreatedAt:   rec.CreatedAt,
	}
	if t, ok := rec.Message().Time(); ok {
		row.Timestamp = sql.NullTime{Time: t.UTC(), Valid: true}
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.Category == "" {
		row.Category = domain.DefaultCategory
	}
	return row
}

// feedClause returns the WHERE predicate selecting the records of one feed.
func feedClause(target domain.SyncTarget) (string, []interface{}, error) {
	switch target.Scope {
	case domain.ScopeUser:
		return "user_id = $1 AND channel_id IS NULL", []interface{}{target.UserID}, nil
	case domain.ScopeChannel:
		return "channel_id = $1", []interface{}{target.ChannelID}, nil
	case domain.ScopeInbox:
		return "user_id IS NULL AND channel_id IS NULL", nil, nil
	default:
		return "", nil, apperr.BadRequest(fmt.Sprintf("target %s has no single feed", target))
	}
}

// ReadExistingKeys loads the identity keys of every record already in the target's feed.
func (a *RecordAdapter) ReadExistingKeys(ctx context.Context, target domain.SyncTarget) (domain.KeySet, error) {
	where, args, err := feedClause(target)
	if err != nil {
		return nil, err
	}

	query := `SELECT provider_id, subject, source_timestamp FROM published_records WHERE ` + where

	var rows []keyRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err, "published records")
	}

	keys := domain.NewKeySet()
	for _, r := range rows {
		keys.Add(r.message())
	}
	return keys, nil
}

// Insert commits rec. A record whose provider id is already in the same feed yields CONFLICT.
func (a *RecordAdapter) Insert(ctx context.Context, rec *domain.PublishedRecord) (uuid.UUID, error) {
	row := toRecordRow(rec)

	query := `
		INSERT INTO published_records (
			id, user_id, channel_id, title, description, provider_id, subject, sender,
			source_timestamp, snippet, body_text, category, is_public, likes_count, views_count, created_at
		) VALUES (
			:id, :user_id, :channel_id, :title, :description, :provider_id, :subject, :sender,
			:source_timestamp, :snippet, :body_text, :category, :is_public, :likes_count, :views_count, :created_at
		)
		ON CONFLICT DO NOTHING
		RETURNING id`

	rows, err := a.db.NamedQueryContext(ctx, query, row)
	if err != nil {
		return uuid.Nil, mapError(err, "published record")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return uuid.Nil, mapError(err, "published record")
		}
		return uuid.Nil, apperr.Conflict("record already published to this feed").
			WithDetail("provider_id", rec.ProviderID)
	}

	var id uuid.UUID
	if err := rows.Scan(&id); err != nil {
		return uuid.Nil, mapError(err, "published record")
	}
	rec.ID = id
	return id, nil
}
