// Package messaging publishes pipeline events to NATS JetStream.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailbridge/core/domain"
	"mailbridge/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	StreamRecords          = "MAILBRIDGE_RECORDS"
	SubjectRecordPublished = "record.published"
)

// RecordPublishedEvent is the payload of a record.published message.
type RecordPublishedEvent struct {
	RecordID    uuid.UUID  `json:"record_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	ChannelID   *uuid.UUID `json:"channel_id,omitempty"`
	ProviderID  string     `json:"provider_id,omitempty"`
	Title       string     `json:"title"`
	Sender      string     `json:"sender"`
	Timestamp   string     `json:"timestamp,omitempty"`
	Category    string     `json:"category"`
	PublishedAt time.Time  `json:"published_at"`
}

// NATSPublisher implements out.RecordPublisher over JetStream.
type NATSPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewNATSPublisher connects to NATS and obtains a JetStream context.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("mailbridge"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &NATSPublisher{nc: nc, js: js}, nil
}

// EnsureStream creates the records stream when it does not exist.
func (p *NATSPublisher) EnsureStream(ctx context.Context) error {
	if info, err := p.js.StreamInfo(StreamRecords, nats.Context(ctx)); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       StreamRecords,
		Subjects:   []string{"record.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishRecord announces a committed record. The record id is the JetStream dedup id.
func (p *NATSPublisher) PublishRecord(ctx context.Context, rec *domain.PublishedRecord) error {
	payload, err := json.Marshal(newRecordPublishedEvent(rec))
	if err != nil {
		return err
	}

	if _, err := p.js.Publish(SubjectRecordPublished, payload, nats.MsgId(rec.ID.String()), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish record %s: %w", rec.ID, err)
	}
	return nil
}

func newRecordPublishedEvent(rec *domain.PublishedRecord) RecordPublishedEvent {
	return RecordPublishedEvent{
		RecordID:    rec.ID,
		UserID:      rec.UserID,
		ChannelID:   rec.ChannelID,
		ProviderID:  rec.ProviderID,
		Title:       rec.Title,
		Sender:      rec.Sender,
		Timestamp:   rec.Timestamp,
		Category:    rec.Category,
		PublishedAt: time.Now().UTC(),
	}
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

var _ out.RecordPublisher = (*NATSPublisher)(nil)
