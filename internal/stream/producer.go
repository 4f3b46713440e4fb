package stream

import (
	"context"
	"time"

	"mailbridge/adapter/in/worker"

	"github.com/google/uuid"
)

// Job is the stream entry format.
type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

type Producer struct {
	stream *RedisStream
}

func NewProducer(stream *RedisStream) *Producer {
	return &Producer{stream: stream}
}

func (p *Producer) Enqueue(ctx context.Context, msg *worker.Message) error {
	job := &Job{
		ID:        msg.ID,
		Type:      msg.Type,
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt,
	}
	_, err := p.stream.Publish(ctx, StreamJobs, job)
	return err
}

// EnqueueUserSync queues the first personal sync after sign-in.
func (p *Producer) EnqueueUserSync(ctx context.Context, userID uuid.UUID) error {
	return p.Enqueue(ctx, worker.NewSyncUserMessage(userID))
}
