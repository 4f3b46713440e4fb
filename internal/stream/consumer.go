package stream

import (
	"context"
	"errors"

	"mailbridge/adapter/in/worker"
	"mailbridge/pkg/logger"

	"github.com/goccy/go-json"
)

// Submitter accepts decoded jobs, normally a worker.Pool.
type Submitter interface {
	Submit(msg *worker.Message) bool
}

type Consumer struct {
	stream *RedisStream
	pool   Submitter
	name   string
}

func NewConsumer(stream *RedisStream, pool Submitter, name string) *Consumer {
	return &Consumer{
		stream: stream,
		pool:   pool,
		name:   name,
	}
}

// Run blocks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.CreateGroup(ctx, StreamJobs); err != nil {
		return err
	}
	logger.Info("[Consumer] %s reading %s", c.name, StreamJobs)
	c.stream.Consume(ctx, StreamJobs, c.name, c.handle)
	return ctx.Err()
}

func (c *Consumer) handle(id string, data []byte) error {
	msg, err := decodeJob(data)
	if err != nil {
		// unreadable entries are acked and dropped
		logger.WithError(err).Error("[Consumer] failed to unmarshal job %s", id)
		return nil
	}

	if !c.pool.Submit(msg) {
		return errPoolStopped
	}
	return nil
}

func decodeJob(data []byte) (*worker.Message, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &worker.Message{
		ID:        job.ID,
		Type:      job.Type,
		Payload:   job.Payload,
		CreatedAt: job.CreatedAt,
	}, nil
}

var errPoolStopped = errors.New("worker pool stopped")
