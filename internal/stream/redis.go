package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailbridge/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// StreamJobs carries every sync job.
const StreamJobs = "mailbridge:jobs"

type RedisStream struct {
	client    *redis.Client
	group     string
	batchSize int64
	block     time.Duration
}

func NewRedisStream(client *redis.Client, group string, batchSize int, block time.Duration) *RedisStream {
	if batchSize < 1 {
		batchSize = 10
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	return &RedisStream{
		client:    client,
		group:     group,
		batchSize: int64(batchSize),
		block:     block,
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Consume reads the stream as consumer until ctx is done. Entries are acked once
// handler returns nil; failed entries stay pending.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(id string, data []byte) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    s.batchSize,
			Block:    s.block,
		}).Result()

		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.WithError(err).Warn("[RedisStream] read error on %s", stream)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					logger.Warn("[RedisStream] dropping malformed entry %s", msg.ID)
					s.client.XAck(ctx, st.Stream, s.group, msg.ID)
					continue
				}

				if err := handler(msg.ID, []byte(data)); err != nil {
					logger.WithError(err).Error("[RedisStream] handler error for %s", msg.ID)
					continue
				}

				s.client.XAck(ctx, st.Stream, s.group, msg.ID)
			}
		}
	}
}
