package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	redisDocPrefix     = "study:doc:"
	redisChannelPrefix = "study:doc-changes:"
)

// RedisStore keeps each document under its own key and announces every
// write on a per-path pub/sub channel carrying the full document.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed document store.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Write(ctx context.Context, path string, doc []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisDocPrefix+path, doc, 0)
		pipe.Publish(ctx, redisChannelPrefix+path, doc)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write document %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, path string, onSnapshot func([]byte), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	pubsub := s.client.Subscribe(ctx, redisChannelPrefix+path)
	// Wait for the subscription to be confirmed so no write between the
	// initial read and the first message is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	doc, err := s.client.Get(ctx, redisDocPrefix+path).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	onSnapshot(doc)

	go func() {
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					if ctx.Err() == nil {
						onError(fmt.Errorf("subscription %s closed", path))
					}
					return
				}
				onSnapshot([]byte(msg.Payload))
			}
		}
	}()

	return func() {
		cancel()
		if err := pubsub.Close(); err != nil {
			slog.Debug("closing redis subscription", "path", path, "error", err)
		}
	}, nil
}

// HealthCheck verifies the Redis connection is alive.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
