package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/egdb/catalog-mirror/internal/catalog/diff"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream RedisSink appends to when none is configured.
const DefaultStream = "catalog:changes"

// StreamAdder is the subset of the Redis client used by RedisSink.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisConfig configures a Redis stream sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string

	// MaxLen approximately caps the stream length (0 = unbounded).
	MaxLen int64
}

// RedisSink appends one stream entry per namespace.
//
// Entry fields: namespace, count, changes (JSON array of change records).
type RedisSink struct {
	client StreamAdder
	stream string
	maxLen int64
	closer func() error
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	s := NewRedisSinkWithClient(client, cfg.Stream, cfg.MaxLen)
	s.closer = client.Close
	return s, nil
}

// NewRedisSinkWithClient creates a sink over an existing client.
func NewRedisSinkWithClient(client StreamAdder, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Stream returns the stream key.
func (s *RedisSink) Stream() string { return s.stream }

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, cl diff.Changelist) error {
	for _, nc := range cl.Changelist {
		if len(nc.Changes) == 0 {
			continue
		}
		changes, err := json.Marshal(nc.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes for %s: %w", nc.Namespace, err)
		}

		args := &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"namespace": nc.Namespace,
				"count":     len(nc.Changes),
				"changes":   string(changes),
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}

		if err := s.client.XAdd(ctx, args).Err(); err != nil {
			return fmt.Errorf("failed to append changes for %s: %w", nc.Namespace, err)
		}
	}
	return nil
}

// Close releases the client when the sink owns it.
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
