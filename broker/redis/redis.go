// Package redis provides a broker.Broker backed by Redis Streams, so every
// replica sharing a Redis instance sees the same notifications.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-router-go/broker"
	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "mcp:broker:"
	defaultMaxLen    = 1000
	readBlock        = time.Second
	readCount        = 32
)

// Config contains configuration options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. Required.
	Client redis.UniversalClient
	// KeyPrefix is prepended to every stream key. Defaults to "mcp:broker:".
	KeyPrefix string
	// MaxLen caps the retained entries per stream. Defaults to 1000.
	MaxLen int64
}

// Broker is a Redis Streams implementation of broker.Broker.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
	closed    atomic.Bool
}

// New creates a Redis-backed broker.
func New(config Config) (*Broker, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	b := &Broker{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
		maxLen:    config.MaxLen,
	}
	if b.keyPrefix == "" {
		b.keyPrefix = defaultKeyPrefix
	}
	if b.maxLen <= 0 {
		b.maxLen = defaultMaxLen
	}
	return b, nil
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.client.Close()
}

// Publish appends message to the topic's stream. The event ID is the Redis
// stream entry ID.
func (b *Broker) Publish(ctx context.Context, topic string, message jsonrpc.Message) (string, error) {
	if b.closed.Load() {
		return "", broker.ErrClosed
	}
	key := b.streamKey(topic)
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: b.maxLen,
		Values: map[string]any{"data": []byte(message)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", key, err)
	}
	return id, nil
}

// Subscribe resolves its starting position before returning. Without a
// retained lastEventID it starts after the newest entry in the stream.
func (b *Broker) Subscribe(ctx context.Context, topic string, lastEventID string) (broker.Stream, error) {
	if b.closed.Load() {
		return nil, broker.ErrClosed
	}
	key := b.streamKey(topic)

	if lastEventID != "" {
		found, err := b.client.XRange(ctx, key, lastEventID, lastEventID).Result()
		if err != nil {
			// Malformed IDs land here too; treat them as unknown.
			found = nil
		}
		if len(found) == 1 {
			return &stream{b: b, key: key, next: lastEventID}, nil
		}
	}

	start := "0-0"
	last, err := b.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", key, err)
	}
	if len(last) == 1 {
		start = last[0].ID
	}
	return &stream{b: b, key: key, next: start}, nil
}

func (b *Broker) streamKey(topic string) string {
	return b.keyPrefix + "stream:" + topic
}

type stream struct {
	b       *Broker
	key     string
	next    string
	pending []broker.Envelope
	closed  atomic.Bool
}

func (s *stream) Next(ctx context.Context) (broker.Envelope, error) {
	for {
		if s.closed.Load() || s.b.closed.Load() {
			return broker.Envelope{}, broker.ErrClosed
		}
		if len(s.pending) > 0 {
			env := s.pending[0]
			s.pending = s.pending[1:]
			return env, nil
		}
		if err := ctx.Err(); err != nil {
			return broker.Envelope{}, err
		}

		res, err := s.b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.key, s.next},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return broker.Envelope{}, ctxErr
			}
			// The read deadline follows ctx and may fire before ctx reports it.
			if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
				return broker.Envelope{}, context.DeadlineExceeded
			}
			return broker.Envelope{}, fmt.Errorf("failed to read stream %s: %w", s.key, err)
		}

		for _, st := range res {
			for _, msg := range st.Messages {
				s.next = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				s.pending = append(s.pending, broker.Envelope{ID: msg.ID, Data: []byte(data)})
			}
		}
	}
}

func (s *stream) Close() error {
	s.closed.Store(true)
	return nil
}

var (
	_ broker.Broker = (*Broker)(nil)
	_ broker.Stream = (*stream)(nil)
)
