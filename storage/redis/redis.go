// Package redis provides a Redis-based implementation of the storage.Storage
// interface with TTL support.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/mcp-router-go/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	// Default: "mcp:storage:"
	KeyPrefix string
}

// Storage implements the storage.Storage interface using Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem represents the structure stored in Redis.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Compile-time interface check
var _ storage.Storage = (*Storage)(nil)

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "mcp:storage:"
	}

	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options, err := storage.ParseOptions(opts...)
	if err != nil {
		return nil, err
	}
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}

	redisKey := s.namespacePrefix(options.Namespace) + key

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	out := &storage.Item{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}
	if out.Data == nil {
		out.Data = []byte{}
	}

	// Redis expires keys on its own clock; this covers skew between the two.
	if out.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}

	return out, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options, err := storage.ParseOptions(opts...)
	if err != nil {
		return err
	}
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	redisKey := s.namespacePrefix(options.Namespace) + key

	now := time.Now()
	item := storedItem{
		Data:      data,
		CreatedAt: now,
	}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, itemData, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}

	return nil
}

// Delete removes data within the given namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options, err := storage.ParseOptions(opts...)
	if err != nil {
		return err
	}

	prefix := s.namespacePrefix(options.Namespace)

	if options.Key != nil {
		redisKey := prefix + *options.Key
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}
	if options.Namespace == "" {
		return fmt.Errorf("%w: refusing to delete the global namespace", storage.ErrInvalidOptions)
	}

	keys, err := s.scanKeys(ctx, escapeGlob(prefix)+"*")
	if err != nil {
		return fmt.Errorf("failed to scan keys for namespace %s: %w", options.Namespace, err)
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return nil
}

// Keys lists the live keys of a namespace.
func (s *Storage) Keys(ctx context.Context, opts ...storage.Option) ([]string, error) {
	options, err := storage.ParseOptions(opts...)
	if err != nil {
		return nil, err
	}

	prefix := s.namespacePrefix(options.Namespace)

	redisKeys, err := s.scanKeys(ctx, escapeGlob(prefix)+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys for namespace %s: %w", options.Namespace, err)
	}

	keys := make([]string, 0, len(redisKeys))
	for _, k := range redisKeys {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	slices.Sort(keys)
	// SCAN may return a key more than once.
	return slices.Compact(keys), nil
}

// Close closes the storage backend and releases resources.
func (s *Storage) Close() error {
	return s.client.Close()
}

// namespacePrefix constructs the Redis key prefix for a namespace.
func (s *Storage) namespacePrefix(namespace string) string {
	if namespace == "" {
		return s.keyPrefix + "global:"
	}
	return s.keyPrefix + "ns:" + namespace + ":"
}

// scanKeys uses Redis SCAN to find all keys matching a pattern.
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		page, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, page...)
		cursor = next

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
