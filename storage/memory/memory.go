// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-router-go/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCleanupInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage.
// When the cache is full the least recently used item is evicted.
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.Item]

	stop      chan struct{}
	closeOnce sync.Once
}

// Compile-time interface check
var _ storage.Storage = (*Storage)(nil)

// New creates a new in-memory storage holding at most maxItems items.
func New(maxItems int) (*Storage, error) {
	return newWithCleanup(maxItems, defaultCleanupInterval)
}

func newWithCleanup(maxItems int, interval time.Duration) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}

	// Start background cleanup of expired items
	go s.cleanupExpired(interval)

	return s, nil
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

	storageKey := buildNamespacePrefix(options.Namespace) + key

	s.mu.RLock()
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}

	out := *item
	out.Data = slices.Clone(item.Data)
	return &out, nil
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

	now := time.Now()
	item := &storage.Item{
		Data:      slices.Clone(data),
		CreatedAt: now,
	}
	if item.Data == nil {
		item.Data = []byte{}
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(buildNamespacePrefix(options.Namespace)+key, item)
	s.mu.Unlock()

	return nil
}

// Delete removes data within the given namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options, err := storage.ParseOptions(opts...)
	if err != nil {
		return err
	}

	prefix := buildNamespacePrefix(options.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(prefix + *options.Key)
		return nil
	}
	if options.Namespace == "" {
		return fmt.Errorf("%w: refusing to delete the global namespace", storage.ErrInvalidOptions)
	}

	// LRU doesn't provide prefix iteration, so walk every key.
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
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

	prefix := buildNamespacePrefix(options.Namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for _, key := range s.cache.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		// Peek so listing does not refresh recency.
		if item, ok := s.cache.Peek(key); ok && !item.IsExpired() {
			keys = append(keys, strings.TrimPrefix(key, prefix))
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Close stops the cleanup goroutine and drops every item.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// buildNamespacePrefix creates the cache key prefix for a namespace.
func buildNamespacePrefix(namespace string) string {
	if namespace == "" {
		return "global:"
	}
	return "ns:" + namespace + ":"
}

// cleanupExpired periodically drops expired items until Close.
func (s *Storage) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}
