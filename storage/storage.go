// Package storage defines a small namespaced key/value interface that
// application routes use to persist their own data. The router itself is
// stateless; nothing in the request path depends on storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage is a namespaced key/value store.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns error only for legitimate storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes a single key when WithKey is given, otherwise every key
	// in the namespace. Deleting the whole global namespace is refused with
	// ErrInvalidOptions.
	Delete(ctx context.Context, opts ...Option) error

	// Keys returns the live keys of the namespace in lexical order.
	Keys(ctx context.Context, opts ...Option) ([]string, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// Item represents a stored piece of data with metadata.
type Item struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options contains configuration for storage operations.
type Options struct {
	Namespace string         // Empty selects the global namespace
	Key       *string        // Specific key (for Delete operations)
	TTL       *time.Duration // Time-to-live for the data
}

// WithNamespace scopes an operation to the named namespace.
func WithNamespace(ns string) Option {
	return func(opts *Options) {
		opts.Namespace = ns
	}
}

// WithKey specifies a specific key for Delete operations.
// If not provided, Delete removes the entire namespace.
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

var (
	// ErrInvalidOptions is returned when incompatible options are provided.
	ErrInvalidOptions = errors.New("storage: invalid option combination")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// ParseOptions applies opts and validates the result. Backends call it at
// the top of every operation.
func ParseOptions(opts ...Option) (*Options, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if strings.Contains(options.Namespace, ":") {
		return nil, fmt.Errorf("%w: namespace %q must not contain ':'", ErrInvalidOptions, options.Namespace)
	}
	if options.TTL != nil && *options.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidOptions)
	}
	return options, nil
}

// ValidateKey rejects keys no backend can store.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
