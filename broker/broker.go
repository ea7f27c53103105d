// Package broker fans out server-initiated notifications to open GET
// streams. A broker may span processes, so a notification published by one
// replica reaches listeners connected to any other.
package broker

import (
	"context"
	"errors"

	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
)

// ErrClosed is returned by Next after a stream or its broker is closed.
var ErrClosed = errors.New("broker: closed")

// Broker publishes messages to topics and streams them to subscribers in
// publish order.
type Broker interface {
	// Publish appends message to topic and returns its event ID. IDs are
	// unique within a topic and usable as a Last-Event-ID.
	Publish(ctx context.Context, topic string, message jsonrpc.Message) (eventID string, err error)

	// Subscribe registers a subscriber before returning, so every message
	// published after Subscribe returns is delivered. When lastEventID names
	// a retained event, messages after it are replayed first; an unknown ID
	// is treated as empty.
	Subscribe(ctx context.Context, topic string, lastEventID string) (Stream, error)

	// Close releases the broker and ends every open stream.
	Close() error
}

// Stream yields messages for a single subscriber.
type Stream interface {
	// Next blocks until a message is available, ctx is done or the stream is
	// closed.
	Next(ctx context.Context) (Envelope, error)
	Close() error
}

// Envelope is a published message with its event ID.
type Envelope struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}
