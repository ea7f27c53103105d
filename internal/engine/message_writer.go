package engine

import (
	"context"

	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
)

// MessageWriter delivers a server-initiated message (a notification) to the
// client on whatever channel the transport has open for it.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg jsonrpc.Message) error
}

type MessageWriterFunc func(ctx context.Context, msg jsonrpc.Message) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg jsonrpc.Message) error {
	return f(ctx, msg)
}
