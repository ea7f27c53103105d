package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-router-go/internal/logctx"
	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/mcprouter"
)

// Conn is the engine's view of one client connection. It tracks in-flight
// requests so notifications/cancelled can reach them and writes
// server-initiated notifications through the transport's MessageWriter.
type Conn struct {
	e *Engine
	w MessageWriter

	mu       sync.Mutex
	inflight map[string]context.CancelCauseFunc // reqID -> cancel func
}

// NewConn opens a connection. w may be nil when the transport has no channel
// for server-initiated messages; progress and Notify are then dropped.
func (e *Engine) NewConn(w MessageWriter) *Conn {
	return &Conn{
		e:        e,
		w:        w,
		inflight: make(map[string]context.CancelCauseFunc),
	}
}

// HandleMessage decodes and handles one raw message. It returns the response
// to send, or nil when none is due (notifications and client responses).
func (c *Conn) HandleMessage(ctx context.Context, data []byte) (*jsonrpc.Response, error) {
	msg, err := jsonrpc.Decode(data)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			c.e.log.InfoContext(ctx, "engine.decode.invalid", slog.Int("code", int(rpcErr.Code)), slog.String("err", rpcErr.Message))
			return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr}, nil
		}
		return nil, err
	}
	return c.Handle(ctx, msg)
}

// Handle handles one decoded message.
func (c *Conn) Handle(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error) {
	switch msg.Type() {
	case "request":
		return c.HandleRequest(ctx, msg.AsRequest())
	case "notification":
		return nil, c.HandleNotification(ctx, msg.AsRequest())
	default:
		// The router never issues requests to the client, so responses have
		// nothing to correlate with.
		c.e.log.DebugContext(ctx, "engine.handle_response.ignored")
		return nil, nil
	}
}

// HandleRequest dispatches a request and returns its response. The request
// can be cancelled by a notifications/cancelled naming its ID on the same
// Conn.
func (c *Conn) HandleRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqID := req.ID.String()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: reqID, Type: "request"})

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	tracked := c.track(reqID, cancel)
	if tracked {
		defer c.untrack(reqID)
	}

	return c.e.handleRequest(reqCtx, c, req)
}

// HandleNotification processes a client notification.
func (c *Conn) HandleNotification(ctx context.Context, note *jsonrpc.Request) error {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})
	return c.e.handleNotification(ctx, c, note)
}

// Notify sends a server-initiated notification to the client.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	if c.w == nil {
		return nil
	}
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return c.w.WriteMessage(ctx, b)
}

// withProgress installs a ProgressReporter that emits notifications/progress
// for token.
func (c *Conn) withProgress(ctx context.Context, token mcp.ProgressToken) context.Context {
	if token == nil || c.w == nil {
		return ctx
	}
	return mcprouter.WithProgressReporter(ctx, mcprouter.ProgressReporterFunc(func(ctx context.Context, progress, total float64, message string) error {
		return c.Notify(ctx, string(mcp.ProgressNotificationMethod), &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      progress,
			Total:         total,
			Message:       message,
		})
	}))
}

func (c *Conn) track(reqID string, cancel context.CancelCauseFunc) bool {
	if reqID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.inflight[reqID]; exists {
		// A client reusing an in-flight ID loses cancellation for the second
		// request only.
		c.e.log.Warn("engine.track.duplicate_id", slog.String("request_id", reqID))
		return false
	}
	c.inflight[reqID] = cancel
	return true
}

func (c *Conn) untrack(reqID string) {
	c.mu.Lock()
	delete(c.inflight, reqID)
	c.mu.Unlock()
}

func (c *Conn) cancelInFlightRequest(reqID string, reason string) bool {
	if reqID == "" {
		return false
	}

	c.mu.Lock()
	cancel, exists := c.inflight[reqID]
	c.mu.Unlock()

	if !exists || cancel == nil {
		return false
	}
	if reason == "" {
		reason = "cancelled"
	}
	cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
	return true
}
