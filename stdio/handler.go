package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-router-go/internal/engine"
	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-router-go/internal/logctx"
	"github.com/ggoodman/mcp-router-go/mcprouter"
)

// ErrAlreadyServing is returned by Serve when it is called more than once.
var ErrAlreadyServing = errors.New("stdio: handler already serving")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the
// provided mcprouter.Server.
type Handler struct {
	r io.Reader
	w io.Writer
	l *slog.Logger

	eng  *engine.Engine
	conn *engine.Conn

	writeMu sync.Mutex
	serving atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv *mcprouter.Server, opts ...Option) *Handler {
	h := &Handler{
		r: os.Stdin,
		w: os.Stdout,
		l: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.eng = engine.NewEngine(srv, engine.WithLogger(h.l))
	h.conn = h.eng.NewConn(engine.MessageWriterFunc(h.writeMessage))
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler.
//
// On EOF, Serve waits for in-flight requests to write their responses and
// returns nil. On context cancellation in-flight requests are cancelled and
// Serve returns the context error.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}

	ctx = logctx.WithRequestData(ctx, &logctx.RequestData{Method: "stdio"})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go h.readLoop(ctx, lines, readErr)

	h.l.InfoContext(ctx, "stdio.serve.start")
	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.stop", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.l.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
			return fmt.Errorf("stdio: read: %w", err)

		case line := <-lines:
			h.dispatch(ctx, &wg, line)
		}
	}
}

// Notify sends a server-initiated notification to the client.
func (h *Handler) Notify(ctx context.Context, method string, params any) error {
	return h.conn.Notify(ctx, method, params)
}

func (h *Handler) readLoop(ctx context.Context, lines chan<- []byte, readErr chan<- error) {
	br := bufio.NewReader(h.r)
	for {
		line, err := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, wg *sync.WaitGroup, line []byte) {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &jsonrpc.Error{Code: jsonrpc.ErrorCodeParseError, Message: "parse error"}
		}
		h.l.InfoContext(ctx, "stdio.decode.invalid", slog.Int("code", int(rpcErr.Code)))
		h.writeResponse(ctx, &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr})
		return
	}

	if msg.Type() != "request" {
		// Notifications run inline so that a cancellation is processed in
		// order with the requests that preceded it.
		if _, err := h.conn.Handle(ctx, msg); err != nil {
			h.l.ErrorContext(ctx, "stdio.handle_notification.fail", slog.String("err", err.Error()))
		}
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := h.conn.Handle(ctx, msg)
		if err != nil {
			h.l.ErrorContext(ctx, "stdio.handle_request.fail", slog.String("err", err.Error()))
			res = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
		if res != nil {
			h.writeResponse(ctx, res)
		}
	}()
}

func (h *Handler) writeResponse(ctx context.Context, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.write.marshal_fail", slog.String("err", err.Error()))
		return
	}
	if err := h.writeMessage(ctx, b); err != nil {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) writeMessage(_ context.Context, msg jsonrpc.Message) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	_, err := h.w.Write(buf)
	return err
}
