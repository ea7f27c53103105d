package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-router-go/broker"
	"github.com/ggoodman/mcp-router-go/broker/memory"
	"github.com/ggoodman/mcp-router-go/internal/engine"
	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-router-go/internal/logctx"
	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/mcprouter"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	lastEventIDHeader        = "Last-Event-ID"

	defaultMaxBodyBytes = 4 << 20
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. We do NOT claim JSON-RPC framing here; this is
// transport-level. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	maxBodyBytes int64
	broker       broker.Broker
}

// WithLogger sets the slog logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithMaxBodyBytes caps the size of a POST body. Larger bodies are rejected
// with 413.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithBroker routes notifications through b so that GET streams on every
// handler sharing it receive them. Defaults to an in-process memory broker.
func WithBroker(b broker.Broker) Option {
	return func(c *newConfig) { c.broker = b }
}

// StreamingHTTPHandler implements the stream HTTP transport protocol of
// the Model Context Protocol.
type StreamingHTTPHandler struct {
	mux          *http.ServeMux
	log          *slog.Logger
	eng          *engine.Engine
	ctx          context.Context
	maxBodyBytes int64
	broker       broker.Broker
	topic        string
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an optional context.
// It serializes concurrent writes/flushes and avoids writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// New constructs a StreamingHTTPHandler serving srv at publicEndpoint (only
// its path is used for routing). Long-lived GET streams end when ctx is done.
func New(ctx context.Context, publicEndpoint string, srv *mcprouter.Server, opts ...Option) (*StreamingHTTPHandler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default(), maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.broker == nil {
		cfg.broker = memory.New()
	}

	loggerWithContextHandler := slog.New(logctx.NewHandler(cfg.logger.Handler()))

	h := &StreamingHTTPHandler{
		log:          loggerWithContextHandler,
		ctx:          ctx,
		maxBodyBytes: cfg.maxBodyBytes,
		broker:       cfg.broker,
		topic:        "notifications:" + pathOnly(mcpURL),
	}
	h.eng = engine.NewEngine(srv, engine.WithLogger(h.log))

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", pathOnly(mcpURL)), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", pathOnly(mcpURL)), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", pathOnly(mcpURL)), h.handleDeleteMCP)
	h.mux = mux
	return h, nil
}

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// Notify publishes a server-initiated notification to every open GET stream
// reachable through the handler's broker.
func (h *StreamingHTTPHandler) Notify(ctx context.Context, method string, params any) error {
	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	id, err := h.broker.Publish(ctx, h.topic, b)
	if err != nil {
		h.log.ErrorContext(ctx, "sse.notify.fail", slog.String("method", method), slog.String("err", err.Error()))
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	h.log.DebugContext(ctx, "sse.notify.ok", slog.String("method", method), slog.String("event_id", id))
	return nil
}

// handleDeleteMCP acknowledges session termination. The transport keeps no
// per-session state, so there is nothing to release.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	h.log.InfoContext(r.Context(), "http.delete.ok")
	w.WriteHeader(http.StatusNoContent)
}

// handlePostMCP handles the POST endpoint, which carries exactly one JSON-RPC
// message from the client.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && !slices.Contains(mcp.SupportedProtocolVersions, pv) {
		writeJSONError(w, http.StatusBadRequest, "unsupported protocol version")
		h.log.WarnContext(ctx, "protocol.version.unsupported", slog.String("client_version", pv))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "failed to read body")
		}
		h.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return
	}
	if trimmed := trimLeadingSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	msg, err := jsonrpc.Decode(body)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &jsonrpc.Error{Code: jsonrpc.ErrorCodeParseError, Message: "parse error"}
		}
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(&jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr})
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.Int("code", int(rpcErr.Code)))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	switch msg.Type() {
	case "notification":
		if err := h.eng.NewConn(nil).HandleNotification(ctx, msg.AsRequest()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			h.log.ErrorContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return

	case "response":
		// The router never sends requests to clients; there is nothing to
		// correlate a response with.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored")
		return
	}

	req := msg.AsRequest()
	useSSE, ok := negotiateResponseMode(r, req)
	if !ok {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json or text/event-stream")
		h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}

	if req.Method == string(mcp.InitializeMethod) {
		var initReq mcp.InitializeRequest
		if json.Unmarshal(req.Params, &initReq) == nil {
			w.Header().Set(mcpProtocolVersionHeader, engine.NegotiateProtocolVersion(initReq.ProtocolVersion))
		}
		w.Header().Set(mcpSessionIDHeader, uuid.NewString())
	}

	if !useSSE {
		res, err := h.eng.NewConn(nil).HandleRequest(ctx, req)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
		}
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(res); err != nil {
			h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	writer := engine.MessageWriterFunc(func(_ context.Context, msg jsonrpc.Message) error {
		return writeSSEEvent(wf, "", msg)
	})

	res, err := h.eng.NewConn(writer).HandleRequest(ctx, req)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}

	b, mErr := json.Marshal(res)
	if mErr != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", mErr.Error()))
		return
	}
	if err := writer.WriteMessage(ctx, b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP opens the long-lived notification stream. Clients that do not
// accept SSE get 405, which the protocol defines as "no stream offered".
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !accepts(r, eventStreamMediaType) {
		w.Header().Set("Allow", "POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	// Subscribe before the headers go out so a client that has seen the
	// response never misses a notification.
	lastEventID := r.Header.Get(lastEventIDHeader)
	stream, err := h.broker.Subscribe(ctx, h.topic, lastEventID)
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "notification stream unavailable")
		h.log.ErrorContext(ctx, "sse.subscribe.fail", slog.String("err", err.Error()))
		return
	}
	defer stream.Close()

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()
	h.log.InfoContext(ctx, "sse.stream.start", slog.String("last_event_id", lastEventID))

	for {
		env, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, broker.ErrClosed) {
				h.log.WarnContext(ctx, "sse.stream.next.fail", slog.String("err", err.Error()))
			}
			break
		}
		if err := writeSSEEvent(wf, env.ID, env.Data); err != nil {
			h.log.InfoContext(ctx, "sse.stream.write.fail", slog.String("err", err.Error()))
			break
		}
	}

	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// negotiateResponseMode picks SSE when the client accepts it and either cannot
// take JSON or asked for progress (which only a stream can carry). ok is false
// when the client accepts neither.
func negotiateResponseMode(r *http.Request, req *jsonrpc.Request) (useSSE bool, ok bool) {
	accJSON := accepts(r, jsonMediaType)
	accSSE := accepts(r, eventStreamMediaType)
	switch {
	case accSSE && (!accJSON || wantsProgress(req)):
		return true, true
	case accJSON:
		return false, true
	}
	return false, false
}

func accepts(r *http.Request, mt contenttype.MediaType) bool {
	_, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{mt})
	return err == nil
}

func wantsProgress(req *jsonrpc.Request) bool {
	var params struct {
		Meta *mcp.RequestMeta `json:"_meta"`
	}
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil {
		return false
	}
	return params.Meta != nil && params.Meta.ProgressToken != nil
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r') {
		b = b[1:]
	}
	return b
}

// writeSSEEvent writes a Server-Sent Event carrying payload as its data field
// and flushes the response. The frame is rendered first so it reaches the
// stream in a single write.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	msg := &sse.Message{}
	if msgID != "" {
		id, err := sse.NewID(msgID)
		if err != nil {
			return fmt.Errorf("invalid SSE event ID: %w", err)
		}
		msg.ID = id
	}
	msg.AppendData(string(payload))

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode SSE event: %w", err)
	}
	if _, err := wf.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	wf.Flush()
	return nil
}
