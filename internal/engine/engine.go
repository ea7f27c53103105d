package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-router-go/internal/logctx"
	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/mcprouter"
	"github.com/google/uuid"
)

var (
	ErrCancelled = errors.New("operation cancelled")
	ErrInternal  = errors.New("internal error")

	// errMalformedParams marks params that could not be decoded into the
	// method's request type at all.
	errMalformedParams = errors.New("invalid params")
	errUnsupported     = errors.New("not supported")
)

// Engine maps JSON-RPC methods onto an mcprouter.Server. It is transport
// agnostic and stateless: transports open a Conn per client connection (or
// per HTTP request) and feed it decoded messages.
type Engine struct {
	srv *mcprouter.Server
	log *slog.Logger
	id  string // process-unique engine ID, attached to every log record

	methods map[string]methodHandler
}

type methodHandler func(e *Engine, ctx context.Context, c *Conn, req *jsonrpc.Request) (any, error)

// EngineOption configures a Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEngine(srv *mcprouter.Server, opts ...EngineOption) *Engine {
	if srv == nil {
		srv = mcprouter.NewServer(nil)
	}
	e := &Engine{
		srv: srv,
		log: slog.Default(),
		id:  uuid.NewString(),
	}

	// Apply options (order matters; later options override earlier ones).
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.log = e.log.With(slog.String("engine_id", e.id))

	e.methods = map[string]methodHandler{
		string(mcp.InitializeMethod):             (*Engine).handleInitialize,
		string(mcp.PingMethod):                   (*Engine).handlePing,
		string(mcp.ToolsListMethod):              (*Engine).handleToolsList,
		string(mcp.ToolsCallMethod):              (*Engine).handleToolCall,
		string(mcp.PromptsListMethod):            (*Engine).handlePromptsList,
		string(mcp.PromptsGetMethod):             (*Engine).handlePromptsGet,
		string(mcp.ResourcesListMethod):          (*Engine).handleResourcesList,
		string(mcp.ResourcesTemplatesListMethod): (*Engine).handleResourcesTemplatesList,
		string(mcp.ResourcesReadMethod):          (*Engine).handleResourcesRead,
		string(mcp.CompletionCompleteMethod):     (*Engine).handleCompletionsComplete,
		string(mcp.LoggingSetLevelMethod):        (*Engine).handleSetLoggingLevel,
	}
	return e
}

// Server returns the server the engine dispatches to.
func (e *Engine) Server() *mcprouter.Server { return e.srv }

// Logger returns the engine's logger so transports can share it.
func (e *Engine) Logger() *slog.Logger { return e.log }

func (e *Engine) handleRequest(ctx context.Context, c *Conn, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	h, ok := e.methods[req.Method]
	if !ok {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found", nil), nil
	}

	result, err := h(e, ctx, c, req)
	if err != nil {
		return e.errorResponse(ctx, log, start, req, err), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, result)
}

// resourceURIError carries the requested URI to the error mapping so a
// not-found reported by a handler still yields {uri} data.
type resourceURIError struct {
	uri string
	err error
}

func (e *resourceURIError) Error() string { return e.err.Error() }
func (e *resourceURIError) Unwrap() error { return e.err }

func (e *Engine) errorResponse(ctx context.Context, log *slog.Logger, start time.Time, req *jsonrpc.Request, err error) *jsonrpc.Response {
	durAttr := slog.Int64("dur_ms", time.Since(start).Milliseconds())

	var nf *mcprouter.NotFoundError
	var ru *resourceURIError
	switch {
	case errors.Is(err, errMalformedParams):
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), durAttr)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)

	case errors.Is(err, errUnsupported):
		log.InfoContext(ctx, "engine.handle_request.unsupported", durAttr)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, err.Error(), nil)

	case errors.Is(err, mcprouter.ErrResourceNotFound):
		uri := ""
		if errors.As(err, &ru) {
			uri = ru.uri
		} else if errors.As(err, &nf) {
			uri = nf.Key
		}
		log.InfoContext(ctx, "engine.handle_request.not_found", slog.String("err", err.Error()), durAttr)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeResourceNotFound, "resource not found", map[string]string{"uri": uri})

	case errors.Is(err, mcprouter.ErrToolNotFound), errors.Is(err, mcprouter.ErrPromptNotFound):
		log.InfoContext(ctx, "engine.handle_request.not_found", slog.String("err", err.Error()), durAttr)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)

	case errors.Is(err, mcprouter.ErrInvalidParams):
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), durAttr)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCancelled):
		log.InfoContext(ctx, "engine.handle_request.cancelled", durAttr)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil)
	}

	log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), durAttr)
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
}

// decodeParams unmarshals req.Params into dst. Absent params are accepted
// when optional is set.
func decodeParams(req *jsonrpc.Request, dst any, optional bool) error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		if optional {
			return nil
		}
		return errMalformedParams
	}
	if err := json.Unmarshal(req.Params, dst); err != nil {
		return errors.Join(errMalformedParams, err)
	}
	return nil
}

// NegotiateProtocolVersion returns requested when it is supported and the
// latest supported version otherwise.
func NegotiateProtocolVersion(requested string) string {
	if slices.Contains(mcp.SupportedProtocolVersions, requested) {
		return requested
	}
	return mcp.LatestProtocolVersion
}

func (e *Engine) handleInitialize(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.InitializeRequest
	if err := decodeParams(req, &params, false); err != nil {
		return nil, err
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: NegotiateProtocolVersion(params.ProtocolVersion),
		Capabilities:    e.srv.Capabilities(),
		ServerInfo:      e.srv.Info(),
		Instructions:    e.srv.Instructions(),
	}

	e.log.InfoContext(ctx, "engine.initialize",
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("negotiated_version", res.ProtocolVersion),
	)
	return res, nil
}

func (e *Engine) handlePing(context.Context, *Conn, *jsonrpc.Request) (any, error) {
	return &mcp.EmptyResult{}, nil
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.SetLevelRequest
	if err := decodeParams(req, &params, false); err != nil {
		return nil, err
	}
	if !mcp.IsValidLoggingLevel(params.Level) {
		return nil, mcprouter.InvalidParamsf("unknown logging level %q", params.Level)
	}

	lc, ok := e.srv.Logging()
	if !ok {
		return nil, fmt.Errorf("logging level: %w", errUnsupported)
	}
	if err := lc.SetLevel(ctx, params.Level); err != nil {
		if errors.Is(err, mcprouter.ErrInvalidLoggingLevel) {
			return nil, mcprouter.InvalidParams(err)
		}
		return nil, err
	}
	return &mcp.EmptyResult{}, nil
}

func (e *Engine) handleToolsList(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.ListToolsRequest
	if err := decodeParams(req, &params, true); err != nil {
		return nil, err
	}
	items, next, err := mcprouter.Paginate(e.srv.Dispatcher().ListTools(ctx), e.srv.PageSize(), params.Cursor)
	if err != nil {
		return nil, err
	}
	return &mcp.ListToolsResult{Tools: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (e *Engine) handleToolCall(ctx context.Context, c *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.CallToolRequestReceived
	if err := decodeParams(req, &params, false); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, mcprouter.InvalidParamsf("missing tool name")
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	if params.Meta != nil {
		ctx = c.withProgress(ctx, params.Meta.ProgressToken)
	}

	return e.srv.Dispatcher().CallTool(ctx, params.Name, params.Arguments)
}

func (e *Engine) handlePromptsList(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.ListPromptsRequest
	if err := decodeParams(req, &params, true); err != nil {
		return nil, err
	}
	items, next, err := mcprouter.Paginate(e.srv.Dispatcher().ListPrompts(ctx), e.srv.PageSize(), params.Cursor)
	if err != nil {
		return nil, err
	}
	return &mcp.ListPromptsResult{Prompts: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.GetPromptRequest
	if err := decodeParams(req, &params, false); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, mcprouter.InvalidParamsf("missing prompt name")
	}
	return e.srv.Dispatcher().GetPrompt(ctx, params.Name, params.Arguments)
}

func (e *Engine) handleResourcesList(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.ListResourcesRequest
	if err := decodeParams(req, &params, true); err != nil {
		return nil, err
	}
	items, next, err := mcprouter.Paginate(e.srv.Dispatcher().ListResources(ctx), e.srv.PageSize(), params.Cursor)
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourcesResult{Resources: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.ListResourceTemplatesRequest
	if err := decodeParams(req, &params, true); err != nil {
		return nil, err
	}
	items, next, err := mcprouter.Paginate(e.srv.Dispatcher().ListResourceTemplates(ctx), e.srv.PageSize(), params.Cursor)
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourceTemplatesResult{ResourceTemplates: items, PaginatedResult: mcp.PaginatedResult{NextCursor: next}}, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.ReadResourceRequest
	if err := decodeParams(req, &params, false); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, mcprouter.InvalidParamsf("missing uri")
	}

	ctx = logctx.WithResourceData(ctx, &logctx.ResourceData{URI: params.URI})
	res, err := e.srv.Dispatcher().ReadResource(ctx, params.URI)
	if err != nil {
		return nil, &resourceURIError{uri: params.URI, err: err}
	}
	return res, nil
}

func (e *Engine) handleCompletionsComplete(ctx context.Context, _ *Conn, req *jsonrpc.Request) (any, error) {
	var params mcp.CompleteRequest
	if err := decodeParams(req, &params, false); err != nil {
		return nil, err
	}
	return e.srv.Dispatcher().Complete(ctx, params)
}

func (e *Engine) handleNotification(ctx context.Context, c *Conn, note *jsonrpc.Request) error {
	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		e.log.InfoContext(ctx, "engine.session.initialized")
		return nil

	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return nil
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return nil
		}
		found := c.cancelInFlightRequest(id.String(), params.Reason)
		e.log.InfoContext(ctx, "engine.handle_notification.cancelled", slog.String("request_id", id.String()), slog.Bool("found", found))
		return nil
	}

	e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	return nil
}
