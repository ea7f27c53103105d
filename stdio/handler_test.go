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
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-router-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/mcprouter"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t       *testing.T
	h       *Handler
	stdinW  io.Writer
	stdoutR *bufio.Scanner
	outMu   sync.Mutex
	lines   []string
}

func defaultInitializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, srv *mcprouter.Server) *testHarness {
	t.Helper()

	// wire stdio via io.Pipe
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := NewHandler(srv, WithIO(inR, outW), WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, h: h, stdinW: inW, stdoutR: bufio.NewScanner(outR)}

	go func() {
		_ = h.Serve(ctx)
	}()

	// start stdout collector
	go func() {
		for th.stdoutR.Scan() {
			line := strings.TrimSpace(th.stdoutR.Text())
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
		// allow goroutines to wind down
		time.Sleep(10 * time.Millisecond)
	})
	return th
}

// send writes a JSON-RPC request (as marshalled JSON + newline) to stdin.
func (th *testHarness) send(req *jsonrpc.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return th.sendRaw(string(b))
}

func (th *testHarness) sendRaw(line string) error {
	_, err := th.stdinW.Write([]byte(line + "\n"))
	return err
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) nextMessage(timeout time.Duration) (*jsonrpc.AnyMessage, error) {
	line, err := th.nextLine(timeout)
	if err != nil {
		return nil, err
	}
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, fmt.Errorf("decode %q: %w", line, err)
	}
	return &msg, nil
}

func (th *testHarness) expectResponse(timeout time.Duration) (*jsonrpc.Response, error) {
	msg, err := th.nextMessage(timeout)
	if err != nil {
		return nil, err
	}
	if msg.Type() != "response" {
		return nil, fmt.Errorf("expected response, got %s", msg.Type())
	}
	return msg.AsResponse(), nil
}

func (th *testHarness) expectNotification(timeout time.Duration) (*jsonrpc.Request, error) {
	msg, err := th.nextMessage(timeout)
	if err != nil {
		return nil, err
	}
	if msg.Type() != "notification" {
		return nil, fmt.Errorf("expected notification, got %s", msg.Type())
	}
	return msg.AsRequest(), nil
}

func (th *testHarness) request(t *testing.T, id, method string, params any) *jsonrpc.Response {
	t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: jsonrpc.NewRequestID(id)}
	if params != nil {
		req.Params = mustJSON(t, params)
	}
	if err := th.send(req); err != nil {
		t.Fatalf("send %s: %v", method, err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect %s response: %v", method, err)
	}
	if res.ID.String() != id {
		t.Fatalf("response id = %q, want %q", res.ID.String(), id)
	}
	return res
}

func (th *testHarness) initialize(t *testing.T) *mcp.InitializeResult {
	t.Helper()
	res := th.request(t, "init-1", string(mcp.InitializeMethod), defaultInitializeRequest())
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)}); err != nil {
		t.Fatalf("send initialized: %v", err)
	}
	return &initRes
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type echoArgs struct {
	Text string `json:"text"`
}

type fileArgs struct {
	Path string `uri:"path"`
	File string `uri:"file"`
}

func testServer(t *testing.T, opts ...mcprouter.ServerOption) *mcprouter.Server {
	t.Helper()
	echo := mcprouter.NewTool[echoArgs]("echo", func(ctx context.Context, w mcprouter.ToolResponseWriter, r *mcprouter.ToolRequest[echoArgs]) error {
		if err := w.SendProgress(0.5, 1); err != nil {
			return err
		}
		return w.AppendText(r.Args().Text)
	}, mcprouter.WithToolDescription("Echo text back"))

	files, err := mcprouter.TypedResource[fileArgs]("files", "files://{path}/{file}", func(ctx context.Context, uri string, a fileArgs) (*mcp.ReadResourceResult, error) {
		return mcprouter.TextContents(uri, "text/plain", a.Path+"/"+a.File), nil
	})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}

	type helloArgs struct {
		Name string `json:"name"`
	}
	hello := mcprouter.NewPrompt[helloArgs]("hello", func(ctx context.Context, a helloArgs) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{mcprouter.UserMessage("Hello, " + a.Name)}}, nil
	}, mcprouter.WithPromptCompletion("name", mcprouter.StaticCompletions("ada", "alan", "grace")))

	return mcprouter.NewServer(mcprouter.NewRoute(echo, files, hello),
		append([]mcprouter.ServerOption{mcprouter.WithServerInfo(mcp.ImplementationInfo{Name: "test", Version: "1.0.0"})}, opts...)...)
}

// --- Tests ---

func TestInitialize_HappyPath(t *testing.T) {
	th := newHarness(t, testServer(t, mcprouter.WithInstructions("Have fun!")))

	initRes := th.initialize(t)
	if initRes.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("server protocol version mismatch: %s", initRes.ProtocolVersion)
	}
	if initRes.ServerInfo.Name != "test" || initRes.Instructions != "Have fun!" {
		t.Fatalf("server info missing: %+v", initRes)
	}
	if initRes.Capabilities.Tools == nil || initRes.Capabilities.Prompts == nil || initRes.Capabilities.Resources == nil || initRes.Capabilities.Completions == nil {
		t.Fatalf("capabilities not advertised: %+v", initRes.Capabilities)
	}
}

func TestTools_ListAndCall(t *testing.T) {
	th := newHarness(t, testServer(t))
	_ = th.initialize(t)

	res := th.request(t, "1", string(mcp.ToolsListMethod), nil)
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" || list.Tools[0].InputSchema.Properties["text"].Type != "string" {
		t.Fatalf("unexpected tools: %+v", list.Tools)
	}

	call := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID("2")}
	call.Params = json.RawMessage(`{"name":"echo","arguments":{"text":"hi"},"_meta":{"progressToken":7}}`)
	if err := th.send(call); err != nil {
		t.Fatal(err)
	}

	note, err := th.expectNotification(time.Second)
	if err != nil {
		t.Fatalf("expect progress: %v", err)
	}
	if note.Method != string(mcp.ProgressNotificationMethod) {
		t.Fatalf("unexpected notification %s", note.Method)
	}
	var p mcp.ProgressNotificationParams
	if err := json.Unmarshal(note.Params, &p); err != nil {
		t.Fatal(err)
	}
	if p.ProgressToken != float64(7) || p.Progress != 0.5 || p.Total != 1 {
		t.Fatalf("unexpected progress params: %+v", p)
	}

	res, err = th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 || result.Content[0].Text != "hi" {
		t.Fatalf("unexpected tool result: %+v", result)
	}
}

func TestPing_BeforeInitialize(t *testing.T) {
	th := newHarness(t, testServer(t))
	res := th.request(t, "1", string(mcp.PingMethod), nil)
	if res.Error != nil {
		t.Fatalf("ping failed: %+v", res.Error)
	}
}

func TestMalformedInput(t *testing.T) {
	th := newHarness(t, testServer(t))

	if err := th.sendRaw(`{"jsonrpc":"2.0","id":1,`); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeParseError || !res.ID.IsNil() {
		t.Fatalf("expected parse error with null id, got %+v", res)
	}

	if err := th.sendRaw(`{"jsonrpc":"1.0","id":1,"method":"ping"}`); err != nil {
		t.Fatal(err)
	}
	res, err = th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", res)
	}

	// The connection survives bad input.
	if res := th.request(t, "2", string(mcp.PingMethod), nil); res.Error != nil {
		t.Fatalf("ping after bad input: %+v", res.Error)
	}
}

func TestCancellation_ToolsCall(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	var once sync.Once
	slow := mcprouter.NewTool[struct{}]("slow", func(ctx context.Context, w mcprouter.ToolResponseWriter, r *mcprouter.ToolRequest[struct{}]) error {
		close(started)
		<-ctx.Done()
		once.Do(func() { close(cancelled) })
		return ctx.Err()
	})
	th := newHarness(t, mcprouter.NewServer(mcprouter.NewRoute(slow)))
	_ = th.initialize(t)

	rid := "42"
	callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID(rid)}
	callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "slow"})
	if err := th.send(callReq); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("tool did not start")
	}

	cancelNote := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.CancelledNotificationMethod)}
	cancelNote.Params = mustJSON(t, map[string]any{"requestId": rid, "reason": "test"})
	if err := th.send(cancelNote); err != nil {
		t.Fatal(err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("tool context was not cancelled")
	}

	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatalf("expect cancellation response: %v", err)
	}
	if res.Error == nil || res.Error.Message != "cancelled" {
		t.Fatalf("expected cancelled error response, got: %+v", res)
	}
}

func TestResources_ListAndRead(t *testing.T) {
	th := newHarness(t, testServer(t))
	_ = th.initialize(t)

	res := th.request(t, "1", string(mcp.ResourcesTemplatesListMethod), nil)
	var templates mcp.ListResourceTemplatesResult
	if err := json.Unmarshal(res.Result, &templates); err != nil {
		t.Fatal(err)
	}
	if len(templates.ResourceTemplates) != 1 || templates.ResourceTemplates[0].URITemplate != "files://{path}/{file}" {
		t.Fatalf("unexpected templates: %+v", templates)
	}

	res = th.request(t, "2", string(mcp.ResourcesReadMethod), mcp.ReadResourceRequest{URI: "files://docs/readme.md"})
	var read mcp.ReadResourceResult
	if err := json.Unmarshal(res.Result, &read); err != nil {
		t.Fatal(err)
	}
	if len(read.Contents) != 1 || read.Contents[0].Text != "docs/readme.md" {
		t.Fatalf("unexpected contents: %+v", read)
	}

	res = th.request(t, "3", string(mcp.ResourcesReadMethod), mcp.ReadResourceRequest{URI: "files://too/many/segments"})
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeResourceNotFound {
		t.Fatalf("expected resource not found, got %+v", res)
	}
}

func TestPrompts_GetAndComplete(t *testing.T) {
	th := newHarness(t, testServer(t))
	_ = th.initialize(t)

	res := th.request(t, "1", string(mcp.PromptsGetMethod), mcp.GetPromptRequest{Name: "hello", Arguments: map[string]string{"name": "Ada"}})
	var got mcp.GetPromptResult
	if err := json.Unmarshal(res.Result, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content.Text != "Hello, Ada" {
		t.Fatalf("unexpected prompt: %+v", got)
	}

	res = th.request(t, "2", string(mcp.CompletionCompleteMethod), mcp.CompleteRequest{
		Ref:      mcp.CompleteReference{Type: mcp.RefTypePrompt, Name: "hello"},
		Argument: mcp.CompleteArgument{Name: "name", Value: "a"},
	})
	var comp mcp.CompleteResult
	if err := json.Unmarshal(res.Result, &comp); err != nil {
		t.Fatal(err)
	}
	if strings.Join(comp.Completion.Values, ",") != "ada,alan" {
		t.Fatalf("unexpected completion: %+v", comp)
	}
}

func TestLogging_SetLevel(t *testing.T) {
	var lv slog.LevelVar
	th := newHarness(t, testServer(t, mcprouter.WithLoggingCapability(mcprouter.NewSlogLevelVarLogging(&lv))))
	_ = th.initialize(t)

	if res := th.request(t, "1", string(mcp.LoggingSetLevelMethod), mcp.SetLevelRequest{Level: mcp.LoggingLevelDebug}); res.Error != nil {
		t.Fatalf("setLevel: %+v", res.Error)
	}
	if lv.Level() != slog.LevelDebug {
		t.Fatalf("level = %v", lv.Level())
	}
	res := th.request(t, "2", string(mcp.LoggingSetLevelMethod), mcp.SetLevelRequest{Level: "bogus"})
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", res)
	}
}

func TestNotify(t *testing.T) {
	th := newHarness(t, testServer(t))
	_ = th.initialize(t)

	if err := th.h.Notify(context.Background(), string(mcp.ResourcesUpdatedNotificationMethod), mcp.ResourceUpdatedNotification{URI: "files://a/b"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	note, err := th.expectNotification(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if note.Method != string(mcp.ResourcesUpdatedNotificationMethod) || string(note.Params) != `{"uri":"files://a/b"}` {
		t.Fatalf("unexpected notification: %s %s", note.Method, note.Params)
	}
}

// lockedBuffer guards a bytes.Buffer written by concurrent responders.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestServe_EOFWaitsForInFlight(t *testing.T) {
	var in strings.Builder
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&in, `{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"echo","arguments":{"text":"m%d"}}}`+"\n", i, i)
	}
	var out lockedBuffer
	h := NewHandler(testServer(t), WithIO(strings.NewReader(in.String()), &out), WithLogger(discardLogger()))

	if err := h.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if err := h.Serve(context.Background()); !errors.Is(err, ErrAlreadyServing) {
		t.Fatalf("second Serve: %v", err)
	}

	seen := map[string]bool{}
	sc := bufio.NewScanner(&out.buf)
	for sc.Scan() {
		var res jsonrpc.Response
		if err := json.Unmarshal(sc.Bytes(), &res); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		var result mcp.CallToolResult
		if err := json.Unmarshal(res.Result, &result); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if want := "m" + res.ID.String(); result.Content[0].Text != want {
			t.Fatalf("response %s carried %q, want %q", res.ID, result.Content[0].Text, want)
		}
		seen[res.ID.String()] = true
	}
	for i := 1; i <= 20; i++ {
		if !seen[strconv.Itoa(i)] {
			t.Fatalf("missing response for id %d", i)
		}
	}
}

func TestServe_ContextCancel(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	h := NewHandler(testServer(t), WithIO(inR, io.Discard), WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
