package mcprouter

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/uritemplate"
	"github.com/google/go-cmp/cmp"
)

type addArgs struct {
	LHS int `json:"lhs"`
	RHS int `json:"rhs"`
}

func addTool() ToolDefinition {
	return NewTool[addArgs]("add", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[addArgs]) error {
		a := r.Args()
		return w.AppendText(strconv.Itoa(a.LHS + a.RHS))
	}, WithToolDescription("Add two integers"))
}

func mustResource(t *testing.T) func(ResourceDefinition, error) ResourceDefinition {
	return func(def ResourceDefinition, err error) ResourceDefinition {
		t.Helper()
		if err != nil {
			t.Fatalf("resource: %v", err)
		}
		return def
	}
}

func textOf(res *mcp.ReadResourceResult) string {
	if res == nil || len(res.Contents) == 0 {
		return ""
	}
	return res.Contents[0].Text
}

func TestDispatcher_CallTool_Add(t *testing.T) {
	d := NewDispatcher(NewRoute(addTool()))
	res, err := d.CallTool(context.Background(), "add", json.RawMessage(`{"lhs":2,"rhs":3}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "5" {
		b, _ := json.Marshal(res)
		t.Fatalf("unexpected result: %s", b)
	}
}

func TestDispatcher_CallTool_NotFound(t *testing.T) {
	d := NewDispatcher(NewRoute())
	_, err := d.CallTool(context.Background(), "nonexistent", json.RawMessage(`{}`))
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != KindTool || nf.Key != "nonexistent" {
		t.Fatalf("expected NotFoundError{tool nonexistent}, got %#v", err)
	}
}

func TestDispatcher_CallTool_FirstNameWins(t *testing.T) {
	first := TypedTool[struct{}](mcp.Tool{Name: "dup"}, func(context.Context, struct{}) (*mcp.CallToolResult, error) {
		return TextResult("first"), nil
	})
	second := TypedTool[struct{}](mcp.Tool{Name: "dup"}, func(context.Context, struct{}) (*mcp.CallToolResult, error) {
		return TextResult("second"), nil
	})
	res, err := NewDispatcher(NewRoute(first, second)).CallTool(context.Background(), "dup", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Content[0].Text != "first" {
		t.Fatalf("expected first registration to win, got %q", res.Content[0].Text)
	}
}

func TestDispatcher_NilHandlersAreSkipped(t *testing.T) {
	placeholder := ToolDefinition{Tool: mcp.Tool{Name: "dup"}}
	served := TypedTool[struct{}](mcp.Tool{Name: "dup"}, func(context.Context, struct{}) (*mcp.CallToolResult, error) {
		return TextResult("real"), nil
	})
	d := NewDispatcher(NewRoute(placeholder, served, ResourceDefinition{Name: "x", Template: uritemplate.MustParse("a://x")}))
	if got := d.ListTools(context.Background()); len(got) != 2 {
		t.Fatalf("expected both descriptors listed, got %d", len(got))
	}
	res, err := d.CallTool(context.Background(), "dup", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Content[0].Text != "real" {
		t.Fatalf("expected the handler-bearing registration, got %q", res.Content[0].Text)
	}
	if _, err := d.ReadResource(context.Background(), "a://x"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestDispatcher_CallTool_HandlerErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	tool := ToolDefinition{Tool: mcp.Tool{Name: "fail"}, Handler: func(context.Context, json.RawMessage) (*mcp.CallToolResult, error) {
		return nil, boom
	}}
	_, err := NewDispatcher(NewRoute(tool)).CallTool(context.Background(), "fail", nil)
	if err != boom {
		t.Fatalf("expected handler error verbatim, got %v", err)
	}
}

func TestDispatcher_ListTools_RegistrationOrder(t *testing.T) {
	a := ToolDefinition{Tool: mcp.Tool{Name: "b"}}
	b := ToolDefinition{Tool: mcp.Tool{Name: "a"}}
	got := NewDispatcher(NewRoute(a, b)).ListTools(context.Background())
	if len(got) != 2 || got[0].Name != "b" || got[1].Name != "a" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestDispatcher_ReadResource_FilesTemplate(t *testing.T) {
	files := mustResource(t)(NewResource("files", "files://{path}/{file}", func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) {
		p, _ := req.Captures.Get("path")
		f, _ := req.Captures.Get("file")
		return TextContents(req.URI, "text/plain", p+"/"+f), nil
	}))
	res, err := NewDispatcher(NewRoute(files)).ReadResource(context.Background(), "files://home/report.txt")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if got := textOf(res); got != "home/report.txt" {
		t.Fatalf("expected home/report.txt, got %q", got)
	}
	if res.Contents[0].URI != "files://home/report.txt" {
		t.Fatalf("expected original uri, got %q", res.Contents[0].URI)
	}
}

func TestDispatcher_ReadResource_LiteralExactness(t *testing.T) {
	static := mustResource(t)(NewResource("y", "static://x/y.txt", func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) {
		return TextContents(req.URI, "", "y"), nil
	}))
	d := NewDispatcher(NewRoute(static))
	if _, err := d.ReadResource(context.Background(), "static://x/y.txt"); err != nil {
		t.Fatalf("ReadResource exact: %v", err)
	}
	for _, uri := range []string{"static://x/y.txtx", "static://x/", "static://x/z.txt"} {
		_, err := d.ReadResource(context.Background(), uri)
		if !errors.Is(err, ErrResourceNotFound) {
			t.Fatalf("ReadResource(%q): expected ErrResourceNotFound, got %v", uri, err)
		}
	}
}

func TestDispatcher_ReadResource_FirstMatchWins(t *testing.T) {
	var calls []string
	mk := func(name, tmpl string, ret *mcp.ReadResourceResult, err error) ResourceDefinition {
		return mustResource(t)(NewResource(name, tmpl, func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) {
			calls = append(calls, name)
			return ret, err
		}))
	}
	// The first handler's return value, even an error, is final.
	failing := errors.New("first handler failed")
	d := NewDispatcher(NewRoute(
		mk("first", "items://{id}", nil, failing),
		mk("second", "items://{id}", TextContents("items://1", "", "second"), nil),
	))
	_, err := d.ReadResource(context.Background(), "items://1")
	if err != failing {
		t.Fatalf("expected first handler's error, got %v", err)
	}
	if diff := cmp.Diff([]string{"first"}, calls); diff != "" {
		t.Fatalf("handler calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_ReadResource_CatchAll(t *testing.T) {
	specific := mustResource(t)(NewResource("specific", "a://{x}", func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) {
		return TextContents(req.URI, "", "specific"), nil
	}))
	catchAll := mustResource(t)(NewResource("any", "", func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) {
		if req.Captures.Len() != 0 {
			t.Fatalf("catch-all should receive no captures, got %v", req.Captures)
		}
		return TextContents(req.URI, "", "any"), nil
	}))
	d := NewDispatcher(NewRoute(specific, catchAll))
	if res, _ := d.ReadResource(context.Background(), "a://1"); textOf(res) != "specific" {
		t.Fatalf("expected specific, got %q", textOf(res))
	}
	if res, _ := d.ReadResource(context.Background(), "zzz:whatever"); textOf(res) != "any" {
		t.Fatalf("expected catch-all, got %q", textOf(res))
	}
	if got := d.ListResources(context.Background()); len(got) != 0 {
		t.Fatalf("catch-all must not be listed: %+v", got)
	}
	if got := d.ListResourceTemplates(context.Background()); len(got) != 1 || got[0].URITemplate != "a://{x}" {
		t.Fatalf("unexpected templates: %+v", got)
	}
}

type countArgs struct {
	Count int `uri:"count"`
}

func TestDispatcher_ReadResource_TypedCaptureFailure(t *testing.T) {
	called := false
	def := mustResource(t)(TypedResource[countArgs]("count", "test://{count}", func(ctx context.Context, uri string, a countArgs) (*mcp.ReadResourceResult, error) {
		called = true
		return TextContents(uri, "", strconv.Itoa(a.Count)), nil
	}))
	d := NewDispatcher(NewRoute(def))

	for _, uri := range []string{"test://abc", "test://", "test://0x1F", "test://1_000"} {
		_, err := d.ReadResource(context.Background(), uri)
		if !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%s: expected ErrInvalidParams, got %v", uri, err)
		}
		if called {
			t.Fatalf("%s: handler must not run when capture parsing fails", uri)
		}
	}

	res, err := d.ReadResource(context.Background(), "test://12")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if textOf(res) != "12" {
		t.Fatalf("expected 12, got %q", textOf(res))
	}
}

func TestDispatcher_ReadResource_TypedMissingCapture(t *testing.T) {
	def := mustResource(t)(TypedResource[countArgs]("count", "", func(ctx context.Context, uri string, a countArgs) (*mcp.ReadResourceResult, error) {
		t.Fatalf("handler must not run")
		return nil, nil
	}))
	_, err := NewDispatcher(NewRoute(def)).ReadResource(context.Background(), "anything")
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestDispatcher_ListResources_OnlyLiterals(t *testing.T) {
	h := func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) { return nil, nil }
	d := NewDispatcher(NewRoute(
		mustResource(t)(NewResource("readme", "docs://readme", h, WithMimeType("text/markdown"), WithResourceTitle("Readme"))),
		mustResource(t)(NewResource("doc", "docs://{name}", h, WithResourceDescription("any doc"))),
	))
	want := []mcp.Resource{{URI: "docs://readme", Name: "readme", Title: "Readme", MimeType: "text/markdown"}}
	if diff := cmp.Diff(want, d.ListResources(context.Background())); diff != "" {
		t.Fatalf("resources mismatch (-want +got):\n%s", diff)
	}
	wantT := []mcp.ResourceTemplate{{URITemplate: "docs://{name}", Name: "doc", Description: "any doc"}}
	if diff := cmp.Diff(wantT, d.ListResourceTemplates(context.Background())); diff != "" {
		t.Fatalf("templates mismatch (-want +got):\n%s", diff)
	}
}

func TestNewResource_SyntaxError(t *testing.T) {
	_, err := NewResource("bad", "files://{path", nil)
	if err == nil {
		t.Fatalf("expected template syntax error")
	}
	if !strings.Contains(err.Error(), "unclosed") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatcher_GetPrompt(t *testing.T) {
	type greetArgs struct {
		Name  string `json:"name" jsonschema:"description=Who to greet"`
		Shout *bool  `json:"shout"`
		Tone  string `json:"tone,omitempty"`
	}
	p := NewPrompt[greetArgs]("greet", func(ctx context.Context, a greetArgs) (*mcp.GetPromptResult, error) {
		msg := "hello " + a.Name
		if a.Shout != nil && *a.Shout {
			msg = strings.ToUpper(msg)
		}
		return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{UserMessage(msg)}}, nil
	}, WithPromptDescription("Greets someone"))

	d := NewDispatcher(NewRoute(p))

	list := d.ListPrompts(context.Background())
	want := []mcp.Prompt{{
		Name:        "greet",
		Description: "Greets someone",
		Arguments: []mcp.PromptArgument{
			{Name: "name", Description: "Who to greet", Required: true},
			{Name: "shout"},
			{Name: "tone"},
		},
	}}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("prompts mismatch (-want +got):\n%s", diff)
	}

	res, err := d.GetPrompt(context.Background(), "greet", map[string]string{"name": "ada", "shout": "true"})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if res.Messages[0].Content.Text != "HELLO ADA" {
		t.Fatalf("unexpected message: %+v", res.Messages[0])
	}

	if _, err := d.GetPrompt(context.Background(), "greet", map[string]string{}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for missing name, got %v", err)
	}
	if _, err := d.GetPrompt(context.Background(), "greet", map[string]string{"name": "a", "shout": "loud"}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for bad bool, got %v", err)
	}
	if _, err := d.GetPrompt(context.Background(), "missing", nil); !errors.Is(err, ErrPromptNotFound) {
		t.Fatalf("expected ErrPromptNotFound, got %v", err)
	}
}

func TestDispatcher_Complete_NoBinding(t *testing.T) {
	d := NewDispatcher(NewRoute(NewPrompt[struct{}]("p", func(context.Context, struct{}) (*mcp.GetPromptResult, error) { return nil, nil })))
	res, err := d.Complete(context.Background(), mcp.CompleteRequest{
		Ref:      mcp.CompleteReference{Type: mcp.RefTypePrompt, Name: "p"},
		Argument: mcp.CompleteArgument{Name: "x", Value: "a"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Completion.Values == nil || len(res.Completion.Values) != 0 || res.Completion.Total != 0 {
		t.Fatalf("expected empty completion, got %+v", res.Completion)
	}
	b, _ := json.Marshal(res)
	if !strings.Contains(string(b), `"values":[]`) {
		t.Fatalf("empty values must encode as an array: %s", b)
	}
}

func TestDispatcher_Complete_PromptAndResource(t *testing.T) {
	h := func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) { return nil, nil }
	notes := mustResource(t)(NewResource("note", "notes://{key}", h,
		WithResourceCompletion("key", StaticCompletions("alpha", "beta", "alps"))))
	prompt := NewPrompt[struct {
		Style string `json:"style"`
	}]("summarize", nil, WithPromptCompletion("style", StaticCompletions("short", "long")))

	d := NewDispatcher(NewRoute(notes, prompt))

	res, err := d.Complete(context.Background(), mcp.CompleteRequest{
		Ref:      mcp.CompleteReference{Type: mcp.RefTypeResource, URI: "notes://{key}"},
		Argument: mcp.CompleteArgument{Name: "key", Value: "al"},
	})
	if err != nil {
		t.Fatalf("Complete resource: %v", err)
	}
	if diff := cmp.Diff(mcp.Completion{Values: []string{"alpha", "alps"}, Total: 2}, res.Completion); diff != "" {
		t.Fatalf("resource completion mismatch (-want +got):\n%s", diff)
	}

	res, err = d.Complete(context.Background(), mcp.CompleteRequest{
		Ref:      mcp.CompleteReference{Type: mcp.RefTypePrompt, Name: "summarize"},
		Argument: mcp.CompleteArgument{Name: "style", Value: "s"},
	})
	if err != nil {
		t.Fatalf("Complete prompt: %v", err)
	}
	if diff := cmp.Diff([]string{"short"}, res.Completion.Values); diff != "" {
		t.Fatalf("prompt completion mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_Complete_FirstBindingWins(t *testing.T) {
	d := NewDispatcher(NewRoute(
		NewCompletion("p", "a", StaticCompletions("one")),
		NewCompletion("p", "a", StaticCompletions("two")),
	))
	res, err := d.Complete(context.Background(), mcp.CompleteRequest{
		Ref:      mcp.CompleteReference{Type: mcp.RefTypePrompt, Name: "p"},
		Argument: mcp.CompleteArgument{Name: "a"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if diff := cmp.Diff([]string{"one"}, res.Completion.Values); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcher_Complete_CapsValues(t *testing.T) {
	many := make([]string, 150)
	for i := range many {
		many[i] = "v" + strconv.Itoa(i)
	}
	d := NewDispatcher(NewRoute(NewCompletion("p", "a", StaticCompletions(many...))))
	res, err := d.Complete(context.Background(), mcp.CompleteRequest{
		Ref:      mcp.CompleteReference{Type: mcp.RefTypePrompt, Name: "p"},
		Argument: mcp.CompleteArgument{Name: "a"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	c := res.Completion
	if len(c.Values) != mcp.MaxCompletionValues || c.Total != 150 || !c.HasMore {
		t.Fatalf("unexpected capping: len=%d total=%d hasMore=%v", len(c.Values), c.Total, c.HasMore)
	}
}

func TestDispatcher_Complete_UnknownRefType(t *testing.T) {
	_, err := NewDispatcher(NewRoute()).Complete(context.Background(), mcp.CompleteRequest{
		Ref: mcp.CompleteReference{Type: "ref/tool", Name: "x"},
	})
	if !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestDispatcher_ConcurrentUse(t *testing.T) {
	d := NewDispatcher(NewRoute(addTool()))
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			args, _ := json.Marshal(addArgs{LHS: i, RHS: 1})
			res, err := d.CallTool(context.Background(), "add", args)
			if err != nil {
				t.Errorf("CallTool: %v", err)
				return
			}
			if res.Content[0].Text != strconv.Itoa(i+1) {
				t.Errorf("got %q want %d", res.Content[0].Text, i+1)
			}
		}(i)
	}
	wg.Wait()
}
