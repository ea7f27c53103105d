package mcprouter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ggoodman/mcp-router-go/mcp"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo"`
	Times   int    `json:"times,omitempty"`
}

func TestNewTool_SchemaReflection(t *testing.T) {
	tool := NewTool[echoArgs]("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		return nil
	}, WithToolDescription("echo tool"), WithToolTitle("Echo"))

	if tool.Tool.Name != "echo" || tool.Tool.Description != "echo tool" || tool.Tool.Title != "Echo" {
		t.Fatalf("unexpected descriptor: %+v", tool.Tool)
	}
	in := tool.Tool.InputSchema
	if in.Type != "object" {
		t.Fatalf("expected object schema, got %q", in.Type)
	}
	if p, ok := in.Properties["message"]; !ok || p.Type != "string" || p.Description != "Text to echo" {
		t.Fatalf("unexpected message property: %+v", in.Properties)
	}
	if p, ok := in.Properties["times"]; !ok || p.Type != "integer" {
		t.Fatalf("unexpected times property: %+v", in.Properties)
	}
	if len(in.Required) != 1 || in.Required[0] != "message" {
		t.Fatalf("unexpected required: %v", in.Required)
	}
	if in.AdditionalProperties {
		t.Fatalf("strict tools must not allow additional properties")
	}
}

func TestNewTool_RejectsUnknownFields(t *testing.T) {
	called := false
	tool := NewTool[echoArgs]("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		called = true
		return nil
	})
	res, err := tool.Handler(context.Background(), json.RawMessage(`{"message":"hi","extra":1}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError || called {
		t.Fatalf("expected isError result without invoking fn, got %+v called=%v", res, called)
	}

	lenient := NewTool[echoArgs]("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		return w.AppendText(r.Args().Message)
	}, WithToolAllowAdditionalProperties(true))
	res, err = lenient.Handler(context.Background(), json.RawMessage(`{"message":"hi","extra":1}`))
	if err != nil || res.IsError || res.Content[0].Text != "hi" {
		t.Fatalf("lenient tool: res=%+v err=%v", res, err)
	}
}

func TestNewTool_WriterComposesResult(t *testing.T) {
	tool := NewTool[echoArgs]("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		for i := 0; i < r.Args().Times; i++ {
			if err := w.AppendText(r.Args().Message); err != nil {
				return err
			}
		}
		w.SetMeta("times", r.Args().Times)
		if r.Name() != "echo" {
			t.Errorf("unexpected name %q", r.Name())
		}
		return nil
	})
	res, err := tool.Handler(context.Background(), json.RawMessage(`{"message":"a","times":3}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(res.Content) != 3 || res.Meta["times"] != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNewTool_HandlerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	tool := NewTool[echoArgs]("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		return boom
	})
	if _, err := tool.Handler(context.Background(), nil); err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestNewToolWithOutput_StructuredContent(t *testing.T) {
	type out struct {
		Value string `json:"value"`
	}
	tool := NewToolWithOutput[struct{}, out]("produce", func(ctx context.Context, w ToolResponseWriterTyped[out], r *ToolRequest[struct{}]) error {
		w.SetStructured(out{Value: "hi"})
		return nil
	})
	if tool.Tool.OutputSchema == nil || tool.Tool.OutputSchema.Properties["value"].Type != "string" {
		t.Fatalf("unexpected output schema: %+v", tool.Tool.OutputSchema)
	}
	res, err := tool.Handler(context.Background(), nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.StructuredContent["value"] != "hi" {
		t.Fatalf("unexpected structured content: %+v", res.StructuredContent)
	}
}

func TestNewTool_UnnamedArgumentTypes(t *testing.T) {
	noargs := NewTool[struct{}]("noargs", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[struct{}]) error {
		return w.AppendText("ok")
	})
	in := noargs.Tool.InputSchema
	if in.Type != "object" || len(in.Properties) != 0 || len(in.Required) != 0 {
		t.Fatalf("unexpected schema for struct{}: %+v", in)
	}
	res, err := noargs.Handler(context.Background(), json.RawMessage(`{}`))
	if err != nil || res.IsError {
		t.Fatalf("handler: res=%+v err=%v", res, err)
	}

	inline := NewTool[struct {
		Query string `json:"query"`
	}]("search", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[struct {
		Query string `json:"query"`
	}]) error {
		return w.AppendText(r.Args().Query)
	})
	if p, ok := inline.Tool.InputSchema.Properties["query"]; !ok || p.Type != "string" {
		t.Fatalf("unexpected inline schema: %+v", inline.Tool.InputSchema)
	}

	prompt := NewPrompt[struct {
		Topic string `json:"topic"`
	}]("brainstorm", func(ctx context.Context, args struct {
		Topic string `json:"topic"`
	}) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{Messages: []mcp.PromptMessage{UserMessage(args.Topic)}}, nil
	})
	if len(prompt.Prompt.Arguments) != 1 || prompt.Prompt.Arguments[0].Name != "topic" {
		t.Fatalf("unexpected prompt arguments: %+v", prompt.Prompt.Arguments)
	}
}

func TestToolResponseWriter_FinalizedAndProgress(t *testing.T) {
	var reported []float64
	ctx := WithProgressReporter(context.Background(), ProgressReporterFunc(func(ctx context.Context, progress, total float64, message string) error {
		reported = append(reported, progress, total)
		return nil
	}))
	w := newToolResponseWriter(ctx)
	if err := w.SendProgress(1, 2); err != nil {
		t.Fatalf("SendProgress: %v", err)
	}
	_ = w.Result()
	if err := w.AppendText("late"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if len(reported) != 2 || reported[0] != 1 || reported[1] != 2 {
		t.Fatalf("unexpected progress: %v", reported)
	}

	// Without a reporter progress is a no-op.
	if err := newToolResponseWriter(context.Background()).SendProgress(1, 1); err != nil {
		t.Fatalf("SendProgress without reporter: %v", err)
	}
}

func TestTextResultAndErrorf(t *testing.T) {
	if r := TextResult("x"); r.IsError || r.Content[0].Type != mcp.ContentTypeText || r.Content[0].Text != "x" {
		t.Fatalf("TextResult: %+v", r)
	}
	if r := Errorf("bad %d", 1); !r.IsError || r.Content[0].Text != "bad 1" {
		t.Fatalf("Errorf: %+v", r)
	}
}
