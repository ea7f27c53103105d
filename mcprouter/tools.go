package mcprouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/invopop/jsonschema"
)

// ToolRequest is the container for tool call input. It is generic over the
// typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolResponseWriterTyped extends ToolResponseWriter for typed output tools.
// It allows setting a structuredContent value of type O.
type ToolResponseWriterTyped[O any] interface {
	ToolResponseWriter
	SetStructured(v O)
}

type toolResponseWriterTyped[O any] struct {
	ToolResponseWriter
	structured any // stored as concrete O; serialized at finalize
}

func (tw *toolResponseWriterTyped[O]) SetStructured(v O) { tw.structured = v }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	allowAdditionalProperties bool // default false (strict)
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolTitle sets the human-readable tool title.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// runtime decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a writer-based tool with typed input A. The input schema
// is reflected from A. Arguments that fail to decode produce an isError tool
// result; the handler is not called.
func NewTool[A any](name string, fn func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) ToolDefinition {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
		a, err := decodeToolArgs[A](raw, cfg.allowAdditionalProperties)
		if err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		w := newToolResponseWriter(ctx)
		if err := fn(ctx, w, &ToolRequest[A]{name: name, raw: raw, args: a}); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return ToolDefinition{Tool: desc, Handler: handler}
}

// TypedTool wraps a strongly typed args function around an explicit
// descriptor. It unmarshals the arguments into A and invokes fn.
func TypedTool[A any](desc mcp.Tool, fn func(ctx context.Context, args A) (*mcp.CallToolResult, error)) ToolDefinition {
	return ToolDefinition{
		Tool: desc,
		Handler: func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
			var a A
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
			return fn(ctx, a)
		},
	}
}

// NewToolWithOutput constructs a typed-input, typed-output tool. The output
// schema is reflected from O and the value passed to SetStructured is sent as
// structuredContent.
func NewToolWithOutput[A, O any](name string, fn func(ctx context.Context, w ToolResponseWriterTyped[O], r *ToolRequest[A]) error, opts ...ToolOption) ToolDefinition {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	outSchema := reflectToMCPOutputSchema[O]()
	desc := mcp.Tool{
		Name:         name,
		Title:        cfg.title,
		Description:  cfg.description,
		InputSchema:  reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
		OutputSchema: &outSchema,
	}
	handler := func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
		a, err := decodeToolArgs[A](raw, cfg.allowAdditionalProperties)
		if err != nil {
			return Errorf("invalid arguments: %v", err), nil
		}
		baseWriter := newToolResponseWriter(ctx)
		tw := &toolResponseWriterTyped[O]{ToolResponseWriter: baseWriter}
		if err := fn(ctx, tw, &ToolRequest[A]{name: name, raw: raw, args: a}); err != nil {
			return nil, err
		}
		res := baseWriter.Result()
		if tw.structured != nil {
			b, err := json.Marshal(tw.structured)
			if err != nil {
				return nil, fmt.Errorf("encode structured content: %w", err)
			}
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				return nil, fmt.Errorf("structured content must be an object: %w", err)
			}
			res.StructuredContent = m
		}
		return res, nil
	}
	return ToolDefinition{Tool: desc, Handler: handler}
}

func decodeToolArgs[A any](raw json.RawMessage, allowAdditional bool) (A, error) {
	var a A
	if len(raw) == 0 || string(raw) == "null" {
		return a, nil
	}
	if allowAdditional {
		err := json.Unmarshal(raw, &a)
		return a, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	err := dec.Decode(&a)
	return a, err
}

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	s := reflectSchema(new(A), &jsonschema.Reflector{
		DoNotReference:            true, // inline defs
		AllowAdditionalProperties: allowAdditional,
	})

	// Only object schemas map cleanly to MCP ToolInputSchema.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           schemaProperties(s),
		Required:             append([]string(nil), s.Required...),
		AdditionalProperties: allowAdditional,
	}
}

// reflectToMCPOutputSchema reflects a Go type O into a mcp.ToolOutputSchema.
func reflectToMCPOutputSchema[O any]() mcp.ToolOutputSchema {
	s := reflectSchema(new(O), &jsonschema.Reflector{DoNotReference: true})
	if s == nil || s.Type != "object" {
		return mcp.ToolOutputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}
	return mcp.ToolOutputSchema{
		Type:       "object",
		Properties: schemaProperties(s),
		Required:   append([]string(nil), s.Required...),
	}
}

// reflectSchema reflects v with r, putting the struct at the root. Expansion
// looks the root up by type name, so unnamed types such as struct{} use the
// inline root schema instead.
func reflectSchema(v any, r *jsonschema.Reflector) *jsonschema.Schema {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.ExpandedStruct = t.Kind() == reflect.Struct && t.Name() != ""
	return r.Reflect(v)
}

func schemaProperties(s *jsonschema.Schema) map[string]mcp.SchemaProperty {
	props := make(map[string]mcp.SchemaProperty)
	if s.Properties == nil {
		return props
	}
	for el := s.Properties.Oldest(); el != nil; el = el.Next() {
		props[el.Key] = toMCPProperty(el.Value)
	}
	return props
}

// toMCPProperty recursively maps a jsonschema.Schema to the simplified MCP SchemaProperty.
func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		p.Properties = schemaProperties(s)
	}
	return p
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
