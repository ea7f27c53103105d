package mcprouter

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/uritemplate"
)

// ToolHandler handles a tool invocation. args holds the raw JSON object sent
// by the client and may be empty.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

// ToolDefinition pairs a tool descriptor with its handler. Tools are
// addressed by exact name.
type ToolDefinition struct {
	Tool    mcp.Tool
	Handler ToolHandler
}

// PromptHandler renders a prompt from its string arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// PromptDefinition pairs a prompt descriptor with its handler and the
// completion bindings for its arguments. Bindings with an empty Subject are
// bound to this prompt's name when the definition is added to a Route.
type PromptDefinition struct {
	Prompt      mcp.Prompt
	Handler     PromptHandler
	Completions []CompletionBinding
}

// ResourceRequest is the input to a ResourceHandler.
type ResourceRequest struct {
	// URI is the URI exactly as requested by the client.
	URI string
	// Captures holds the template variables extracted from URI. It is empty
	// for literal templates and catch-all resources.
	Captures uritemplate.Captures
}

// ResourceHandler reads a resource.
type ResourceHandler func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error)

// ResourceDefinition describes a resource or family of resources.
//
// A Template without variables addresses a single concrete resource and is
// reported by resources/list. A Template with variables is reported by
// resources/templates/list instead. A nil Template accepts every URI and is
// never listed.
type ResourceDefinition struct {
	Name        string
	Title       string
	Description string
	MimeType    string
	Template    *uritemplate.Template
	Handler     ResourceHandler
	// Completions with an empty Subject are bound to the template string when
	// the definition is added to a Route.
	Completions []CompletionBinding
}

// TemplateString returns the raw template, or "" for catch-all resources.
func (d ResourceDefinition) TemplateString() string {
	if d.Template == nil {
		return ""
	}
	return d.Template.String()
}

func (d ResourceDefinition) match(uri string) (uritemplate.Captures, bool) {
	if d.Template == nil {
		return uritemplate.Captures{}, true
	}
	return d.Template.Match(uri)
}
