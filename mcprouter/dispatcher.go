package mcprouter

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/mcp-router-go/mcp"
)

// Dispatcher resolves MCP operations against a Route and invokes the
// matching handlers. It never mutates the Route and holds no locks while a
// handler runs.
//
// A definition with a nil Handler is listed but never dispatched to: lookup
// skips it, so a later registration under the same name or a later matching
// template serves the request instead.
type Dispatcher struct {
	route *Route
}

// NewDispatcher returns a Dispatcher over route. A nil route behaves like an
// empty one.
func NewDispatcher(route *Route) *Dispatcher {
	if route == nil {
		route = NewRoute()
	}
	return &Dispatcher{route: route}
}

// Route returns the Route the dispatcher serves.
func (d *Dispatcher) Route() *Route { return d.route }

// ListTools returns every tool descriptor in registration order.
func (d *Dispatcher) ListTools(_ context.Context) []mcp.Tool {
	out := make([]mcp.Tool, 0, len(d.route.tools))
	for _, t := range d.route.tools {
		out = append(out, t.Tool)
	}
	return out
}

// CallTool invokes the first tool registered under name.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	for _, t := range d.route.tools {
		if t.Tool.Name != name || t.Handler == nil {
			continue
		}
		res, err := t.Handler(ctx, args)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &mcp.CallToolResult{}
		}
		if res.Content == nil {
			res.Content = []mcp.ContentBlock{}
		}
		return res, nil
	}
	return nil, &NotFoundError{Kind: KindTool, Key: name}
}

// ListPrompts returns every prompt descriptor in registration order.
func (d *Dispatcher) ListPrompts(_ context.Context) []mcp.Prompt {
	out := make([]mcp.Prompt, 0, len(d.route.prompts))
	for _, p := range d.route.prompts {
		out = append(out, p.Prompt)
	}
	return out
}

// GetPrompt renders the first prompt registered under name.
func (d *Dispatcher) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	for _, p := range d.route.prompts {
		if p.Prompt.Name != name || p.Handler == nil {
			continue
		}
		res, err := p.Handler(ctx, args)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &mcp.GetPromptResult{}
		}
		if res.Messages == nil {
			res.Messages = []mcp.PromptMessage{}
		}
		return res, nil
	}
	return nil, &NotFoundError{Kind: KindPrompt, Key: name}
}

// ListResources returns the resources whose template has no variables, each
// under the single URI that template expands to. Templated and catch-all
// resources are not listed.
func (d *Dispatcher) ListResources(_ context.Context) []mcp.Resource {
	out := []mcp.Resource{}
	for _, r := range d.route.resources {
		if r.Template == nil || !r.Template.IsLiteral() {
			continue
		}
		uri, err := r.Template.Expand(nil)
		if err != nil {
			continue
		}
		out = append(out, mcp.Resource{
			URI:         uri,
			Name:        r.Name,
			Title:       r.Title,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
	}
	return out
}

// ListResourceTemplates returns the resources whose template has at least one
// variable, reported as the raw template string.
func (d *Dispatcher) ListResourceTemplates(_ context.Context) []mcp.ResourceTemplate {
	out := []mcp.ResourceTemplate{}
	for _, r := range d.route.resources {
		if r.Template == nil || r.Template.IsLiteral() {
			continue
		}
		out = append(out, mcp.ResourceTemplate{
			URITemplate: r.Template.String(),
			Name:        r.Name,
			Title:       r.Title,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
	}
	return out
}

// ReadResource invokes the first resource, in registration order, whose
// template matches uri. Catch-all resources match every URI.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	for _, r := range d.route.resources {
		if r.Handler == nil {
			continue
		}
		caps, ok := r.match(uri)
		if !ok {
			continue
		}
		res, err := r.Handler(ctx, ResourceRequest{URI: uri, Captures: caps})
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = &mcp.ReadResourceResult{}
		}
		if res.Contents == nil {
			res.Contents = []mcp.ResourceContents{}
		}
		return res, nil
	}
	return nil, &NotFoundError{Kind: KindResource, Key: uri}
}

// Complete resolves a completion request. The subject is the prompt name for
// prompt references and the raw template string for resource references. The
// first binding registered for (subject, argument) handles the request; when
// there is none the result is empty rather than an error.
func (d *Dispatcher) Complete(ctx context.Context, req mcp.CompleteRequest) (*mcp.CompleteResult, error) {
	var subject string
	switch req.Ref.Type {
	case mcp.RefTypePrompt:
		subject = req.Ref.Name
	case mcp.RefTypeResource:
		subject = req.Ref.URI
	default:
		return nil, InvalidParamsf("unsupported completion reference type %q", req.Ref.Type)
	}

	var resolved map[string]string
	if req.Context != nil {
		resolved = req.Context.Arguments
	}

	for _, b := range d.route.completions {
		if b.Subject != subject || b.Argument != req.Argument.Name || b.Handler == nil {
			continue
		}
		values, err := b.Handler(ctx, CompletionRequest{
			Ref:      req.Ref,
			Argument: req.Argument.Name,
			Value:    req.Argument.Value,
			Context:  resolved,
		})
		if err != nil {
			return nil, err
		}
		return completionResult(values), nil
	}
	return completionResult(nil), nil
}
