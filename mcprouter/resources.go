package mcprouter

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/ggoodman/mcp-router-go/uritemplate"
)

// ResourceOption configures a ResourceDefinition built by NewResource or
// TypedResource.
type ResourceOption func(*ResourceDefinition)

// WithResourceTitle sets the human-readable title.
func WithResourceTitle(title string) ResourceOption {
	return func(d *ResourceDefinition) { d.Title = title }
}

// WithResourceDescription sets the description used in listings.
func WithResourceDescription(desc string) ResourceOption {
	return func(d *ResourceDefinition) { d.Description = desc }
}

// WithMimeType sets the advertised MIME type.
func WithMimeType(mimeType string) ResourceOption {
	return func(d *ResourceDefinition) { d.MimeType = mimeType }
}

// WithResourceCompletion binds a completion handler to one of the template's
// variables.
func WithResourceCompletion(argument string, fn CompletionHandler) ResourceOption {
	return func(d *ResourceDefinition) {
		d.Completions = append(d.Completions, CompletionBinding{Argument: argument, Handler: fn})
	}
}

// NewResource builds a ResourceDefinition. An empty template produces a
// catch-all resource that accepts every URI. A malformed template yields a
// *uritemplate.SyntaxError; servers should refuse to start in that case.
func NewResource(name, template string, fn ResourceHandler, opts ...ResourceOption) (ResourceDefinition, error) {
	def := ResourceDefinition{Name: name, Handler: fn}
	if template != "" {
		t, err := uritemplate.Parse(template)
		if err != nil {
			return ResourceDefinition{}, fmt.Errorf("resource %q: %w", name, err)
		}
		def.Template = t
	}
	for _, opt := range opts {
		opt(&def)
	}
	return def, nil
}

// TypedResource builds a ResourceDefinition whose handler receives the
// template captures decoded into A (see uritemplate.Captures.Decode). When a
// required capture is absent or a capture cannot be parsed the read fails
// with ErrInvalidParams and fn is not called.
func TypedResource[A any](name, template string, fn func(ctx context.Context, uri string, args A) (*mcp.ReadResourceResult, error), opts ...ResourceOption) (ResourceDefinition, error) {
	return NewResource(name, template, func(ctx context.Context, req ResourceRequest) (*mcp.ReadResourceResult, error) {
		var a A
		if err := req.Captures.Decode(&a); err != nil {
			return nil, InvalidParams(err)
		}
		return fn(ctx, req.URI, a)
	}, opts...)
}

// TextContents builds a single-item text read result.
func TextContents(uri, mimeType, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}}}
}

// BlobContents builds a single-item binary read result.
func BlobContents(uri, mimeType string, data []byte) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{
		URI:      uri,
		MimeType: mimeType,
		Blob:     base64.StdEncoding.EncodeToString(data),
	}}}
}
