package mcprouter

import (
	"context"
	"reflect"

	"github.com/ggoodman/mcp-router-go/internal/bind"
	"github.com/ggoodman/mcp-router-go/mcp"
	"github.com/invopop/jsonschema"
)

// PromptOption configures a PromptDefinition built by NewPrompt.
type PromptOption func(*PromptDefinition)

// WithPromptTitle sets the human-readable title.
func WithPromptTitle(title string) PromptOption {
	return func(d *PromptDefinition) { d.Prompt.Title = title }
}

// WithPromptDescription sets the description used in listings.
func WithPromptDescription(desc string) PromptOption {
	return func(d *PromptDefinition) { d.Prompt.Description = desc }
}

// WithPromptCompletion binds a completion handler to one of the prompt's
// arguments.
func WithPromptCompletion(argument string, fn CompletionHandler) PromptOption {
	return func(d *PromptDefinition) {
		d.Completions = append(d.Completions, CompletionBinding{Argument: argument, Handler: fn})
	}
}

// NewPrompt builds a PromptDefinition with typed arguments A. Arguments are
// advertised from A's exported fields, named by their json tag; fields that
// are pointers or tagged omitempty are optional. Argument values are parsed
// from their string form. A missing required argument or an unparseable
// value fails with ErrInvalidParams without calling fn.
func NewPrompt[A any](name string, fn func(ctx context.Context, args A) (*mcp.GetPromptResult, error), opts ...PromptOption) PromptDefinition {
	def := PromptDefinition{
		Prompt: mcp.Prompt{Name: name, Arguments: reflectPromptArguments[A]()},
		Handler: func(ctx context.Context, raw map[string]string) (*mcp.GetPromptResult, error) {
			var a A
			if err := bind.Struct("json", raw, &a); err != nil {
				return nil, InvalidParams(err)
			}
			return fn(ctx, a)
		},
	}
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// reflectPromptArguments lists A's fields as prompt arguments. Descriptions
// come from the reflected JSON schema; requiredness follows the binding rules
// so that the advertised and enforced sets agree.
func reflectPromptArguments[A any]() []mcp.PromptArgument {
	fields := bind.Fields("json", reflect.TypeFor[A]())
	if len(fields) == 0 {
		return nil
	}

	s := reflectSchema(new(A), &jsonschema.Reflector{DoNotReference: true})
	descriptions := map[string]string{}
	if s != nil && s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			if el.Value != nil {
				descriptions[el.Key] = el.Value.Description
			}
		}
	}

	out := make([]mcp.PromptArgument, 0, len(fields))
	for _, f := range fields {
		out = append(out, mcp.PromptArgument{
			Name:        f.Name,
			Description: descriptions[f.Name],
			Required:    f.Required,
		})
	}
	return out
}

// UserMessage builds a user-role prompt message with a single text block.
func UserMessage(text string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: mcp.RoleUser, Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text}}
}

// AssistantMessage builds an assistant-role prompt message with a single text
// block.
func AssistantMessage(text string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: mcp.RoleAssistant, Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text}}
}
