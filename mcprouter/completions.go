package mcprouter

import (
	"context"
	"errors"
	"strings"

	"github.com/ggoodman/mcp-router-go/internal/bind"
	"github.com/ggoodman/mcp-router-go/mcp"
)

// CompletionRequest is the input to a CompletionHandler.
type CompletionRequest struct {
	Ref mcp.CompleteReference
	// Argument is the name of the argument being completed.
	Argument string
	// Value is the partial value typed so far.
	Value string
	// Context holds arguments the client has already resolved. It may be nil.
	Context map[string]string
}

// CompletionHandler returns candidate values for an argument.
type CompletionHandler func(ctx context.Context, req CompletionRequest) ([]string, error)

// CompletionBinding associates an argument of a prompt (Subject is the prompt
// name) or of a resource template (Subject is the raw template string) with a
// completion handler.
type CompletionBinding struct {
	Subject  string
	Argument string
	Handler  CompletionHandler
}

// NewCompletion builds a CompletionBinding.
func NewCompletion(subject, argument string, fn CompletionHandler) CompletionBinding {
	return CompletionBinding{Subject: subject, Argument: argument, Handler: fn}
}

// TypedCompletion builds a CompletionBinding whose handler receives the
// context arguments decoded into A. See TypedCompletionHandler.
func TypedCompletion[A any](subject, argument string, fn func(ctx context.Context, value string, args A) ([]string, error)) CompletionBinding {
	return NewCompletion(subject, argument, TypedCompletionHandler(fn))
}

// TypedCompletionHandler adapts fn to a CompletionHandler. Fields of A are
// populated from the request context by their `arg` tag. When a required
// field is absent the completion yields no values without calling fn; when a
// supplied value cannot be parsed the request fails with ErrInvalidParams.
func TypedCompletionHandler[A any](fn func(ctx context.Context, value string, args A) ([]string, error)) CompletionHandler {
	return func(ctx context.Context, req CompletionRequest) ([]string, error) {
		var a A
		if err := bind.Struct("arg", req.Context, &a); err != nil {
			var missing *bind.MissingError
			if errors.As(err, &missing) {
				return nil, nil
			}
			return nil, InvalidParams(err)
		}
		return fn(ctx, req.Value, a)
	}
}

// StaticCompletions returns a handler that suggests the entries of values
// that start with the partial value, in order.
func StaticCompletions(values ...string) CompletionHandler {
	return func(_ context.Context, req CompletionRequest) ([]string, error) {
		return FilterPrefix(values, req.Value), nil
	}
}

// FilterPrefix returns the entries of values that start with prefix.
func FilterPrefix(values []string, prefix string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.HasPrefix(v, prefix) {
			out = append(out, v)
		}
	}
	return out
}

func completionResult(values []string) *mcp.CompleteResult {
	if values == nil {
		values = []string{}
	}
	c := mcp.Completion{Values: values, Total: len(values)}
	if len(values) > mcp.MaxCompletionValues {
		c.Values = values[:mcp.MaxCompletionValues]
		c.HasMore = true
	}
	return &mcp.CompleteResult{Completion: c}
}
