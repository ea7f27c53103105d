package mcprouter

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound is matched by errors returned when no tool has the
	// requested name.
	ErrToolNotFound = errors.New("tool not found")
	// ErrPromptNotFound is matched by errors returned when no prompt has the
	// requested name.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrResourceNotFound is matched by errors returned when no resource
	// definition accepts the requested URI.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrInvalidParams is matched by errors raised while extracting typed
	// handler arguments from request parameters.
	ErrInvalidParams = errors.New("invalid params")
)

// Kind names the type of subject a lookup was for.
type Kind string

const (
	KindTool     Kind = "tool"
	KindPrompt   Kind = "prompt"
	KindResource Kind = "resource"
)

// NotFoundError reports a subject that no registered definition matched. Key
// is the requested name, or the URI for resources.
type NotFoundError struct {
	Kind Kind
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	switch e.Kind {
	case KindTool:
		return ErrToolNotFound
	case KindPrompt:
		return ErrPromptNotFound
	case KindResource:
		return ErrResourceNotFound
	}
	return nil
}

// InvalidParamsError wraps a failure to extract handler arguments.
type InvalidParamsError struct {
	Err error
}

func (e *InvalidParamsError) Error() string {
	return "invalid params: " + e.Err.Error()
}

func (e *InvalidParamsError) Unwrap() error { return e.Err }

func (e *InvalidParamsError) Is(target error) bool { return target == ErrInvalidParams }

// InvalidParams marks err as an argument extraction failure. It returns nil
// for a nil err and leaves errors that are already marked unchanged.
func InvalidParams(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidParams) {
		return err
	}
	return &InvalidParamsError{Err: err}
}

// InvalidParamsf formats an argument extraction failure.
func InvalidParamsf(format string, a ...any) error {
	return &InvalidParamsError{Err: fmt.Errorf(format, a...)}
}
