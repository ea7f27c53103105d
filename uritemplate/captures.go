package uritemplate

import "github.com/ggoodman/mcp-router-go/internal/bind"

// Capture is one variable value extracted by Match.
type Capture struct {
	Name  string
	Value string
}

// Captures are the values extracted by a successful Match, in the order the
// variables are declared in the template.
type Captures []Capture

// Errors returned by typed extraction.
type (
	// MissingCaptureError reports a required capture that is absent.
	MissingCaptureError = bind.MissingError
	// CaptureParseError reports a capture that could not be converted.
	CaptureParseError = bind.ParseError
)

// Len returns the number of captures.
func (c Captures) Len() int { return len(c) }

// At returns the capture at index i. It panics if i is out of range.
func (c Captures) At(i int) Capture { return c[i] }

// Get returns the raw value captured for name.
func (c Captures) Get(name string) (string, bool) {
	for _, cp := range c {
		if cp.Name == name {
			return cp.Value, true
		}
	}
	return "", false
}

// Names returns the capture names in order.
func (c Captures) Names() []string {
	out := make([]string, len(c))
	for i, cp := range c {
		out[i] = cp.Name
	}
	return out
}

// Map returns the captures keyed by name.
func (c Captures) Map() map[string]string {
	out := make(map[string]string, len(c))
	for _, cp := range c {
		out[cp.Name] = cp.Value
	}
	return out
}

// Decode fills the struct pointed to by dst from the captures. Fields are
// matched by their `uri` tag, or by field name when untagged. Non-pointer
// fields without omitempty are required.
func (c Captures) Decode(dst any) error {
	return bind.Struct("uri", c.Map(), dst)
}

// Value extracts the capture called name and converts it to T.
func Value[T any](c Captures, name string) (T, error) {
	raw, ok := c.Get(name)
	if !ok {
		var zero T
		return zero, &MissingCaptureError{Name: name}
	}
	return bind.Value[T](name, raw)
}
