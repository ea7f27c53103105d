// Package bind converts the string values a client sends (URI template
// captures, prompt arguments, completion context) into typed Go values.
package bind

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// MissingError reports a required value that was not supplied.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required value %q", e.Name)
}

// ParseError reports a value that could not be converted to its target type.
// Name is empty when the failure could not be attributed to a single field.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid value: %v", e.Err)
	}
	return fmt.Sprintf("invalid value for %q: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.TextUnmarshallerHookFunc(),
		strictScalarHook,
	)
}

// strictScalarHook converts strings bound for numeric and boolean fields.
// The weak decoding it runs ahead of would read "" as zero and accept Go
// literal forms such as 0x1F or 1_000; here only plain base-10 numbers and
// strconv.ParseBool spellings are accepted.
func strictScalarHook(from, to reflect.Type, data any) (any, error) {
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s == "" {
			return nil, errEmpty
		}
		return strconv.ParseInt(s, 10, to.Bits())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s == "" {
			return nil, errEmpty
		}
		return strconv.ParseUint(s, 10, to.Bits())
	case reflect.Float32, reflect.Float64:
		if s == "" {
			return nil, errEmpty
		}
		f, err := strconv.ParseFloat(s, to.Bits())
		if err != nil {
			return nil, err
		}
		if strings.ContainsAny(s, "xX_") {
			return nil, fmt.Errorf("%q is not a decimal number", s)
		}
		return f, nil
	case reflect.Bool:
		if s == "" {
			return nil, errEmpty
		}
		return strconv.ParseBool(s)
	}
	return data, nil
}

var errEmpty = errors.New("empty value")

// Struct decodes values into the struct pointed to by dst, matching keys
// against the field tag named by tag (the field name when untagged).
//
// Pointer fields and fields tagged with omitempty are optional; every other
// field must be present in values or a *MissingError is returned. A value
// that fails to parse yields a *ParseError.
func Struct(tag string, values map[string]string, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bind: destination must be a non-nil struct pointer, got %T", dst)
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook(),
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           dst,
		TagName:          tag,
	})
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	in := make(map[string]any, len(values))
	for k, v := range values {
		in[k] = v
	}
	if err := dec.Decode(in); err != nil {
		return &ParseError{Err: err}
	}

	if len(md.Unset) == 0 {
		return nil
	}
	required := map[string]bool{}
	for _, f := range Fields(tag, rv.Elem().Type()) {
		required[f.Name] = f.Required
	}
	for _, name := range md.Unset {
		if required[name] {
			return &MissingError{Name: name}
		}
	}
	return nil
}

// Value converts a single raw string into T.
func Value[T any](name, raw string) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decodeHook(),
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, fmt.Errorf("bind: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return out, &ParseError{Name: name, Err: err}
	}
	return out, nil
}

// Field describes one bindable struct field.
type Field struct {
	Name     string
	Required bool
}

// Fields lists the exported fields of struct type t in declaration order,
// named the way Struct matches them.
func Fields(tag string, t reflect.Type) []Field {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	out := make([]Field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		optional := sf.Type.Kind() == reflect.Pointer
		if v, ok := sf.Tag.Lookup(tag); ok {
			parts := strings.Split(v, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					optional = true
				}
			}
		}
		out = append(out, Field{Name: name, Required: !optional})
	}
	return out
}
