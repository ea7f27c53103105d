// Package uritemplate implements the subset of RFC 6570 level 2 URI templates
// used to address MCP resources: bare literals, simple variables ({var}),
// reserved expansion ({+var}) and fragment expansion ({#var}).
//
// A Template runs in two directions. Expand substitutes values into the
// template to produce a URI, and Match recovers the variable values from a
// URI. For any unambiguous template the two are inverses:
//
//	t := uritemplate.MustParse("files://{path}/{file}")
//	uri, _ := t.Expand(map[string]string{"path": "home", "file": "report.txt"})
//	caps, ok := t.Match(uri) // [{path home} {file report.txt}], true
//
// # Matching
//
// Segments are consumed left to right. A literal must appear verbatim at the
// cursor. A simple variable never consumes the delimiters '/', '?' or '#' and
// prefers the shortest value that lets the rest of the template match, so it
// stops at the first occurrence of the literal that follows it. Reserved and
// fragment variables may consume any character and prefer the longest value.
// A fragment variable additionally requires the '#' that Expand emits in front
// of it; the '#' is not part of the captured value.
//
// Templates with directly adjacent variables ("{a}{b}") are ambiguous. The
// preferences above resolve them deterministically: two simple variables give
// a="" and b=rest, and a reserved variable followed by anything takes as much
// as it can while still letting the remainder match.
package uritemplate

import (
	"fmt"
	"strings"
)

// Operator is the expansion operator of a template variable.
type Operator byte

const (
	OpSimple   Operator = 0
	OpReserved Operator = '+'
	OpFragment Operator = '#'
)

// delimiters are the characters a simple variable never consumes.
const delimiters = "/?#"

type segment struct {
	literal string
	name    string
	op      Operator
	isVar   bool
}

// Template is a parsed URI template. It is immutable and safe for concurrent
// use.
type Template struct {
	raw  string
	segs []segment
	vars []string
}

// SyntaxError reports a template string outside the accepted syntax.
type SyntaxError struct {
	Template string
	Offset   int
	Reason   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("uritemplate: %s at offset %d in %q", e.Reason, e.Offset, e.Template)
}

// MissingVariableError is returned by Expand when a declared variable has no
// value.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("uritemplate: missing value for variable %q", e.Name)
}

// Parse parses s into a Template.
func Parse(s string) (*Template, error) {
	if s == "" {
		return nil, &SyntaxError{Template: s, Reason: "empty template"}
	}

	t := &Template{raw: s}
	seen := map[string]bool{}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.segs = append(t.segs, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '}':
			return nil, &SyntaxError{Template: s, Offset: i, Reason: "unmatched '}'"}
		case '{':
			end := -1
			for j := i + 1; j < len(s); j++ {
				if s[j] == '{' {
					return nil, &SyntaxError{Template: s, Offset: j, Reason: "nested '{'"}
				}
				if s[j] == '}' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, &SyntaxError{Template: s, Offset: i, Reason: "unclosed '{'"}
			}
			seg, err := parseExpression(s, i, s[i+1:end])
			if err != nil {
				return nil, err
			}
			if seen[seg.name] {
				return nil, &SyntaxError{Template: s, Offset: i, Reason: fmt.Sprintf("duplicate variable %q", seg.name)}
			}
			seen[seg.name] = true
			flush()
			t.segs = append(t.segs, seg)
			t.vars = append(t.vars, seg.name)
			i = end
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

func parseExpression(tmpl string, offset int, body string) (segment, error) {
	if body == "" {
		return segment{}, &SyntaxError{Template: tmpl, Offset: offset, Reason: "empty expression"}
	}
	seg := segment{isVar: true}
	switch body[0] {
	case '+', '#':
		seg.op = Operator(body[0])
		body = body[1:]
	case '.', '/', ';', '?', '&', '=', ',', '!', '@', '|':
		return segment{}, &SyntaxError{Template: tmpl, Offset: offset + 1, Reason: fmt.Sprintf("unsupported operator %q", body[0])}
	}
	if body == "" {
		return segment{}, &SyntaxError{Template: tmpl, Offset: offset, Reason: "empty variable name"}
	}
	for k := 0; k < len(body); k++ {
		c := body[k]
		switch {
		case c == ',':
			return segment{}, &SyntaxError{Template: tmpl, Offset: offset + k, Reason: "variable lists are not supported"}
		case c == ':' || c == '*':
			return segment{}, &SyntaxError{Template: tmpl, Offset: offset + k, Reason: "variable modifiers are not supported"}
		case c == '%':
			if k+2 >= len(body) || !isHex(body[k+1]) || !isHex(body[k+2]) {
				return segment{}, &SyntaxError{Template: tmpl, Offset: offset + k, Reason: "invalid percent-encoding in variable name"}
			}
			k += 2
		case isVarChar(c):
		default:
			return segment{}, &SyntaxError{Template: tmpl, Offset: offset + k, Reason: fmt.Sprintf("invalid character %q in variable name", c)}
		}
	}
	seg.name = body
	return seg, nil
}

func isVarChar(c byte) bool {
	return c == '_' || c == '.' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// MustParse is like Parse but panics on error. It is intended for package
// level variables and tests.
func MustParse(s string) *Template {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template exactly as it was parsed.
func (t *Template) String() string { return t.raw }

// Variables returns the variable names in declaration order.
func (t *Template) Variables() []string {
	return append([]string(nil), t.vars...)
}

// IsLiteral reports whether the template has no variables and therefore
// addresses exactly one URI.
func (t *Template) IsLiteral() bool { return len(t.vars) == 0 }

// Expand substitutes values into the template. Values are inserted verbatim;
// callers are responsible for any percent-encoding.
func (t *Template) Expand(values map[string]string) (string, error) {
	var b strings.Builder
	for _, seg := range t.segs {
		if !seg.isVar {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.name]
		if !ok {
			return "", &MissingVariableError{Name: seg.name}
		}
		if seg.op == OpFragment {
			b.WriteByte('#')
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// Match reports whether uri is produced by the template and, if so, returns
// the captured variable values in declaration order.
func (t *Template) Match(uri string) (Captures, bool) {
	m := &matcher{
		t:      t,
		vals:   make([]string, len(t.vars)),
		width:  len(uri) + 1,
		failed: map[int]struct{}{},
	}
	if !m.match(0, uri, 0) {
		return nil, false
	}
	caps := make(Captures, len(t.vars))
	for i, name := range t.vars {
		caps[i] = Capture{Name: name, Value: m.vals[i]}
	}
	return caps, true
}

// matcher holds the state of one Match call. A (segment, remaining input)
// pair that failed once fails again, so failed states are never re-explored.
type matcher struct {
	t      *Template
	vals   []string
	width  int
	failed map[int]struct{}
}

func (m *matcher) match(si int, in string, vi int) bool {
	if si == len(m.t.segs) {
		return in == ""
	}
	key := si*m.width + len(in)
	if _, ok := m.failed[key]; ok {
		return false
	}
	if m.matchSegment(si, in, vi) {
		return true
	}
	m.failed[key] = struct{}{}
	return false
}

func (m *matcher) matchSegment(si int, in string, vi int) bool {
	seg := m.t.segs[si]
	if !seg.isVar {
		if !strings.HasPrefix(in, seg.literal) {
			return false
		}
		return m.match(si+1, in[len(seg.literal):], vi)
	}

	if seg.op == OpFragment {
		if !strings.HasPrefix(in, "#") {
			return false
		}
		in = in[1:]
	}

	limit := len(in)
	if seg.op == OpSimple {
		if k := strings.IndexAny(in, delimiters); k >= 0 {
			limit = k
		}
	}

	try := func(n int) bool {
		m.vals[vi] = in[:n]
		return m.match(si+1, in[n:], vi+1)
	}
	if seg.op == OpSimple {
		for n := 0; n <= limit; n++ {
			if try(n) {
				return true
			}
		}
		return false
	}
	for n := limit; n >= 0; n-- {
		if try(n) {
			return true
		}
	}
	return false
}
