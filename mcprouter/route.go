package mcprouter

// Contribution is anything that can be added to a Route: a ToolDefinition,
// PromptDefinition, ResourceDefinition, CompletionBinding or another *Route.
type Contribution interface {
	contribute(r *Route)
}

// Route is an ordered registry of tools, prompts, resources and completion
// bindings. A Route is never modified after construction; With and Merge
// return new values. It is safe to share a Route between goroutines.
type Route struct {
	tools       []ToolDefinition
	prompts     []PromptDefinition
	resources   []ResourceDefinition
	completions []CompletionBinding
}

// NewRoute builds a Route from contributions in the order given. Called with
// no arguments it returns an empty Route. No validation or deduplication is
// performed: duplicate names and overlapping templates are resolved at
// dispatch time in favor of the earliest registration.
func NewRoute(contribs ...Contribution) *Route {
	r := &Route{}
	for _, c := range contribs {
		if c != nil {
			c.contribute(r)
		}
	}
	return r
}

// With returns a new Route holding r's contents followed by contribs.
func (r *Route) With(contribs ...Contribution) *Route {
	return NewRoute(append([]Contribution{r}, contribs...)...)
}

// Merge concatenates routes in argument order.
func Merge(routes ...*Route) *Route {
	out := &Route{}
	for _, r := range routes {
		r.contribute(out)
	}
	return out
}

func (r *Route) contribute(out *Route) {
	if r == nil {
		return
	}
	out.tools = append(out.tools, r.tools...)
	out.prompts = append(out.prompts, r.prompts...)
	out.resources = append(out.resources, r.resources...)
	out.completions = append(out.completions, r.completions...)
}

func (d ToolDefinition) contribute(r *Route) {
	r.tools = append(r.tools, d)
}

func (d PromptDefinition) contribute(r *Route) {
	r.prompts = append(r.prompts, d)
	for _, b := range d.Completions {
		if b.Subject == "" {
			b.Subject = d.Prompt.Name
		}
		r.completions = append(r.completions, b)
	}
}

func (d ResourceDefinition) contribute(r *Route) {
	r.resources = append(r.resources, d)
	for _, b := range d.Completions {
		if b.Subject == "" {
			b.Subject = d.TemplateString()
		}
		r.completions = append(r.completions, b)
	}
}

func (b CompletionBinding) contribute(r *Route) {
	r.completions = append(r.completions, b)
}

// Tools returns a copy of the registered tool definitions.
func (r *Route) Tools() []ToolDefinition { return append([]ToolDefinition(nil), r.tools...) }

// Prompts returns a copy of the registered prompt definitions.
func (r *Route) Prompts() []PromptDefinition { return append([]PromptDefinition(nil), r.prompts...) }

// Resources returns a copy of the registered resource definitions.
func (r *Route) Resources() []ResourceDefinition {
	return append([]ResourceDefinition(nil), r.resources...)
}

// Completions returns a copy of the registered completion bindings,
// including those attached to prompt and resource definitions.
func (r *Route) Completions() []CompletionBinding {
	return append([]CompletionBinding(nil), r.completions...)
}
