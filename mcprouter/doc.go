// Package mcprouter routes MCP protocol operations to registered handlers.
//
// A server is described by a Route: an immutable, ordered collection of tool,
// prompt and resource definitions plus the completion bindings that suggest
// values for their arguments. Routes are built once at startup and merged
// freely; merging concatenates in argument order and never deduplicates, so
// when two definitions could serve the same request the one registered first
// wins.
//
//	add := mcprouter.NewTool[AddArgs]("add", func(ctx context.Context, w mcprouter.ToolResponseWriter, r *mcprouter.ToolRequest[AddArgs]) error {
//		return w.AppendText(strconv.Itoa(r.Args().LHS + r.Args().RHS))
//	})
//	files, err := mcprouter.NewResource("files", "files://{path}/{file}", readFile)
//	if err != nil {
//		return err // malformed template: refuse to start
//	}
//	route := mcprouter.NewRoute(add, files)
//
// A Dispatcher resolves decoded operations against a Route:
//
//   - tools and prompts are matched by exact name;
//   - resources are matched by URI template, in registration order;
//   - completions are matched by (subject, argument) and fall back to an empty
//     result rather than an error.
//
// Lookup failures are reported as *NotFoundError values that satisfy
// errors.Is against ErrToolNotFound, ErrPromptNotFound or
// ErrResourceNotFound. Argument extraction failures satisfy errors.Is against
// ErrInvalidParams. Handler errors are returned untouched.
//
// The Dispatcher holds no mutable state; a single instance may serve any
// number of concurrent requests. Server layers protocol metadata (server info,
// instructions, page size, logging level) on top of a Dispatcher for use by
// the engine and transports.
package mcprouter
