// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for embedding servers as subprocesses and for
// local development, where spawning a child process and piping JSON is
// simpler than running an HTTP server.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Framing          : newline-delimited JSON-RPC 2.0, one message per line
//	Concurrency      : each request runs on its own goroutine; responses may
//	                   be written out of order
//	Cancellation     : notifications/cancelled cancels the named request
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	route := mcprouter.NewRoute(tools, prompts, resources)
//	h := stdio.NewHandler(mcprouter.NewServer(route))
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
//
// For networked deployments prefer the streaminghttp transport.
package stdio
