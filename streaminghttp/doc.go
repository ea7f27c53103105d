// Package streaminghttp implements the MCP Streamable HTTP transport in its
// stateless form. It mounts as a standard net/http handler.
//
// Responsibilities
//   - POST: one JSON-RPC message per request. Requests are answered with a
//     JSON body, or with a short Server-Sent Events stream when the client
//     only accepts SSE or asked for progress updates. Notifications and
//     client responses are acknowledged with 202 Accepted.
//   - GET: an optional long-lived SSE stream that carries server-initiated
//     notifications published with Notify (for example resource updates).
//     Events carry IDs; a reconnecting client sends Last-Event-ID to replay
//     what it missed.
//   - DELETE: acknowledged with 204; there is no server-side session state to
//     tear down.
//
// The handler issues an Mcp-Session-Id on initialize so clients that expect
// one keep working, but it never requires or validates it. Any replica can
// serve any request. Replicas that share a broker (see WithBroker and
// broker/redis) also share GET notifications.
//
// Construction
//
//	h, err := streaminghttp.New(ctx, "https://api.example/mcp", server)
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes; MCP-level errors are
// serialized as JSON-RPC error responses.
//
// Example (mount in net/http):
//
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", h)
//	http.ListenAndServe(":8080", mux)
package streaminghttp
