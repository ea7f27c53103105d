// Package mcp contains protocol data types and constants shared by the
// router, the engine and the transports. It mirrors the wire representation
// of the Model Context Protocol while keeping the surface Go-friendly
// (exported structs with json tags, string constants for method names and
// enumerations, helper validation functions).
//
// The package carries no behavior beyond validation helpers: transports
// implement their own framing and mcprouter builds responses out of these
// concrete types.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Using the constants avoids typographical mistakes
// and keeps a single point of truth if the protocol evolves.
//
// # Pagination
//
// List operations use cursor-based pagination. PaginatedRequest and
// PaginatedResult are embedded in request / result envelopes to keep the core
// list types clean while offering forward-compatible metadata via BaseMetadata.
//
// # Completion
//
// CompleteRequest.Ref is either a prompt reference (Type RefTypePrompt, Name
// set) or a resource-template reference (Type RefTypeResource, URI holding the
// raw template string). At most MaxCompletionValues values are sent back in a
// single Completion.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//		Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "5"}},
//	}
package mcp
