package mcprouter

import (
	"github.com/ggoodman/mcp-router-go/mcp"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server combines a Dispatcher with the protocol-level metadata the engine
// reports during initialize and uses to shape list responses.
type Server struct {
	dispatcher   *Dispatcher
	info         mcp.ImplementationInfo
	instructions string
	pageSize     int
	logging      LoggingCapability
}

// NewServer builds a Server over route.
func NewServer(route *Route, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher: NewDispatcher(route),
		info:       mcp.ImplementationInfo{Name: "mcp-router-go", Version: "0.0.0"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *Server) { s.instructions = instr }
}

// WithPageSize enables pagination of list results. Zero, the default,
// returns every item in one page.
func WithPageSize(n int) ServerOption {
	return func(s *Server) {
		if n >= 0 {
			s.pageSize = n
		}
	}
}

// WithLoggingCapability enables logging/setLevel.
func WithLoggingCapability(lc LoggingCapability) ServerOption {
	return func(s *Server) { s.logging = lc }
}

func (s *Server) Dispatcher() *Dispatcher            { return s.dispatcher }
func (s *Server) Info() mcp.ImplementationInfo       { return s.info }
func (s *Server) Instructions() string               { return s.instructions }
func (s *Server) PageSize() int                      { return s.pageSize }
func (s *Server) Logging() (LoggingCapability, bool) { return s.logging, s.logging != nil }

// Capabilities reports the features backed by the route: each of tools,
// prompts and resources is advertised when at least one definition of that
// kind is registered, and completions when any binding exists. The route is
// immutable so list-changed notifications are never advertised.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	r := s.dispatcher.Route()
	var caps mcp.ServerCapabilities
	if len(r.tools) > 0 {
		caps.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if len(r.prompts) > 0 {
		caps.Prompts = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if len(r.resources) > 0 {
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
	}
	if len(r.completions) > 0 {
		caps.Completions = &struct{}{}
	}
	if s.logging != nil {
		caps.Logging = &struct{}{}
	}
	return caps
}
