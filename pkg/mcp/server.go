// Package mcp hosts the read-only MCP surface recommendation engines use to
// pull served preferences.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const instructions = `Read-only access to a user's preference identities.
Every tool takes the owning user's user_id. Tools default to the user's base
identity; call list_identities to pick another persona. served_preferences
returns only influences at or above the serving threshold, strongest first.`

// Server owns the MCPServer and the tool-call logging hooks attached to it.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer builds a stateless-ready MCP server with tool capabilities.
// A panicking tool handler is reported to the caller as an error result.
func NewServer(name, version string, logger *zap.Logger) *Server {
	return &Server{
		mcp: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
			server.WithInstructions(instructions),
			server.WithHooks(NewToolCallLogger(logger).Hooks()),
		),
		logger: logger.Named("mcp"),
	}
}

// MCP exposes the MCPServer so tool packages can register against it.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer returns the HTTP transport. Routing to /mcp is the
// mux's job, and no session state is kept between requests.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}

func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.logger.Debug("Registering MCP tool", zap.String("tool", tool.Name))
	s.mcp.AddTool(tool, handler)
}
