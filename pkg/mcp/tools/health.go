package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Pinger is satisfied by the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResult struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

// RegisterHealthTool adds a health check tool reporting version and database reachability.
// A nil db reports the database as "unknown".
func RegisterHealthTool(s *server.MCPServer, version string, db Pinger) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status, version and database reachability"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version, Database: "unknown"}
		if db != nil {
			if err := db.Ping(ctx); err != nil {
				result.Status = "degraded"
				result.Database = "unreachable"
			} else {
				result.Database = "ok"
			}
		}
		return jsonResult(result)
	})
}
