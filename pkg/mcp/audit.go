package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/logging"
)

// ToolCallLogger records one structured log line per MCP tool call.
// Arguments are never logged except the ids that locate the caller's data.
type ToolCallLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallLogger creates a ToolCallLogger writing to a named child logger.
func NewToolCallLogger(logger *zap.Logger) *ToolCallLogger {
	return &ToolCallLogger{logger: logger.Named("mcp")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolCallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolCallLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolCallLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	fields := a.fields(id, req)
	if result != nil && result.IsError {
		a.logger.Info("MCP tool returned error result", fields...)
		return
	}
	a.logger.Debug("MCP tool call", fields...)
}

func (a *ToolCallLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}

	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	fields := append(a.fields(id, req), zap.String("error", logging.SanitizeError(err)))
	a.logger.Error("MCP tool call failed", fields...)
}

func (a *ToolCallLogger) fields(id any, req *mcplib.CallToolRequest) []zap.Field {
	started, ok := a.loadAndDeleteStart(id)
	fields := []zap.Field{zap.String("tool", req.Params.Name)}
	if ok {
		fields = append(fields, zap.Duration("duration", time.Since(started)))
	}
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		for _, key := range []string{"user_id", "identity_id", "category_id"} {
			if v, ok := args[key].(string); ok && v != "" {
				fields = append(fields, zap.String(key, logging.TruncateString(v, 36)))
			}
		}
	}
	return fields
}

func (a *ToolCallLogger) loadAndDeleteStart(id any) (time.Time, bool) {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time), true
	}
	return time.Time{}, false
}
