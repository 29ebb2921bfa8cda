package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// Error codes returned to MCP clients as structured tool results.
const (
	CodeInvalidInput     = "invalid_input"
	CodeIdentityNotFound = "identity_not_found"
	CodeCategoryNotFound = "category_not_found"
)

// ErrorResponse represents a structured error in tool results.
// Returning it as a tool result keeps the message visible to the calling
// model instead of surfacing as a protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for problems the caller can fix (bad ids, unknown category).
// Database and other system failures are returned as Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}
