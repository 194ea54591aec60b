// Package tool implements the tool registry: named, schema-described
// operations agents may invoke, gated by required capabilities.
package tool

import (
	"context"
	"errors"
)

// Status classifies the outcome of a tool execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusDenied  Status = "denied"
	StatusTimeout Status = "timeout"
)

// ErrTimeout is returned by tool implementations to signal that execution
// exceeded its time budget. The registry maps it to StatusTimeout.
var ErrTimeout = errors.New("tool execution timed out")

// Parameter describes one input to a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Schema describes a tool: its globally unique name, inputs, and the
// capability strings an agent must hold to invoke it.
type Schema struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	Parameters           []Parameter `json:"parameters"`
	RequiredCapabilities []string    `json:"required_capabilities"`
}

// Result is the normalized outcome of a tool execution. ExecutionTimeMs is
// wall-clock from registry entry to exit, set regardless of outcome.
type Result struct {
	ToolName        string `json:"tool_name"`
	Status          Status `json:"status"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Func is a tool implementation. Parameters arrive as decoded JSON values
// (numbers are float64).
type Func func(ctx context.Context, params map[string]any) (string, error)

type agentIDKey struct{}

// WithAgentID attaches the calling agent's ID to the context so tool
// implementations can attribute side effects.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

func agentIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(agentIDKey{}).(string); ok {
		return id
	}
	return ""
}
