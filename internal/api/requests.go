// Package api provides HTTP handlers for the agent runtime API.
package api

import (
	"time"

	"github.com/agentos/agentos/internal/runtime"
	"github.com/agentos/agentos/internal/sandbox"
	"github.com/agentos/agentos/internal/tool"
)

// SpawnAgentRequest for spawning an agent. When Run is true the agent starts
// executing asynchronously right after it is created.
type SpawnAgentRequest struct {
	Goal           string   `json:"goal" binding:"required"`
	Model          string   `json:"model,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	CapabilitySet  string   `json:"capability_set,omitempty"`
	MaxIterations  int      `json:"max_iterations,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	ParentID       string   `json:"parent_id,omitempty"`
	Run            bool     `json:"run,omitempty"`
}

// AgentsListResponse for listing agents
type AgentsListResponse struct {
	Agents []runtime.Snapshot `json:"agents"`
	Total  int                `json:"total"`
}

// GrantCapabilityRequest for granting a capability to an agent
type GrantCapabilityRequest struct {
	Capability string `json:"capability" binding:"required"`
}

// CapabilitiesResponse for listing an agent's capability grants
type CapabilitiesResponse struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities"`
	Total        int      `json:"total"`
}

// CapabilityCheckResponse for a capability check
type CapabilityCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// ToolsListResponse for listing registered tools
type ToolsListResponse struct {
	Tools []tool.Schema `json:"tools"`
	Total int           `json:"total"`
}

// ExecuteSandboxRequest for running a command in a sandbox
type ExecuteSandboxRequest struct {
	Command        string            `json:"command" binding:"required"`
	Policy         string            `json:"policy,omitempty"`
	TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
	WorkingDir     string            `json:"working_dir,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
}

// ExecuteSandboxResponse wraps a sandbox result with safety warnings
type ExecuteSandboxResponse struct {
	Result   *sandbox.Result `json:"result"`
	Warnings []string        `json:"warnings,omitempty"`
}

// StoreMemoryRequest for storing a memory entry
type StoreMemoryRequest struct {
	Key   string `json:"key" binding:"required"`
	Value any    `json:"value"`
	Scope string `json:"scope,omitempty"`
}

// MemoryEntryResponse for a retrieved memory entry
type MemoryEntryResponse struct {
	AgentID string `json:"agent_id"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Scope   string `json:"scope"`
}

// MemoryKeysResponse for listing memory keys
type MemoryKeysResponse struct {
	AgentID string   `json:"agent_id"`
	Scope   string   `json:"scope"`
	Keys    []string `json:"keys"`
	Total   int      `json:"total"`
}

// SendMessageRequest for direct agent-to-agent messages
type SendMessageRequest struct {
	SenderID    string         `json:"sender_id" binding:"required"`
	RecipientID string         `json:"recipient_id" binding:"required"`
	Payload     map[string]any `json:"payload"`
}

// BroadcastRequest for publishing an event on the bus
type BroadcastRequest struct {
	SenderID  string         `json:"sender_id" binding:"required"`
	EventType string         `json:"event_type" binding:"required"`
	Data      map[string]any `json:"data,omitempty"`
}

// HealthResponse for health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
