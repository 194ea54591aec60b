package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/capability"
	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
)

type registration struct {
	schema Schema
	fn     Func
}

// Registry maps tool names to schemas and implementations. Every execution
// is checked against the capability store before the implementation runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration

	caps    *capability.Store
	emitter *events.Emitter
	log     *logger.Logger
}

// NewRegistry creates a tool registry backed by the given capability store.
func NewRegistry(caps *capability.Store, emitter *events.Emitter, log *logger.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]registration),
		caps:    caps,
		emitter: emitter,
		log:     log.WithFields(zap.String("component", "tool-registry")),
	}
}

// Register adds a tool. Re-registering a name replaces the previous entry.
func (r *Registry) Register(schema Schema, fn Func) {
	r.mu.Lock()
	r.tools[schema.Name] = registration{schema: schema, fn: fn}
	r.mu.Unlock()

	r.emitter.Emit(events.NewEvent(events.ToolRegistered, "", map[string]any{
		"tool": schema.Name,
	}))
	r.log.Info("Tool registered", zap.String("name", schema.Name))
}

// GetSchema returns a tool's schema by name.
func (r *Registry) GetSchema(name string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.schema, ok
}

// List returns all registered tool schemas.
func (r *Registry) List() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.schema)
	}
	return out
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// SchemasFor returns schemas for the named tools, skipping unknown names.
func (r *Registry) SchemasFor(names []string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(names))
	for _, name := range names {
		if reg, ok := r.tools[name]; ok {
			out = append(out, reg.schema)
		}
	}
	return out
}

// Execute runs a tool on behalf of an agent. All required capabilities must
// pass independently; the first denial short-circuits. Failures are
// reported in the Result, never as a returned error.
func (r *Registry) Execute(ctx context.Context, agentID, toolName string, params map[string]any) *Result {
	start := time.Now()
	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	r.mu.RLock()
	reg, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return &Result{
			ToolName: toolName,
			Status:   StatusError,
			Error:    fmt.Sprintf("Unknown tool: %s", toolName),
		}
	}

	for _, capString := range reg.schema.RequiredCapabilities {
		req, err := capability.Parse(capString)
		if err != nil {
			return &Result{
				ToolName:        toolName,
				Status:          StatusError,
				Error:           fmt.Sprintf("Invalid required capability %q: %v", capString, err),
				ExecutionTimeMs: elapsed(),
			}
		}
		for _, action := range req.Actions {
			check := r.caps.Check(agentID, req.Resource, req.Path, action)
			if !check.Allowed {
				return &Result{
					ToolName:        toolName,
					Status:          StatusDenied,
					Error:           fmt.Sprintf("Permission denied: %s", check.Reason),
					ExecutionTimeMs: elapsed(),
				}
			}
		}
	}

	output, err := reg.fn(WithAgentID(ctx, agentID), params)
	switch {
	case errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		return &Result{
			ToolName:        toolName,
			Status:          StatusTimeout,
			Error:           "Tool execution timed out",
			ExecutionTimeMs: elapsed(),
		}
	case err != nil:
		r.log.Error("Tool execution failed",
			zap.String("tool", toolName),
			zap.String("agent_id", agentID),
			zap.Error(err))
		return &Result{
			ToolName:        toolName,
			Status:          StatusError,
			Error:           err.Error(),
			ExecutionTimeMs: elapsed(),
		}
	default:
		return &Result{
			ToolName:        toolName,
			Status:          StatusSuccess,
			Output:          output,
			ExecutionTimeMs: elapsed(),
		}
	}
}
