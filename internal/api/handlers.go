package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/audit"
	"github.com/agentos/agentos/internal/capability"
	apperrors "github.com/agentos/agentos/internal/common/errors"
	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/memory"
	"github.com/agentos/agentos/internal/messaging"
	"github.com/agentos/agentos/internal/runtime"
	"github.com/agentos/agentos/internal/sandbox"
	"github.com/agentos/agentos/internal/tool"
)

// Handler contains HTTP handlers for the runtime API
type Handler struct {
	runtime  *runtime.Runtime
	caps     *capability.Store
	tools    *tool.Registry
	bus      *messaging.Bus
	executor *sandbox.Executor
	memory   *memory.Manager
	audit    *audit.Logger
	logger   *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	rt *runtime.Runtime,
	caps *capability.Store,
	tools *tool.Registry,
	bus *messaging.Bus,
	executor *sandbox.Executor,
	mem *memory.Manager,
	auditLog *audit.Logger,
	log *logger.Logger,
) *Handler {
	return &Handler{
		runtime:  rt,
		caps:     caps,
		tools:    tools,
		bus:      bus,
		executor: executor,
		memory:   mem,
		audit:    auditLog,
		logger:   log,
	}
}

// respondError writes err as a JSON error body with the matching status.
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("internal error", err)
	}
	c.JSON(appErr.HTTPStatus, appErr)
}

// HealthCheck returns service health status
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// GetStats returns runtime counters across all subsystems
// GET /api/v1/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats := gin.H{
		"runtime": h.runtime.GetStats(),
	}
	if h.memory != nil {
		stats["memory"] = h.memory.GetStats()
	}
	if h.audit != nil {
		stats["audit"] = h.audit.GetStats()
	}
	c.JSON(http.StatusOK, stats)
}

// Agent endpoints

// SpawnAgent creates a new agent, optionally starting it immediately
// POST /api/v1/agents
func (h *Handler) SpawnAgent(c *gin.Context) {
	var req SpawnAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	agent, err := h.runtime.Spawn(runtime.AgentConfig{
		Goal:           req.Goal,
		Model:          req.Model,
		Tools:          req.Tools,
		Capabilities:   req.Capabilities,
		CapabilitySet:  req.CapabilitySet,
		MaxIterations:  req.MaxIterations,
		TimeoutSeconds: req.TimeoutSeconds,
		ParentID:       req.ParentID,
	})
	if err != nil {
		h.logger.Error("failed to spawn agent", zap.Error(err))
		respondError(c, err)
		return
	}

	if req.Run {
		go func() {
			if _, err := h.runtime.Run(context.Background(), agent.ID); err != nil {
				h.logger.Error("agent run failed",
					zap.String("agent_id", agent.ID), zap.Error(err))
			}
		}()
	}

	c.JSON(http.StatusCreated, agent.Snapshot())
}

// GetAgent retrieves an agent by ID
// GET /api/v1/agents/:agentId
func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.runtime.Get(c.Param("agentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent.Snapshot())
}

// ListAgents returns all tracked agents
// GET /api/v1/agents
func (h *Handler) ListAgents(c *gin.Context) {
	snapshots := h.runtime.List()
	c.JSON(http.StatusOK, AgentsListResponse{
		Agents: snapshots,
		Total:  len(snapshots),
	})
}

// RunAgent starts a pending agent asynchronously
// POST /api/v1/agents/:agentId/run
func (h *Handler) RunAgent(c *gin.Context) {
	agentID := c.Param("agentId")
	agent, err := h.runtime.Get(agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if agent.State() != runtime.StatePending {
		respondError(c, apperrors.Conflict(
			"agent "+agentID+" is not pending (state: "+string(agent.State())+")"))
		return
	}

	go func() {
		if _, err := h.runtime.Run(context.Background(), agentID); err != nil {
			h.logger.Error("agent run failed",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, agent.Snapshot())
}

// PauseAgent suspends a running agent
// POST /api/v1/agents/:agentId/pause
func (h *Handler) PauseAgent(c *gin.Context) {
	agent, err := h.runtime.Pause(c.Param("agentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent.Snapshot())
}

// ResumeAgent unblocks a paused agent
// POST /api/v1/agents/:agentId/resume
func (h *Handler) ResumeAgent(c *gin.Context) {
	agent, err := h.runtime.Resume(c.Param("agentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent.Snapshot())
}

// TerminateAgent forcibly stops an agent and releases its resources
// DELETE /api/v1/agents/:agentId
func (h *Handler) TerminateAgent(c *gin.Context) {
	agent, err := h.runtime.Terminate(c.Param("agentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent.Snapshot())
}

// Capability endpoints

// ListCapabilities returns an agent's capability grants
// GET /api/v1/agents/:agentId/capabilities
func (h *Handler) ListCapabilities(c *gin.Context) {
	agentID := c.Param("agentId")
	grants := h.caps.List(agentID)
	caps := make([]string, 0, len(grants))
	for _, g := range grants {
		caps = append(caps, g.String())
	}
	c.JSON(http.StatusOK, CapabilitiesResponse{
		AgentID:      agentID,
		Capabilities: caps,
		Total:        len(caps),
	})
}

// GrantCapability grants a capability to an agent
// POST /api/v1/agents/:agentId/capabilities
func (h *Handler) GrantCapability(c *gin.Context) {
	agentID := c.Param("agentId")
	var req GrantCapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	if err := h.caps.GrantString(agentID, req.Capability); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeCapabilities revokes all of an agent's capability grants
// DELETE /api/v1/agents/:agentId/capabilities
func (h *Handler) RevokeCapabilities(c *gin.Context) {
	h.caps.RevokeAll(c.Param("agentId"))
	c.Status(http.StatusNoContent)
}

// CheckCapability checks whether an agent may perform an action
// GET /api/v1/agents/:agentId/capabilities/check?resource=file&path=/tmp/x&action=read
func (h *Handler) CheckCapability(c *gin.Context) {
	resource := c.Query("resource")
	if resource == "" {
		respondError(c, apperrors.BadRequest("resource is required"))
		return
	}
	path := c.DefaultQuery("path", "*")
	action := c.DefaultQuery("action", "*")

	check := h.caps.Check(c.Param("agentId"), resource, path, action)
	c.JSON(http.StatusOK, CapabilityCheckResponse{
		Allowed: check.Allowed,
		Reason:  check.Reason,
	})
}

// Tool endpoints

// ListTools returns all registered tool schemas
// GET /api/v1/tools
func (h *Handler) ListTools(c *gin.Context) {
	tools := h.tools.List()
	c.JSON(http.StatusOK, ToolsListResponse{
		Tools: tools,
		Total: len(tools),
	})
}

// Sandbox endpoints

// ExecuteSandbox runs a command in an isolated sandbox
// POST /api/v1/sandbox/execute
func (h *Handler) ExecuteSandbox(c *gin.Context) {
	var req ExecuteSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	_, warnings := sandbox.CheckCommandSafe(req.Command)

	opts := []sandbox.Option{}
	if req.TimeoutSeconds > 0 {
		opts = append(opts, sandbox.WithMaxWallSeconds(req.TimeoutSeconds))
	}
	if req.WorkingDir != "" {
		opts = append(opts, sandbox.WithWorkingDir(req.WorkingDir))
	}
	if len(req.Environment) > 0 {
		opts = append(opts, sandbox.WithEnvironment(req.Environment))
	}
	cfg := sandbox.NewConfig(sandbox.ParsePolicy(req.Policy), opts...)

	agentID := req.AgentID
	if agentID == "" {
		agentID = "api"
	}
	result, err := h.executor.ExecuteCommand(c.Request.Context(), req.Command, cfg, agentID)
	if err != nil {
		h.logger.Error("sandbox execution failed", zap.Error(err))
		respondError(c, apperrors.InternalError("sandbox execution failed", err))
		return
	}

	c.JSON(http.StatusOK, ExecuteSandboxResponse{
		Result:   result,
		Warnings: warnings,
	})
}

// ListSandboxes returns currently running sandboxed executions
// GET /api/v1/sandbox/active
func (h *Handler) ListSandboxes(c *gin.Context) {
	active := h.executor.Active()
	c.JSON(http.StatusOK, gin.H{
		"executions": active,
		"total":      len(active),
	})
}

// Memory endpoints

// StoreMemory stores a value in an agent's memory
// PUT /api/v1/agents/:agentId/memory
func (h *Handler) StoreMemory(c *gin.Context) {
	agentID := c.Param("agentId")
	var req StoreMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}

	scope := memory.ParseScope(req.Scope)
	if err := h.memory.Store(c.Request.Context(), agentID, req.Key, req.Value, scope); err != nil {
		h.logger.Error("failed to store memory",
			zap.String("agent_id", agentID), zap.Error(err))
		respondError(c, apperrors.InternalError("failed to store memory", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMemory retrieves a value from an agent's memory
// GET /api/v1/agents/:agentId/memory/:key?scope=working
func (h *Handler) GetMemory(c *gin.Context) {
	agentID := c.Param("agentId")
	key := c.Param("key")
	scope := memory.ParseScope(c.Query("scope"))

	value, err := h.memory.Retrieve(c.Request.Context(), agentID, key, scope)
	if err != nil {
		respondError(c, apperrors.InternalError("failed to retrieve memory", err))
		return
	}
	if value == nil {
		respondError(c, apperrors.NotFound("memory entry", key))
		return
	}
	c.JSON(http.StatusOK, MemoryEntryResponse{
		AgentID: agentID,
		Key:     key,
		Value:   value,
		Scope:   string(scope),
	})
}

// DeleteMemory removes a value from an agent's memory
// DELETE /api/v1/agents/:agentId/memory/:key?scope=working
func (h *Handler) DeleteMemory(c *gin.Context) {
	agentID := c.Param("agentId")
	key := c.Param("key")
	scope := memory.ParseScope(c.Query("scope"))

	deleted, err := h.memory.Delete(c.Request.Context(), agentID, key, scope)
	if err != nil {
		respondError(c, apperrors.InternalError("failed to delete memory", err))
		return
	}
	if !deleted {
		respondError(c, apperrors.NotFound("memory entry", key))
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMemoryKeys lists the keys in one of an agent's memory scopes
// GET /api/v1/agents/:agentId/memory?scope=working
func (h *Handler) ListMemoryKeys(c *gin.Context) {
	agentID := c.Param("agentId")
	scope := memory.ParseScope(c.Query("scope"))

	keys, err := h.memory.ListKeys(c.Request.Context(), agentID, scope)
	if err != nil {
		respondError(c, apperrors.InternalError("failed to list memory keys", err))
		return
	}
	c.JSON(http.StatusOK, MemoryKeysResponse{
		AgentID: agentID,
		Scope:   string(scope),
		Keys:    keys,
		Total:   len(keys),
	})
}

// Messaging endpoints

// SendMessage sends a direct message to an agent's mailbox
// POST /api/v1/messages/send
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	msg := h.bus.Send(req.SenderID, req.RecipientID, req.Payload, messaging.MessageEvent)
	c.JSON(http.StatusOK, msg)
}

// BroadcastMessage publishes an event to all subscribed agents
// POST /api/v1/messages/broadcast
func (h *Handler) BroadcastMessage(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest(err.Error()))
		return
	}
	event := h.bus.Broadcast(req.SenderID, req.EventType, req.Data)
	c.JSON(http.StatusOK, event)
}

// MessageHistory returns recent messages involving an agent
// GET /api/v1/messages/history/:agentId?limit=50
func (h *Handler) MessageHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	history := h.bus.History(c.Param("agentId"), limit)
	c.JSON(http.StatusOK, gin.H{
		"messages": history,
		"total":    len(history),
	})
}

// Audit endpoints

// QueryAudit returns audit entries matching the query parameters
// GET /api/v1/audit?agent_id=&event_type=&min_severity=&since=&limit=
func (h *Handler) QueryAudit(c *gin.Context) {
	filter := audit.Filter{
		AgentID:   c.Query("agent_id"),
		EventType: c.Query("event_type"),
	}
	if s := c.Query("min_severity"); s != "" {
		filter.MinSeverity = audit.ParseSeverity(s)
	}
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(c, apperrors.BadRequest("since must be RFC3339"))
			return
		}
		filter.Since = since
	}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			respondError(c, apperrors.BadRequest("limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	entries, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		respondError(c, apperrors.InternalError("audit query failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}
