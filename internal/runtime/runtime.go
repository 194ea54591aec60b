// Package runtime orchestrates agent lifecycles: spawning, the reasoning
// loop, pause/resume, and termination with full resource cleanup.
package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentos/agentos/internal/capability"
	"github.com/agentos/agentos/internal/common/config"
	apperrors "github.com/agentos/agentos/internal/common/errors"
	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
	"github.com/agentos/agentos/internal/llm"
	"github.com/agentos/agentos/internal/memory"
	"github.com/agentos/agentos/internal/messaging"
	"github.com/agentos/agentos/internal/sandbox"
	"github.com/agentos/agentos/internal/tool"
)

// errAgentTerminated unwinds the reasoning loop when the agent is terminated
// mid-run. It never escapes the runtime.
var errAgentTerminated = errors.New("agent terminated")

// Runtime owns all agents and the subsystems they run against.
type Runtime struct {
	mu     sync.RWMutex
	agents map[string]*Agent

	cfg      config.RuntimeConfig
	client   llm.Client
	caps     *capability.Store
	tools    *tool.Registry
	bus      *messaging.Bus
	executor *sandbox.Executor
	memory   *memory.Manager
	emitter  *events.Emitter
	log      *logger.Logger
}

// NewRuntime wires a runtime from its subsystems. All dependencies are
// required except memory, which may be nil when persistence is disabled.
func NewRuntime(
	cfg config.RuntimeConfig,
	client llm.Client,
	caps *capability.Store,
	tools *tool.Registry,
	bus *messaging.Bus,
	executor *sandbox.Executor,
	mem *memory.Manager,
	emitter *events.Emitter,
	log *logger.Logger,
) *Runtime {
	return &Runtime{
		agents:   make(map[string]*Agent),
		cfg:      cfg,
		client:   client,
		caps:     caps,
		tools:    tools,
		bus:      bus,
		executor: executor,
		memory:   mem,
		emitter:  emitter,
		log:      log.WithFields(zap.String("component", "runtime")),
	}
}

// Spawn creates a new agent in the pending state, grants its capabilities,
// and registers its mailbox. The agent does not run until Run is called.
func (r *Runtime) Spawn(cfg AgentConfig) (*Agent, error) {
	if cfg.Goal == "" {
		return nil, apperrors.ValidationError("goal", "must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = r.cfg.DefaultModel
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = r.cfg.MaxIterations
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = r.cfg.TimeoutSeconds
	}

	agentID := uuid.New().String()[:8]

	if len(cfg.Capabilities) > 0 {
		if err := r.caps.GrantAll(agentID, cfg.Capabilities); err != nil {
			r.caps.RevokeAll(agentID)
			return nil, apperrors.BadRequest(err.Error())
		}
	} else {
		setName := cfg.CapabilitySet
		if setName == "" {
			setName = r.cfg.DefaultCapabilitySet
		}
		if err := r.caps.GrantAll(agentID, capability.DefaultSet(setName)); err != nil {
			r.caps.RevokeAll(agentID)
			return nil, apperrors.InternalError("failed to grant default capabilities", err)
		}
	}

	agent := newAgent(agentID, cfg)
	r.bus.RegisterAgent(agentID)

	r.mu.Lock()
	r.agents[agentID] = agent
	if cfg.ParentID != "" {
		if parent, ok := r.agents[cfg.ParentID]; ok {
			parent.addChild(agentID)
		}
	}
	r.mu.Unlock()

	r.log.Info("Agent spawned",
		zap.String("agent_id", agentID),
		zap.String("model", cfg.Model),
		zap.String("parent_id", cfg.ParentID))
	r.emitter.Emit(events.NewEvent(events.AgentSpawned, agentID, map[string]any{
		"goal":      cfg.Goal,
		"model":     cfg.Model,
		"parent_id": cfg.ParentID,
	}))

	return agent, nil
}

// Run executes a pending agent's reasoning loop to completion. Calling Run
// on an agent in any other state is a contract violation and returns an
// error without touching the agent.
func (r *Runtime) Run(ctx context.Context, agentID string) (*Agent, error) {
	agent, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	if !agent.transition(StatePending, StateRunning) {
		return nil, apperrors.Conflict(
			"agent " + agentID + " is not pending (state: " + string(agent.State()) + ")")
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if agent.Config.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx,
			time.Duration(agent.Config.TimeoutSeconds)*time.Second)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	now := time.Now().UTC()
	agent.mu.Lock()
	agent.startedAt = &now
	agent.cancel = cancel
	agent.mu.Unlock()

	r.log.Info("Agent run started", zap.String("agent_id", agentID))
	r.emitter.Emit(events.NewEvent(events.AgentStarted, agentID, map[string]any{
		"goal": agent.Config.Goal,
	}))

	result, runErr := r.runLoop(runCtx, agent)

	switch {
	case errors.Is(runErr, errAgentTerminated):
		// Terminate already moved the agent to its final state.
	case runErr != nil:
		if agent.finish(StateFailed, "", runErr.Error()) {
			r.log.Warn("Agent run failed",
				zap.String("agent_id", agentID), zap.Error(runErr))
			r.emitter.Emit(events.NewEvent(events.AgentFailed, agentID, map[string]any{
				"error": runErr.Error(),
			}))
		}
	default:
		if agent.finish(StateCompleted, result, "") {
			r.log.Info("Agent run completed",
				zap.String("agent_id", agentID),
				zap.Int("iterations", agent.Iterations()))
		}
	}

	// Completion is announced regardless of outcome so waiters are always
	// released.
	if agent.State() != StateTerminated {
		snap := agent.Snapshot()
		r.emitter.Emit(events.NewEvent(events.AgentCompleted, agentID, map[string]any{
			"status":     string(snap.State),
			"result":     snap.Result,
			"error":      snap.LastError,
			"iterations": snap.Iterations,
		}))
		r.bus.Broadcast(agentID, events.AgentCompleted, map[string]any{
			"status": string(snap.State),
			"result": snap.Result,
		})
	}

	return agent, nil
}

// SpawnAndRun spawns an agent and runs it synchronously.
func (r *Runtime) SpawnAndRun(ctx context.Context, cfg AgentConfig) (*Agent, error) {
	agent, err := r.Spawn(cfg)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, agent.ID)
}

// Pause suspends a running agent before its next iteration. Pausing an agent
// in any other state is a no-op.
func (r *Runtime) Pause(agentID string) (*Agent, error) {
	agent, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	if agent.transition(StateRunning, StatePaused) {
		r.log.Info("Agent paused", zap.String("agent_id", agentID))
		r.emitter.Emit(events.NewEvent(events.AgentPaused, agentID, nil))
	}
	return agent, nil
}

// Resume unblocks a paused agent. Resuming an agent in any other state is a
// no-op.
func (r *Runtime) Resume(agentID string) (*Agent, error) {
	agent, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	if agent.transition(StatePaused, StateRunning) {
		r.log.Info("Agent resumed", zap.String("agent_id", agentID))
		r.emitter.Emit(events.NewEvent(events.AgentResumed, agentID, nil))
	}
	return agent, nil
}

// Terminate forcibly stops an agent and releases everything it holds: the
// in-flight run context, sandboxed processes, capability grants, in-memory
// scopes, and its mailbox. Terminating an already-final agent is a no-op.
func (r *Runtime) Terminate(agentID string) (*Agent, error) {
	agent, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}

	agent.mu.Lock()
	if agent.state.Terminal() {
		agent.mu.Unlock()
		return agent, nil
	}
	now := time.Now().UTC()
	agent.state = StateTerminated
	agent.completedAt = &now
	cancel := agent.cancel
	agent.cond.Broadcast()
	agent.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	killed := r.executor.KillAgent(agentID)
	r.caps.RevokeAll(agentID)
	if r.memory != nil {
		r.memory.ClearAgent(agentID)
	}
	r.bus.UnregisterAgent(agentID)

	r.log.Info("Agent terminated",
		zap.String("agent_id", agentID),
		zap.Int("sandboxes_killed", killed))
	r.emitter.Emit(events.NewEvent(events.AgentTerminated, agentID, map[string]any{
		"sandboxes_killed": killed,
	}))

	return agent, nil
}

// Get returns the agent with the given ID.
func (r *Runtime) Get(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return nil, apperrors.NotFound("agent", agentID)
	}
	return agent, nil
}

// List returns snapshots of every tracked agent.
func (r *Runtime) List() []Snapshot {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Snapshot())
	}
	return out
}

// Stats summarizes the runtime's agent population.
type Stats struct {
	TotalAgents int             `json:"total_agents"`
	ByState     map[State]int   `json:"by_state"`
	Sandboxes   sandbox.Stats   `json:"sandboxes"`
	Messaging   messaging.Stats `json:"messaging"`
}

// GetStats returns current runtime counters.
func (r *Runtime) GetStats() Stats {
	r.mu.RLock()
	byState := make(map[State]int)
	total := len(r.agents)
	agents := make([]*Agent, 0, total)
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	for _, a := range agents {
		byState[a.State()]++
	}
	return Stats{
		TotalAgents: total,
		ByState:     byState,
		Sandboxes:   r.executor.Stats(),
		Messaging:   r.bus.Stats(),
	}
}

// OnEvent registers a handler for runtime events.
func (r *Runtime) OnEvent(handler events.Handler) {
	r.emitter.OnEvent(handler)
}

// Stop terminates every non-final agent concurrently and emits the runtime
// stopped event. It is called during shutdown.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id, a := range r.agents {
		if !a.State().Terminal() {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := r.Terminate(id)
			return err
		})
	}
	err := g.Wait()

	r.log.Info("Runtime stopped", zap.Int("agents_terminated", len(ids)))
	r.emitter.Emit(events.NewEvent(events.RuntimeStopped, "", map[string]any{
		"agents_terminated": len(ids),
	}))
	return err
}
