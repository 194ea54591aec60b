package runtime

import (
	"context"
	"sync"
	"time"
)

// State is an agent lifecycle state. Transitions are driven by the runtime;
// completed, failed and terminated are final.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTerminated
}

// AgentConfig describes a new agent. Zero-valued fields are filled from the
// runtime defaults at spawn time.
type AgentConfig struct {
	Goal           string   `json:"goal"`
	Model          string   `json:"model"`
	Tools          []string `json:"tools,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	CapabilitySet  string   `json:"capability_set,omitempty"`
	MaxIterations  int      `json:"max_iterations"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	ParentID       string   `json:"parent_id,omitempty"`
}

// ToolCall records one tool invocation made during an agent run.
type ToolCall struct {
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input"`
	Status     string         `json:"status"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Agent is a tracked agent instance. All mutable fields are guarded by mu;
// read them through Snapshot or the accessor methods.
type Agent struct {
	ID     string
	Config AgentConfig

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	iterations  int
	toolCalls   []ToolCall
	result      string
	lastError   string
	children    []string
	cancel      context.CancelFunc
}

func newAgent(id string, cfg AgentConfig) *Agent {
	a := &Agent{
		ID:        id,
		Config:    cfg,
		state:     StatePending,
		createdAt: time.Now().UTC(),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Snapshot is a point-in-time copy of an agent, safe to serialize.
type Snapshot struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Goal        string     `json:"goal"`
	Model       string     `json:"model"`
	ParentID    string     `json:"parent_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Iterations  int        `json:"iterations"`
	ToolCalls   []ToolCall `json:"tool_calls"`
	Result      string     `json:"result,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Children    []string   `json:"children,omitempty"`
}

// Snapshot returns a copy of the agent's current state.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	calls := make([]ToolCall, len(a.toolCalls))
	copy(calls, a.toolCalls)
	children := make([]string, len(a.children))
	copy(children, a.children)

	return Snapshot{
		ID:          a.ID,
		State:       a.state,
		Goal:        a.Config.Goal,
		Model:       a.Config.Model,
		ParentID:    a.Config.ParentID,
		CreatedAt:   a.createdAt,
		StartedAt:   a.startedAt,
		CompletedAt: a.completedAt,
		Iterations:  a.iterations,
		ToolCalls:   calls,
		Result:      a.result,
		LastError:   a.lastError,
		Children:    children,
	}
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Result returns the agent's final result text, empty until completion.
func (a *Agent) Result() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// LastError returns the failure message from the most recent run, if any.
func (a *Agent) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

// Iterations returns the number of reasoning iterations consumed so far.
func (a *Agent) Iterations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.iterations
}

func (a *Agent) addChild(childID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children = append(a.children, childID)
}

func (a *Agent) recordToolCall(call ToolCall) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.toolCalls = append(a.toolCalls, call)
}

func (a *Agent) nextIteration() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.iterations++
	return a.iterations
}

// transition moves the agent from one state to another; it returns false
// without modifying anything when the agent is not in the expected state.
func (a *Agent) transition(from, to State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return false
	}
	a.state = to
	a.cond.Broadcast()
	return true
}

// awaitRunnable blocks while the agent is paused and returns an error once
// the agent has been terminated or the context expired.
func (a *Agent) awaitRunnable(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.state == StatePaused {
		a.cond.Wait()
	}
	if a.state == StateTerminated {
		return errAgentTerminated
	}
	return ctx.Err()
}

// finish records the terminal outcome of a run. It is a no-op when the agent
// was terminated while the loop was unwinding.
func (a *Agent) finish(state State, result, errMsg string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Terminal() {
		return false
	}
	now := time.Now().UTC()
	a.state = state
	a.completedAt = &now
	a.result = result
	a.lastError = errMsg
	a.cond.Broadcast()
	return true
}
