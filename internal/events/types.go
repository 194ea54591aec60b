package events

// Agent lifecycle events
const (
	AgentSpawned    = "agent.spawned"
	AgentStarted    = "agent.started"
	AgentPaused     = "agent.paused"
	AgentResumed    = "agent.resumed"
	AgentCompleted  = "agent.completed"
	AgentFailed     = "agent.failed"
	AgentTerminated = "agent.terminated"
)

// Tool events
const (
	ToolRegistered = "tool.registered"
	ToolExecuted   = "tool.executed"
)

// Capability events
const (
	CapabilityGranted      = "capability.granted"
	CapabilityRevoked      = "capability.revoked"
	CapabilityRevokedAll   = "capability.revoked_all"
	CapabilityCheckAllowed = "capability.check.allowed"
	CapabilityCheckDenied  = "capability.check.denied"
)

// Sandbox events
const (
	SandboxExecutionStarted  = "sandbox.execution.started"
	SandboxExecutionFinished = "sandbox.execution.finished"
	SandboxExecutionKilled   = "sandbox.execution.killed"
	SandboxViolation         = "sandbox.violation"
)

// Runtime events
const (
	RuntimeStarted = "runtime.started"
	RuntimeStopped = "runtime.stopped"
)
