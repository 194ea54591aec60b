package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
)

// ActiveExecution describes a currently running sandboxed command.
type ActiveExecution struct {
	ExecutionID     string  `json:"execution_id"`
	AgentID         string  `json:"agent_id,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Policy          Policy  `json:"policy"`
}

// Stats summarizes executor activity.
type Stats struct {
	TotalExecutions int64 `json:"total_executions"`
	ActiveSandboxes int   `json:"active_sandboxes"`
}

type execution struct {
	cmd       *exec.Cmd
	agentID   string
	startTime time.Time
	policy    Policy
}

// Executor runs shell commands under sandbox configurations. Concurrency
// across all agents is bounded by a weighted semaphore; each execution gets
// a scratch directory that is removed when the call returns.
type Executor struct {
	baseTempDir string
	sem         *semaphore.Weighted

	mu      sync.Mutex
	active  map[string]*execution
	counter atomic.Int64

	emitter *events.Emitter
	log     *logger.Logger
}

// NewExecutor creates a sandbox executor. baseTempDir is where scratch
// directories are created; empty means the OS temp directory. maxConcurrent
// bounds simultaneous executions.
func NewExecutor(baseTempDir string, maxConcurrent int, emitter *events.Emitter, log *logger.Logger) *Executor {
	if baseTempDir == "" {
		baseTempDir = os.TempDir()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &Executor{
		baseTempDir: baseTempDir,
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		active:      make(map[string]*execution),
		emitter:     emitter,
		log:         log.WithFields(zap.String("component", "sandbox-executor")),
	}
}

// ExecuteCommand runs a shell command under the given configuration and
// returns a structured result. It never returns an error for command
// failures or timeouts; those are reported in the Result. The returned
// error covers only infrastructure problems (semaphore wait cancelled,
// scratch directory creation).
func (e *Executor) ExecuteCommand(ctx context.Context, command string, cfg Config, agentID string) (*Result, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for execution slot: %w", err)
	}
	defer e.sem.Release(1)

	executionID := fmt.Sprintf("exec_%d", e.counter.Add(1))
	startTime := time.Now()
	var violations []string

	e.log.Info("Sandbox execution started",
		zap.String("execution_id", executionID),
		zap.String("agent_id", agentID),
		zap.String("policy", string(cfg.Policy)))
	e.emitter.Emit(events.NewEvent(events.SandboxExecutionStarted, agentID, map[string]any{
		"execution_id": executionID,
		"policy":       string(cfg.Policy),
	}))

	// Scratch directory doubles as the default working directory.
	var scratchDir string
	if cfg.Filesystem.AllowTempFiles {
		dir, err := os.MkdirTemp(orDefault(cfg.Filesystem.TempDir, e.baseTempDir), "agent_sandbox_")
		if err != nil {
			return nil, fmt.Errorf("creating sandbox directory: %w", err)
		}
		scratchDir = dir
		defer func() {
			if rmErr := os.RemoveAll(scratchDir); rmErr != nil {
				e.log.Warn("Sandbox cleanup failed",
					zap.String("execution_id", executionID),
					zap.Error(rmErr))
			}
		}()
	}

	env := buildEnv(cfg, executionID)

	cwd := cfg.WorkingDir
	if cwd == "" {
		cwd = scratchDir
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = cwd
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		duration := time.Since(startTime).Seconds()
		return &Result{
			Success:         false,
			Error:           err.Error(),
			ExitCode:        -1,
			DurationSeconds: duration,
			Violations:      []string{fmt.Sprintf("Execution error: %v", err)},
		}, nil
	}

	e.track(executionID, &execution{cmd: cmd, agentID: agentID, startTime: startTime, policy: cfg.Policy})
	defer e.untrack(executionID)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	wall := time.Duration(cfg.Resources.MaxWallSeconds * float64(time.Second))
	timer := time.NewTimer(wall)
	defer timer.Stop()

	var outStr, errStr string
	var exitCode int

	select {
	case <-done:
		exitCode = cmd.ProcessState.ExitCode()
		outStr = stdout.String()
		errStr = stderr.String()
	case <-timer.C:
		// Kill and reap synchronously so no orphan survives the call.
		_ = cmd.Process.Kill()
		<-done
		violations = append(violations,
			fmt.Sprintf("Exceeded wall time limit of %gs", cfg.Resources.MaxWallSeconds))
		outStr = ""
		errStr = "Execution timed out"
		exitCode = -9
		e.emitter.Emit(events.NewEvent(events.SandboxViolation, agentID, map[string]any{
			"execution_id": executionID,
			"violation":    violations[0],
		}))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		outStr = ""
		errStr = "Execution cancelled"
		exitCode = -9
		violations = append(violations, fmt.Sprintf("Execution cancelled: %v", ctx.Err()))
	}

	duration := time.Since(startTime).Seconds()
	result := &Result{
		Success:         exitCode == 0 && len(violations) == 0,
		Output:          outStr,
		Error:           errStr,
		ExitCode:        exitCode,
		DurationSeconds: duration,
		Violations:      violations,
		ResourceUsage: map[string]any{
			"wall_time_seconds": duration,
			"max_cpu_seconds":   cfg.Resources.MaxCPUSeconds,
			"max_memory_mb":     cfg.Resources.MaxMemoryMB,
		},
	}

	e.log.Info("Sandbox execution finished",
		zap.String("execution_id", executionID),
		zap.Bool("success", result.Success),
		zap.Float64("duration_seconds", duration),
		zap.Strings("violations", violations))
	e.emitter.Emit(events.NewEvent(events.SandboxExecutionFinished, agentID, map[string]any{
		"execution_id":     executionID,
		"success":          result.Success,
		"exit_code":        exitCode,
		"duration_seconds": duration,
	}))

	return result, nil
}

func buildEnv(cfg Config, executionID string) []string {
	var env []string
	if cfg.InheritEnv {
		env = os.Environ()
	}
	for k, v := range cfg.Environment {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"AGENT_OS_SANDBOX=1",
		"AGENT_OS_EXECUTION_ID="+executionID,
	)
	return env
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func (e *Executor) track(id string, ex *execution) {
	e.mu.Lock()
	e.active[id] = ex
	e.mu.Unlock()
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// Kill forcibly terminates a running execution by ID. Returns false if the
// execution is unknown or already finished.
func (e *Executor) Kill(executionID string) bool {
	e.mu.Lock()
	ex, ok := e.active[executionID]
	e.mu.Unlock()
	if !ok || ex.cmd.Process == nil {
		return false
	}
	if err := ex.cmd.Process.Kill(); err != nil {
		return false
	}
	e.log.Info("Sandbox killed", zap.String("execution_id", executionID))
	e.emitter.Emit(events.NewEvent(events.SandboxExecutionKilled, ex.agentID, map[string]any{
		"execution_id": executionID,
	}))
	return true
}

// KillAgent kills all running executions belonging to an agent and returns
// how many were killed.
func (e *Executor) KillAgent(agentID string) int {
	e.mu.Lock()
	var ids []string
	for id, ex := range e.active {
		if ex.agentID == agentID {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	killed := 0
	for _, id := range ids {
		if e.Kill(id) {
			killed++
		}
	}
	return killed
}

// Active returns a snapshot of currently running executions.
func (e *Executor) Active() []ActiveExecution {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	out := make([]ActiveExecution, 0, len(e.active))
	for id, ex := range e.active {
		out = append(out, ActiveExecution{
			ExecutionID:     id,
			AgentID:         ex.agentID,
			DurationSeconds: now.Sub(ex.startTime).Seconds(),
			Policy:          ex.policy,
		})
	}
	return out
}

// Stats returns executor counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		TotalExecutions: e.counter.Load(),
		ActiveSandboxes: len(e.active),
	}
}
