package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos/agentos/internal/capability"
	"github.com/agentos/agentos/internal/common/config"
	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
	"github.com/agentos/agentos/internal/llm"
	"github.com/agentos/agentos/internal/messaging"
	"github.com/agentos/agentos/internal/sandbox"
	"github.com/agentos/agentos/internal/tool"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "text",
		OutputPath: "stderr",
	})
	require.NoError(t, err)
	return log
}

// fakeClient replays canned responses; the last one repeats. A non-nil gate
// blocks each Complete call until the gate is closed.
type fakeClient struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	requests  []llm.Request
	gate      chan struct{}
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return textResponse("done"), nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeClient) recordedRequests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func textResponse(text string) *llm.Response {
	return &llm.Response{Content: []llm.Block{{Type: llm.BlockText, Text: text}}}
}

func toolUseResponse(id, name string, input map[string]any) *llm.Response {
	return &llm.Response{Content: []llm.Block{{
		Type:    llm.BlockToolUse,
		ToolUse: &llm.ToolUse{ID: id, Name: name, Input: input},
	}}}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *eventRecorder) handle(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func newTestRuntime(t *testing.T, client llm.Client) (*Runtime, *eventRecorder) {
	t.Helper()
	log := testLogger(t)
	emitter := events.NewEmitter(log)
	rec := &eventRecorder{}
	emitter.OnEvent(rec.handle)

	caps := capability.NewStore(emitter, log)
	registry := tool.NewRegistry(caps, emitter, log)
	registry.Register(tool.Schema{
		Name:        "echo",
		Description: "Echo the input text back",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
	}, func(ctx context.Context, params map[string]any) (string, error) {
		s, _ := params["text"].(string)
		return s, nil
	})
	registry.Register(tool.Schema{
		Name:                 "admin.reset",
		Description:          "Privileged operation",
		RequiredCapabilities: []string{"admin:*:manage"},
	}, func(ctx context.Context, params map[string]any) (string, error) {
		return "reset", nil
	})

	cfg := config.RuntimeConfig{
		DefaultModel:         "test-model",
		MaxIterations:        10,
		TimeoutSeconds:       30,
		DefaultCapabilitySet: "basic",
	}
	rt := NewRuntime(cfg, client,
		caps, registry, messaging.NewBus(log),
		sandbox.NewExecutor(t.TempDir(), 4, emitter, log),
		nil, emitter, log)
	return rt, rec
}

func TestSpawnAppliesDefaults(t *testing.T) {
	rt, rec := newTestRuntime(t, &fakeClient{})

	agent, err := rt.Spawn(AgentConfig{Goal: "summarize the report"})
	require.NoError(t, err)

	assert.Len(t, agent.ID, 8)
	assert.Equal(t, StatePending, agent.State())
	assert.Equal(t, "test-model", agent.Config.Model)
	assert.Equal(t, 10, agent.Config.MaxIterations)
	assert.Equal(t, 30, agent.Config.TimeoutSeconds)
	assert.True(t, rec.has(events.AgentSpawned))

	// The basic set allows file reads but not shell execution.
	assert.True(t, rt.caps.Check(agent.ID, "file", "/tmp/x", "read").Allowed)
	assert.False(t, rt.caps.Check(agent.ID, "shell", "*", "execute").Allowed)
}

func TestSpawnRequiresGoal(t *testing.T) {
	rt, _ := newTestRuntime(t, &fakeClient{})
	_, err := rt.Spawn(AgentConfig{})
	assert.Error(t, err)
}

func TestSpawnExplicitCapabilities(t *testing.T) {
	rt, _ := newTestRuntime(t, &fakeClient{})

	agent, err := rt.Spawn(AgentConfig{
		Goal:         "manage things",
		Capabilities: []string{"admin:*:manage"},
	})
	require.NoError(t, err)
	assert.True(t, rt.caps.Check(agent.ID, "admin", "x", "manage").Allowed)
	assert.False(t, rt.caps.Check(agent.ID, "file", "/tmp/x", "read").Allowed)

	_, err = rt.Spawn(AgentConfig{Goal: "bad caps", Capabilities: []string{""}})
	assert.Error(t, err)
}

func TestSpawnTracksChildren(t *testing.T) {
	rt, _ := newTestRuntime(t, &fakeClient{})

	parent, err := rt.Spawn(AgentConfig{Goal: "parent"})
	require.NoError(t, err)
	child, err := rt.Spawn(AgentConfig{Goal: "child", ParentID: parent.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{child.ID}, parent.Snapshot().Children)
	assert.Equal(t, parent.ID, child.Snapshot().ParentID)
}

func TestRunCompletesWithoutTools(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{textResponse("all finished")}}
	rt, rec := newTestRuntime(t, client)

	agent, err := rt.SpawnAndRun(context.Background(), AgentConfig{Goal: "say hi"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, agent.State())
	assert.Equal(t, "all finished", agent.Result())
	assert.Equal(t, 1, agent.Iterations())
	assert.True(t, rec.has(events.AgentStarted))
	assert.True(t, rec.has(events.AgentCompleted))

	snap := agent.Snapshot()
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)

	// A completed agent cannot be run again.
	_, err = rt.Run(context.Background(), agent.ID)
	assert.Error(t, err)
}

func TestRunUnknownAgent(t *testing.T) {
	rt, _ := newTestRuntime(t, &fakeClient{})
	_, err := rt.Run(context.Background(), "missing1")
	assert.Error(t, err)
}

func TestRunExecutesTools(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		toolUseResponse("tu_1", "echo", map[string]any{"text": "hello back"}),
		textResponse("finished"),
	}}
	rt, rec := newTestRuntime(t, client)

	agent, err := rt.SpawnAndRun(context.Background(), AgentConfig{Goal: "echo something"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, agent.State())
	assert.Equal(t, "finished", agent.Result())
	assert.True(t, rec.has(events.ToolExecuted))

	snap := agent.Snapshot()
	require.Len(t, snap.ToolCalls, 1)
	assert.Equal(t, "echo", snap.ToolCalls[0].Tool)
	assert.Equal(t, string(tool.StatusSuccess), snap.ToolCalls[0].Status)
	assert.Equal(t, "hello back", snap.ToolCalls[0].Output)

	// The second request must carry the assistant turn and the tool result.
	reqs := client.recordedRequests()
	require.Len(t, reqs, 2)
	history := reqs[1].Messages
	require.Len(t, history, 3)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
	require.Len(t, history[2].Blocks, 1)
	tr := history[2].Blocks[0].ToolResult
	require.NotNil(t, tr)
	assert.Equal(t, "tu_1", tr.ToolUseID)
	assert.Equal(t, "hello back", tr.Content)
	assert.False(t, tr.IsError)
}

func TestRunDeniedToolFeedsErrorBack(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		toolUseResponse("tu_1", "admin.reset", nil),
		textResponse("gave up"),
	}}
	rt, _ := newTestRuntime(t, client)

	agent, err := rt.SpawnAndRun(context.Background(), AgentConfig{Goal: "reset the system"})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, agent.State())
	snap := agent.Snapshot()
	require.Len(t, snap.ToolCalls, 1)
	assert.Equal(t, string(tool.StatusDenied), snap.ToolCalls[0].Status)

	reqs := client.recordedRequests()
	require.Len(t, reqs, 2)
	tr := reqs[1].Messages[2].Blocks[0].ToolResult
	require.NotNil(t, tr)
	assert.True(t, tr.IsError)
	assert.Contains(t, tr.Content, "denied")
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	client := &fakeClient{responses: []*llm.Response{
		toolUseResponse("tu_1", "echo", map[string]any{"text": "again"}),
	}}
	rt, _ := newTestRuntime(t, client)

	agent, err := rt.SpawnAndRun(context.Background(), AgentConfig{
		Goal:          "loop forever",
		MaxIterations: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, agent.State())
	assert.Equal(t, 2, agent.Iterations())
	assert.Contains(t, agent.Result(), "maximum iterations (2)")
}

func TestRunFailsOnClientError(t *testing.T) {
	client := &fakeClient{err: errors.New("service unreachable")}
	rt, rec := newTestRuntime(t, client)

	agent, err := rt.SpawnAndRun(context.Background(), AgentConfig{Goal: "doomed"})
	require.NoError(t, err)

	assert.Equal(t, StateFailed, agent.State())
	assert.Equal(t, "service unreachable", agent.LastError())
	assert.True(t, rec.has(events.AgentFailed))
	assert.True(t, rec.has(events.AgentCompleted), "completion fires even on failure")
}

func TestPauseAndResume(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeClient{
		gate: gate,
		responses: []*llm.Response{
			toolUseResponse("tu_1", "echo", map[string]any{"text": "x"}),
			textResponse("resumed and finished"),
		},
	}
	rt, rec := newTestRuntime(t, client)

	agent, err := rt.Spawn(AgentConfig{Goal: "pausable work"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rt.Run(context.Background(), agent.ID)
	}()

	require.Eventually(t, func() bool { return agent.State() == StateRunning },
		2*time.Second, 10*time.Millisecond)

	_, err = rt.Pause(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, agent.State())
	assert.True(t, rec.has(events.AgentPaused))

	// Release the model call; the loop must hold at the paused gate.
	close(gate)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatePaused, agent.State())

	_, err = rt.Resume(agent.ID)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after resume")
	}
	assert.Equal(t, StateCompleted, agent.State())
	assert.Equal(t, "resumed and finished", agent.Result())
	assert.True(t, rec.has(events.AgentResumed))
}

func TestPauseIsNoOpWhenNotRunning(t *testing.T) {
	rt, _ := newTestRuntime(t, &fakeClient{})

	agent, err := rt.Spawn(AgentConfig{Goal: "idle"})
	require.NoError(t, err)

	_, err = rt.Pause(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, agent.State())

	_, err = rt.Resume(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, agent.State())
}

func TestTerminateReleasesResources(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	client := &fakeClient{gate: gate}
	rt, rec := newTestRuntime(t, client)

	agent, err := rt.Spawn(AgentConfig{Goal: "long running"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rt.Run(context.Background(), agent.ID)
	}()
	require.Eventually(t, func() bool { return agent.State() == StateRunning },
		2*time.Second, 10*time.Millisecond)

	_, err = rt.Terminate(agent.ID)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not unwind after terminate")
	}

	assert.Equal(t, StateTerminated, agent.State())
	assert.True(t, rec.has(events.AgentTerminated))
	assert.False(t, rec.has(events.AgentCompleted), "terminated runs do not announce completion")
	assert.False(t, rt.caps.Check(agent.ID, "file", "/tmp/x", "read").Allowed)
	assert.Equal(t, 0, rt.bus.Stats().RegisteredAgents)

	// Terminate is idempotent.
	_, err = rt.Terminate(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, agent.State())
}

func TestTerminatePendingAgent(t *testing.T) {
	rt, _ := newTestRuntime(t, &fakeClient{})

	agent, err := rt.Spawn(AgentConfig{Goal: "never ran"})
	require.NoError(t, err)

	_, err = rt.Terminate(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, agent.State())

	_, err = rt.Run(context.Background(), agent.ID)
	assert.Error(t, err, "terminated agents cannot be run")
}

func TestStopTerminatesRemainingAgents(t *testing.T) {
	rt, rec := newTestRuntime(t, &fakeClient{})

	a, err := rt.Spawn(AgentConfig{Goal: "a"})
	require.NoError(t, err)
	b, err := rt.Spawn(AgentConfig{Goal: "b"})
	require.NoError(t, err)
	c, err := rt.SpawnAndRun(context.Background(), AgentConfig{Goal: "c"})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, c.State())

	require.NoError(t, rt.Stop(context.Background()))

	assert.Equal(t, StateTerminated, a.State())
	assert.Equal(t, StateTerminated, b.State())
	assert.Equal(t, StateCompleted, c.State(), "final agents are left alone")
	assert.True(t, rec.has(events.RuntimeStopped))
}

func TestListAndStats(t *testing.T) {
	rt, _ := newTestRuntime(t, &fakeClient{})

	_, err := rt.Spawn(AgentConfig{Goal: "one"})
	require.NoError(t, err)
	done, err := rt.SpawnAndRun(context.Background(), AgentConfig{Goal: "two"})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, done.State())

	snaps := rt.List()
	assert.Len(t, snaps, 2)

	stats := rt.GetStats()
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, 1, stats.ByState[StatePending])
	assert.Equal(t, 1, stats.ByState[StateCompleted])
}
