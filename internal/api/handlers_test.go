package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos/agentos/internal/audit"
	"github.com/agentos/agentos/internal/capability"
	"github.com/agentos/agentos/internal/common/config"
	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
	"github.com/agentos/agentos/internal/llm"
	"github.com/agentos/agentos/internal/memory"
	"github.com/agentos/agentos/internal/messaging"
	"github.com/agentos/agentos/internal/runtime"
	"github.com/agentos/agentos/internal/sandbox"
	"github.com/agentos/agentos/internal/tool"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

// stubClient always answers with a fixed text block.
type stubClient struct {
	text string
}

func (s *stubClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: []llm.Block{{Type: llm.BlockText, Text: s.text}}}, nil
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
	emitter *events.Emitter
	bus     *messaging.Bus
	audit   *audit.Logger
	runtime *runtime.Runtime
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	log := newTestLogger()
	emitter := events.NewEmitter(log)

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

	executor := sandbox.NewExecutor(t.TempDir(), 4, emitter, log)
	bus := messaging.NewBus(log)

	mem, err := memory.NewManager(filepath.Join(t.TempDir(), "memory.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	auditLog, err := audit.NewLogger(filepath.Join(t.TempDir(), "audit.db"), audit.SeverityDebug, log)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	rt := runtime.NewRuntime(config.RuntimeConfig{
		DefaultModel:         "test-model",
		MaxIterations:        5,
		TimeoutSeconds:       10,
		DefaultCapabilitySet: "basic",
	}, &stubClient{text: "done"}, caps, registry, bus, executor, mem, emitter, log)

	handler := NewHandler(rt, caps, registry, bus, executor, mem, auditLog, log)
	router := gin.New()
	router.GET("/health", handler.HealthCheck)
	SetupRoutes(router.Group("/api/v1"), handler)

	return &testServer{
		router:  router,
		handler: handler,
		emitter: emitter,
		bus:     bus,
		audit:   auditLog,
		runtime: rt,
	}
}

func performRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func spawnAgent(t *testing.T, ts *testServer, req SpawnAgentRequest) runtime.Snapshot {
	t.Helper()
	w := performRequest(ts.router, http.MethodPost, "/api/v1/agents", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var snap runtime.Snapshot
	decodeJSON(t, w, &snap)
	return snap
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)

	w := performRequest(ts.router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, "healthy", resp.Status)
}

func TestSpawnAndGetAgent(t *testing.T) {
	ts := setupTestServer(t)

	snap := spawnAgent(t, ts, SpawnAgentRequest{Goal: "do a thing"})
	assert.Len(t, snap.ID, 8)
	assert.Equal(t, runtime.StatePending, snap.State)
	assert.Equal(t, "test-model", snap.Model)

	w := performRequest(ts.router, http.MethodGet, "/api/v1/agents/"+snap.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(ts.router, http.MethodGet, "/api/v1/agents/missing1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(ts.router, http.MethodGet, "/api/v1/agents", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list AgentsListResponse
	decodeJSON(t, w, &list)
	assert.Equal(t, 1, list.Total)
}

func TestSpawnAgentValidation(t *testing.T) {
	ts := setupTestServer(t)

	w := performRequest(ts.router, http.MethodPost, "/api/v1/agents", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunAgentEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	snap := spawnAgent(t, ts, SpawnAgentRequest{Goal: "finish quickly"})

	w := performRequest(ts.router, http.MethodPost, "/api/v1/agents/"+snap.ID+"/run", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		agent, err := ts.runtime.Get(snap.ID)
		return err == nil && agent.State() == runtime.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// Running again conflicts.
	w = performRequest(ts.router, http.MethodPost, "/api/v1/agents/"+snap.ID+"/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSpawnAndRunImmediately(t *testing.T) {
	ts := setupTestServer(t)

	snap := spawnAgent(t, ts, SpawnAgentRequest{Goal: "fire and forget", Run: true})
	require.Eventually(t, func() bool {
		agent, err := ts.runtime.Get(snap.ID)
		return err == nil && agent.State() == runtime.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTerminateAgentEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	snap := spawnAgent(t, ts, SpawnAgentRequest{Goal: "short lived"})

	w := performRequest(ts.router, http.MethodDelete, "/api/v1/agents/"+snap.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var out runtime.Snapshot
	decodeJSON(t, w, &out)
	assert.Equal(t, runtime.StateTerminated, out.State)
}

func TestCapabilityEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	snap := spawnAgent(t, ts, SpawnAgentRequest{Goal: "capable agent"})

	w := performRequest(ts.router, http.MethodGet, "/api/v1/agents/"+snap.ID+"/capabilities", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var caps CapabilitiesResponse
	decodeJSON(t, w, &caps)
	assert.Equal(t, 2, caps.Total, "the basic set grants file reads and http requests")

	w = performRequest(ts.router, http.MethodPost, "/api/v1/agents/"+snap.ID+"/capabilities",
		GrantCapabilityRequest{Capability: "db:*:query"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = performRequest(ts.router, http.MethodGet,
		"/api/v1/agents/"+snap.ID+"/capabilities/check?resource=db&action=query", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var check CapabilityCheckResponse
	decodeJSON(t, w, &check)
	assert.True(t, check.Allowed)

	w = performRequest(ts.router, http.MethodPost, "/api/v1/agents/"+snap.ID+"/capabilities",
		GrantCapabilityRequest{Capability: "a:b:c:d"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(ts.router, http.MethodDelete, "/api/v1/agents/"+snap.ID+"/capabilities", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = performRequest(ts.router, http.MethodGet,
		"/api/v1/agents/"+snap.ID+"/capabilities/check?resource=db&action=query", nil)
	decodeJSON(t, w, &check)
	assert.False(t, check.Allowed)
}

func TestCheckCapabilityRequiresResource(t *testing.T) {
	ts := setupTestServer(t)
	w := performRequest(ts.router, http.MethodGet,
		"/api/v1/agents/someone/capabilities/check", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTools(t *testing.T) {
	ts := setupTestServer(t)

	w := performRequest(ts.router, http.MethodGet, "/api/v1/tools", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp ToolsListResponse
	decodeJSON(t, w, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "echo", resp.Tools[0].Name)
}

func TestExecuteSandbox(t *testing.T) {
	ts := setupTestServer(t)

	w := performRequest(ts.router, http.MethodPost, "/api/v1/sandbox/execute",
		ExecuteSandboxRequest{Command: "echo hello"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp ExecuteSandboxResponse
	decodeJSON(t, w, &resp)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.Success)
	assert.Contains(t, resp.Result.Output, "hello")
	assert.Empty(t, resp.Warnings)
}

func TestExecuteSandboxWarnsOnDangerousCommands(t *testing.T) {
	ts := setupTestServer(t)

	w := performRequest(ts.router, http.MethodPost, "/api/v1/sandbox/execute",
		ExecuteSandboxRequest{Command: "sudo echo hi"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp ExecuteSandboxResponse
	decodeJSON(t, w, &resp)
	assert.NotEmpty(t, resp.Warnings)
}

func TestMemoryEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	base := "/api/v1/agents/agent1/memory"

	w := performRequest(ts.router, http.MethodPut, base,
		StoreMemoryRequest{Key: "notes", Value: "remember this", Scope: "working"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = performRequest(ts.router, http.MethodGet, base+"/notes?scope=working", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var entry MemoryEntryResponse
	decodeJSON(t, w, &entry)
	assert.Equal(t, "remember this", entry.Value)

	w = performRequest(ts.router, http.MethodGet, base+"?scope=working", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var keys MemoryKeysResponse
	decodeJSON(t, w, &keys)
	assert.Equal(t, []string{"notes"}, keys.Keys)

	w = performRequest(ts.router, http.MethodDelete, base+"/notes?scope=working", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = performRequest(ts.router, http.MethodGet, base+"/notes?scope=working", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessagingEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	ts.bus.RegisterAgent("alpha")

	w := performRequest(ts.router, http.MethodPost, "/api/v1/messages/send",
		SendMessageRequest{SenderID: "api", RecipientID: "alpha",
			Payload: map[string]any{"note": "hi"}})
	assert.Equal(t, http.StatusOK, w.Code)

	msg := ts.bus.Receive(context.Background(), "alpha", 100*time.Millisecond)
	require.NotNil(t, msg)
	assert.Equal(t, "hi", msg.Payload["note"])

	w = performRequest(ts.router, http.MethodPost, "/api/v1/messages/broadcast",
		BroadcastRequest{SenderID: "api", EventType: "deploy.finished"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(ts.router, http.MethodGet, "/api/v1/messages/history/alpha", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Total int `json:"total"`
	}
	decodeJSON(t, w, &history)
	assert.Equal(t, 1, history.Total)
}

func TestQueryAudit(t *testing.T) {
	ts := setupTestServer(t)
	ts.audit.Log(context.Background(), "agent.spawned", audit.SeverityInfo, "agent1", nil)
	ts.audit.Log(context.Background(), "agent.failed", audit.SeverityError, "agent2", nil)

	w := performRequest(ts.router, http.MethodGet, "/api/v1/audit?agent_id=agent1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entries []*audit.Entry `json:"entries"`
		Total   int            `json:"total"`
	}
	decodeJSON(t, w, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "agent.spawned", resp.Entries[0].EventType)

	w = performRequest(ts.router, http.MethodGet, "/api/v1/audit?min_severity=error", nil)
	decodeJSON(t, w, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "agent.failed", resp.Entries[0].EventType)

	w = performRequest(ts.router, http.MethodGet, "/api/v1/audit?since=notatime", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStats(t *testing.T) {
	ts := setupTestServer(t)
	spawnAgent(t, ts, SpawnAgentRequest{Goal: "counted"})

	w := performRequest(ts.router, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var stats map[string]json.RawMessage
	decodeJSON(t, w, &stats)
	assert.Contains(t, stats, "runtime")
	assert.Contains(t, stats, "memory")
	assert.Contains(t, stats, "audit")
}
