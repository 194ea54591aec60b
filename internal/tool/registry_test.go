package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos/agentos/internal/capability"
	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
)

func newTestRegistry(t *testing.T) (*Registry, *capability.Store) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)
	emitter := events.NewEmitter(log)
	caps := capability.NewStore(emitter, log)
	return NewRegistry(caps, emitter, log), caps
}

func echoSchema(requiredCaps ...string) Schema {
	return Schema{
		Name:        "test.echo",
		Description: "Echo a message",
		Parameters: []Parameter{
			{Name: "message", Type: "string", Description: "What to echo", Required: true},
		},
		RequiredCapabilities: requiredCaps,
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg, _ := newTestRegistry(t)

	result := reg.Execute(context.Background(), "agent-1", "nope", nil)
	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, "Unknown tool: nope")
}

func TestExecuteSuccess(t *testing.T) {
	reg, caps := newTestRegistry(t)
	require.NoError(t, caps.GrantString("agent-1", "test:*:echo"))

	reg.Register(echoSchema("test:*:echo"), func(ctx context.Context, params map[string]any) (string, error) {
		return params["message"].(string), nil
	})

	result := reg.Execute(context.Background(), "agent-1", "test.echo", map[string]any{"message": "hi"})
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "hi", result.Output)
	assert.GreaterOrEqual(t, result.ExecutionTimeMs, int64(0))
}

func TestExecuteDenied(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var invoked bool
	reg.Register(echoSchema("test:*:echo"), func(ctx context.Context, params map[string]any) (string, error) {
		invoked = true
		return "", nil
	})

	result := reg.Execute(context.Background(), "agent-1", "test.echo", nil)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Contains(t, result.Error, "Permission denied")
	assert.False(t, invoked, "a denied tool must never run")
}

func TestExecuteAllCapabilitiesMustPass(t *testing.T) {
	reg, caps := newTestRegistry(t)
	require.NoError(t, caps.GrantString("agent-1", "file:*:read"))

	schema := echoSchema("file:*:read", "shell:*:execute")
	reg.Register(schema, func(ctx context.Context, params map[string]any) (string, error) {
		return "ran", nil
	})

	result := reg.Execute(context.Background(), "agent-1", "test.echo", nil)
	assert.Equal(t, StatusDenied, result.Status)

	require.NoError(t, caps.GrantString("agent-1", "shell:*:execute"))
	result = reg.Execute(context.Background(), "agent-1", "test.echo", nil)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestExecuteTimeout(t *testing.T) {
	reg, caps := newTestRegistry(t)
	require.NoError(t, caps.GrantString("agent-1", "test:*:*"))

	reg.Register(echoSchema("test:*:echo"), func(ctx context.Context, params map[string]any) (string, error) {
		return "", ErrTimeout
	})

	result := reg.Execute(context.Background(), "agent-1", "test.echo", nil)
	assert.Equal(t, StatusTimeout, result.Status)
	assert.Equal(t, "Tool execution timed out", result.Error)
}

func TestExecuteContextDeadline(t *testing.T) {
	reg, caps := newTestRegistry(t)
	require.NoError(t, caps.GrantString("agent-1", "test:*:*"))

	reg.Register(echoSchema("test:*:echo"), func(ctx context.Context, params map[string]any) (string, error) {
		return "", context.DeadlineExceeded
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	result := reg.Execute(ctx, "agent-1", "test.echo", nil)
	assert.Equal(t, StatusTimeout, result.Status)
}

func TestExecuteError(t *testing.T) {
	reg, caps := newTestRegistry(t)
	require.NoError(t, caps.GrantString("agent-1", "test:*:*"))

	reg.Register(echoSchema("test:*:echo"), func(ctx context.Context, params map[string]any) (string, error) {
		return "", errors.New("implementation blew up")
	})

	result := reg.Execute(context.Background(), "agent-1", "test.echo", nil)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "implementation blew up", result.Error)
}

func TestSchemaLookups(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register(echoSchema(), func(ctx context.Context, params map[string]any) (string, error) {
		return "", nil
	})

	schema, ok := reg.GetSchema("test.echo")
	assert.True(t, ok)
	assert.Equal(t, "test.echo", schema.Name)

	_, ok = reg.GetSchema("missing")
	assert.False(t, ok)

	assert.Len(t, reg.List(), 1)
	assert.Equal(t, []string{"test.echo"}, reg.Names())
	assert.Len(t, reg.SchemasFor([]string{"test.echo", "missing"}), 1)
}
