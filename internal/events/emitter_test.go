package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentos/agentos/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(AgentSpawned, "agent-1", map[string]any{"name": "worker"})

	assert.Len(t, ev.ID, 8)
	assert.Equal(t, AgentSpawned, ev.Type)
	assert.Equal(t, "agent-1", ev.AgentID)
	assert.Equal(t, "worker", ev.Data["name"])
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEmitterDeliversInOrder(t *testing.T) {
	emitter := NewEmitter(testLogger(t))

	var order []int
	emitter.OnEvent(func(ev *Event) error {
		order = append(order, 1)
		return nil
	})
	emitter.OnEvent(func(ev *Event) error {
		order = append(order, 2)
		return nil
	})

	emitter.Emit(NewEvent(AgentStarted, "agent-1", nil))

	assert.Equal(t, []int{1, 2}, order)
}

func TestEmitterIsolatesFailingHandlers(t *testing.T) {
	emitter := NewEmitter(testLogger(t))

	var delivered int
	emitter.OnEvent(func(ev *Event) error {
		return errors.New("handler failed")
	})
	emitter.OnEvent(func(ev *Event) error {
		panic("handler panicked")
	})
	emitter.OnEvent(func(ev *Event) error {
		delivered++
		return nil
	})

	emitter.Emit(NewEvent(ToolExecuted, "agent-1", nil))

	assert.Equal(t, 1, delivered)
}

func TestEmitterNoHandlers(t *testing.T) {
	emitter := NewEmitter(testLogger(t))

	// Should not panic with zero handlers.
	emitter.Emit(NewEvent(RuntimeStarted, "", nil))
}
